package transfer

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MinIOStore adapts a minio client to the Store interface, mapping
// storage error codes onto the package's permanent-failure sentinels so
// the retry layer can tell transient from hopeless.
type MinIOStore struct {
	client *minio.Client
}

func NewMinIOStore(client *minio.Client) *MinIOStore {
	return &MinIOStore{client: client}
}

func (s *MinIOStore) Download(ctx context.Context, bucket, key, localPath string) error {
	if err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

func (s *MinIOStore) Upload(ctx context.Context, bucket, key, localPath string) error {
	if _, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Message)
	case "AccessDenied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, resp.Message)
	}
	return err
}
