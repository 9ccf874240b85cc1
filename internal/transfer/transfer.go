// Package transfer moves request files between object storage and a
// request workspace. Downloads stage remote inputs locally before
// invocation; uploads publish local outputs under fresh, non-colliding
// keys after invocation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrObjectNotFound marks a missing remote object. Permanent: the
	// object will not appear by retrying.
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied marks a storage-level authorization failure.
	ErrAccessDenied = errors.New("object access denied")
)

// FileURI is a parsed s3://bucket/key reference.
type FileURI struct {
	Bucket string
	Key    string
}

func (u FileURI) String() string {
	return "s3://" + u.Bucket + "/" + u.Key
}

// ParseURI parses an s3://bucket/key reference. The key must be
// non-empty: a bare bucket is not a file.
func ParseURI(raw string) (FileURI, error) {
	const scheme = "s3://"
	if !strings.HasPrefix(raw, scheme) {
		return FileURI{}, fmt.Errorf("unsupported file uri %q: expected s3://bucket/key", raw)
	}
	rest := strings.TrimPrefix(raw, scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return FileURI{}, fmt.Errorf("malformed file uri %q: expected s3://bucket/key", raw)
	}
	return FileURI{Bucket: bucket, Key: key}, nil
}

// Store is the raw object operation pair the retrying service wraps.
type Store interface {
	Download(ctx context.Context, bucket, key, localPath string) error
	Upload(ctx context.Context, bucket, key, localPath string) error
}

// Service performs downloads and uploads with bounded retry. Transient
// failures (network, 5xx-class storage errors) are retried; permanent
// failures (missing object, denied access) are returned immediately.
type Service struct {
	store        Store
	logger       *slog.Logger
	bucket       string
	maxAttempts  int
	retryBackoff time.Duration
}

func NewService(store Store, outputBucket string, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		logger:       logger,
		bucket:       outputBucket,
		maxAttempts:  3,
		retryBackoff: 500 * time.Millisecond,
	}
}

// Download fetches uri into dir, naming the local copy after the
// parameter it feeds so distinct parameters never clobber each other.
// Returns the local path.
func (s *Service) Download(ctx context.Context, uri FileURI, dir, paramName string) (string, error) {
	localPath := filepath.Join(dir, "input_"+paramName+filepath.Ext(uri.Key))
	err := s.withRetry(ctx, "download", uri, func() error {
		return s.store.Download(ctx, uri.Bucket, uri.Key, localPath)
	})
	if err != nil {
		return "", err
	}
	return localPath, nil
}

// Upload publishes localPath to the output bucket under a
// date-partitioned key scoped to the request. The uuid segment keeps
// keys collision-free even when one request uploads many files with
// the same extension.
func (s *Service) Upload(ctx context.Context, localPath, requestID string) (FileURI, error) {
	now := time.Now().UTC()
	key := fmt.Sprintf("outputs/%04d/%02d/%02d/%s/%s%s",
		now.Year(), now.Month(), now.Day(), requestID, uuid.NewString(), filepath.Ext(localPath))
	uri := FileURI{Bucket: s.bucket, Key: key}
	err := s.withRetry(ctx, "upload", uri, func() error {
		return s.store.Upload(ctx, uri.Bucket, uri.Key, localPath)
	})
	if err != nil {
		return FileURI{}, err
	}
	return uri, nil
}

func (s *Service) withRetry(ctx context.Context, op string, uri FileURI, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrObjectNotFound) || errors.Is(lastErr, ErrAccessDenied) {
			return fmt.Errorf("%s %s: %w", op, uri, lastErr)
		}
		if attempt == s.maxAttempts {
			break
		}
		if s.logger != nil {
			s.logger.Warn("object transfer retrying", "op", op, "uri", uri.String(), "attempt", attempt, "error", lastErr)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s %s: %w", op, uri, ctx.Err())
		case <-time.After(s.retryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s %s after %d attempts: %w", op, uri, s.maxAttempts, lastErr)
}
