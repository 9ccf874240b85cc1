package objectstore

import (
	"errors"
	"strings"

	"github.com/prefab-labs/prefab-gateway/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketOutputs string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PREFAB_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("PREFAB_S3_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("PREFAB_S3_ACCESS_KEY", "prefab"),
		SecretKey:     env.String("PREFAB_S3_SECRET_KEY", "prefabminio"),
		Region:        env.String("PREFAB_S3_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketOutputs: env.String("PREFAB_S3_BUCKET_OUTPUTS", "prefab-outputs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketOutputs) == "" {
		return errors.New("outputs bucket is required")
	}
	return nil
}
