package sessioncache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gofrs/uuid/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds object-store connection parameters.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
}

// MinioCache keeps session state as objects sessions/<id>.json in one bucket.
type MinioCache struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and makes sure the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*MinioCache, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &MinioCache{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(id uuid.UUID) string { return "sessions/" + id.String() + ".json" }

// Load implements Cache.
func (c *MinioCache) Load(ctx context.Context, id uuid.UUID) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, missOr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, missOr(err)
	}
	if len(data) == 0 {
		return nil, ErrCacheMiss
	}
	return data, nil
}

// Save implements Cache.
func (c *MinioCache) Save(ctx context.Context, id uuid.UUID, data []byte) error {
	_, err := c.client.PutObject(ctx, c.bucket, objectKey(id), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put session object: %w", err)
	}
	return nil
}

// Delete implements Cache.
func (c *MinioCache) Delete(ctx context.Context, id uuid.UUID) error {
	err := c.client.RemoveObject(ctx, c.bucket, objectKey(id), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove session object: %w", err)
	}
	return nil
}

func missOr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrCacheMiss
	}
	return fmt.Errorf("get session object: %w", err)
}
