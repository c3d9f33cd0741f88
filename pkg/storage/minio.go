// Package storage keeps raw uploads in a MinIO bucket for the async
// ingestion path.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"carenotes-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps a MinIO connection bound to one bucket.
type Client struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, cfg config.MinIOConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.BucketName, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.BucketName, err)
		}
	}
	return &Client{client: mc, bucket: cfg.BucketName}, nil
}

// Put stores an object.
func (c *Client) Put(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Get reads an object fully into memory.
func (c *Client) Get(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", objectName, err)
	}
	return data, nil
}
