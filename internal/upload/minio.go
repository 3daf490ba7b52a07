package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/gwlsn/vidrelay/internal/config"
	"github.com/gwlsn/vidrelay/internal/logger"
)

// MinIOUploader puts finished files into an S3-compatible bucket.
type MinIOUploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOUploader connects to the endpoint and makes sure the bucket exists.
func NewMinIOUploader(ctx context.Context, cfg config.MinIOConfig) (*MinIOUploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("empty MinIO bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}

	return &MinIOUploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cleanPrefix(cfg.Prefix),
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload streams localPath into bucket/prefix/remoteName.
func (u *MinIOUploader) Upload(ctx context.Context, localPath, remoteName string) (Outcome, error) {
	objectName, err := objectName(u.prefix, remoteName)
	if err != nil {
		return Outcome{Detail: "invalid remote name"}, err
	}

	info, err := u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return Outcome{Detail: "put object failed"}, fmt.Errorf("put object: %w", err)
	}

	logger.Info("Uploaded to MinIO",
		"bucket", u.bucket,
		"object", objectName,
		"size", humanize.Bytes(uint64(info.Size)))

	return Outcome{Succeeded: true, Detail: fmt.Sprintf("etag %s", info.ETag)}, nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}

// objectName joins prefix and name, rejecting names that escape the prefix.
func objectName(prefix, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("empty remote name")
	}

	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid remote name: %s", name)
	}
	return prefix + strings.TrimPrefix(clean, "/"), nil
}
