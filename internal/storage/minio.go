// Package storage keeps call artifacts in MinIO.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"realtime-call-translator/internal/config"
)

var ErrDisabled = errors.New("minio disabled")

type MinioClient struct {
	client *minio.Client
	put    func(ctx context.Context, key string, data []byte, contentType string) (minio.UploadInfo, error)
	bucket string
}

// NewMinio returns a disabled client when cfg.Enabled is false.
func NewMinio(cfg config.StorageConfig) (*MinioClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio config missing (endpoint, user, password, bucket)")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	m := &MinioClient{client: client, bucket: cfg.Bucket}
	m.put = func(ctx context.Context, key string, data []byte, contentType string) (minio.UploadInfo, error) {
		return client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
	}
	return m, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	if !m.Enabled() || m.client == nil {
		return ErrDisabled
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (m *MinioClient) Enabled() bool {
	return m != nil && m.put != nil
}

func (m *MinioClient) Bucket() string {
	if m == nil {
		return ""
	}
	return m.bucket
}

func (m *MinioClient) UploadBytes(ctx context.Context, objectKey string, data []byte, contentType string) (string, int64, error) {
	if !m.Enabled() {
		return "", 0, ErrDisabled
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := m.put(ctx, objectKey, data, contentType)
	if err != nil {
		return "", 0, fmt.Errorf("put %s: %w", objectKey, err)
	}
	return info.ETag, info.Size, nil
}

// ArtifactKey builds a dated object key such as
// "speak/2024/05/01/<id>.mp3" for an artifact of the given MIME type.
func ArtifactKey(kind, id, contentType string, at time.Time) string {
	return SafeObjectKey(kind, at.UTC().Format("2006/01/02"), id+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

func SafeObjectKey(parts ...string) string {
	safeParts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(part, "\\", "/")
		part = strings.Trim(part, "/")
		part = strings.ReplaceAll(part, " ", "_")
		if part == "" {
			continue
		}
		part = path.Clean(part)
		if part == "." || part == ".." || strings.HasPrefix(part, "../") {
			continue
		}
		safeParts = append(safeParts, part)
	}
	return strings.Join(safeParts, "/")
}
