// Package artifacts stores rendered CAPTCHA payloads. The core treats the
// payload as an opaque blob; only the reference travels through session state.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store interface {
	// Put stores a payload and returns the reference recorded on the session.
	Put(ctx context.Context, workerID, payload string) (string, error)
	// Get resolves a reference back to the payload.
	Get(ctx context.Context, ref string) (string, error)
}

// InlineStore keeps the payload itself as the reference, so the blob lives
// in the session row. Suitable for the memory store and small images.
type InlineStore struct{}

func NewInlineStore() InlineStore { return InlineStore{} }

func (InlineStore) Put(_ context.Context, _ string, payload string) (string, error) {
	return payload, nil
}

func (InlineStore) Get(_ context.Context, ref string) (string, error) {
	return ref, nil
}

const minioRefPrefix = "minio://"

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore uploads payloads to object storage and hands out
// minio://bucket/object references.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when CAP_ARTIFACT_BACKEND=minio")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "cap-artifacts"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, workerID, payload string) (string, error) {
	object := fmt.Sprintf("%s/%s/%s", workerID, time.Now().UTC().Format("20060102"), uuid.NewString())
	data := []byte(payload)
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", err
	}
	return minioRefPrefix + s.bucket + "/" + object, nil
}

func (s *MinIOStore) Get(ctx context.Context, ref string) (string, error) {
	trimmed := strings.TrimPrefix(ref, minioRefPrefix)
	if trimmed == ref {
		return "", fmt.Errorf("not a minio artifact reference: %q", ref)
	}
	bucket, object, ok := strings.Cut(trimmed, "/")
	if !ok {
		return "", fmt.Errorf("malformed artifact reference: %q", ref)
	}
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
