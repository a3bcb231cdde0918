package external

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore holds facility images.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete succeeds when the object is already gone.
	Delete(ctx context.Context, key string) error
}

type ObjectStoreConfig struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
	Retry           RetryPolicy
}

type GCSObjectStore struct {
	client     *storage.Client
	bucket     string
	publicBase string
	retry      RetryPolicy
}

func NewGCSObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*GCSObjectStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com/" + cfg.Bucket
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &GCSObjectStore{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		retry:      cfg.Retry,
	}, nil
}

func (s *GCSObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Retry(ctx, "object_store", s.retry, func(ctx context.Context) (string, error) {
		w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType

		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return "", fmt.Errorf("failed to write GCS object %s: %w", key, err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
		}
		return s.publicBase + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	})
}

func (s *GCSObjectStore) Delete(ctx context.Context, key string) error {
	_, err := Retry(ctx, "object_store", s.retry, func(ctx context.Context) (struct{}, error) {
		err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return struct{}{}, fmt.Errorf("failed to delete GCS object %s: %w", key, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}
