// Package gcs archives fetched pages in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config names the archive bucket.
type Config struct {
	Bucket string
	// CacheControl is stored on every object. Archived pages never change,
	// so the default marks them immutable.
	CacheControl string
}

// BlobStore writes one object per run page.
type BlobStore struct {
	client       *storage.Client
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = "public, max-age=31536000, immutable"
	}
	return &BlobStore{
		client:       client,
		bucket:       client.Bucket(bucket),
		name:         bucket,
		cacheControl: cacheControl,
	}, nil
}

// Open dials GCS with Application Default Credentials unless opts override
// them, and owns the resulting client.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// PutObject uploads the page in a single request with a CRC32C checksum so
// a truncated body is rejected server side. It returns the gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	page, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	w := s.bucket.Object(path).NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	w.CRC32C = crc32.Checksum(page, castagnoli)
	w.SendCRC32C = true

	if _, err := w.Write(page); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, path), nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
