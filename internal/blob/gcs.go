package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig addresses a bucket location for blob storage.
type GCSConfig struct {
	Bucket string
	Prefix string
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
	Logger          *slog.Logger
}

// GCSStore stores blobs as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// OpenGCS creates a GCS-backed blob store.
func OpenGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required for gcs blob store")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func (s *GCSStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads data under name, replacing any previous object.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectName(name))
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}

	s.logger.Debug("stored blob", slog.String("bucket", s.bucket), slog.String("name", name), slog.Int("bytes", len(data)))
	return nil
}

// Get downloads the object stored under name.
func (s *GCSStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the object stored under name. Missing objects are not an error.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	err := s.client.Bucket(s.bucket).Object(s.objectName(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", name, err)
	}
	return nil
}

// List returns every object under the configured prefix.
func (s *GCSStore) List(ctx context.Context) ([]core.BlobInfo, error) {
	query := &storage.Query{}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}

	infos := []core.BlobInfo{}
	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		infos = append(infos, core.BlobInfo{
			Name: strings.TrimPrefix(attrs.Name, query.Prefix),
			Size: attrs.Size,
		})
	}
	return infos, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ core.BlobStore = (*GCSStore)(nil)
