// Package blob provides durable, name-keyed storage for uploaded file bytes.
//
// Keys are the file names supplied by the user, not content hashes: two
// uploads with different names never collide, and re-uploading a name
// overwrites the previous bytes. Blobs are not tied to sessions.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/csvchat/pkg/core"
)

// ErrNotFound is returned by Get when no blob is stored under a name.
var ErrNotFound = errors.New("blob not found")

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config selects and configures a blob backend.
type Config struct {
	Backend string
	// Path is the badger directory.
	Path string
	// Bucket and Prefix address the GCS location.
	Bucket string
	Prefix string
	// CredentialsFile is an optional service account key for GCS.
	CredentialsFile string
	Logger          *slog.Logger
}

// Open creates the blob store described by cfg.
func Open(ctx context.Context, cfg Config) (core.BlobStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendBadger:
		return OpenBadger(BadgerConfig{Path: cfg.Path, SyncWrites: true, Logger: cfg.Logger})
	case BackendMemory:
		return OpenBadger(BadgerConfig{InMemory: true, Logger: cfg.Logger})
	case BackendGCS:
		return OpenGCS(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
			Logger:          cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q (available: %s, %s, %s)",
			cfg.Backend, BackendBadger, BackendGCS, BackendMemory)
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("blob name is required")
	}
	return nil
}
