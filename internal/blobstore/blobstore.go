// Package blobstore turns downloaded media bodies into short-lived object
// URLs the player can render, and revokes them when playback moves on.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
)

var (
	// ErrTooLarge is returned when a body exceeds the configured limit
	ErrTooLarge = errors.New("blobstore: blob exceeds size limit")
	// ErrNotFound is returned for unknown or revoked object URLs
	ErrNotFound = errors.New("blobstore: object url not found")
)

// Store creates and revokes object URLs
type Store interface {
	// Create stores r and returns a URL serving it. size may be -1 when
	// the length is unknown.
	Create(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
	// Revoke releases the object behind url
	Revoke(ctx context.Context, url string) error
}

// New builds the store selected by playback.blobBackend
func New(cfg *config.Config, logger *logging.Logger) (Store, error) {
	switch cfg.Playback.BlobBackend {
	case "", memoryBackend:
		return NewMemory(cfg.Server.PublicURL, cfg.Playback.MaxBlobSize), nil
	case minioBackend:
		return NewMinIO(cfg.Storage, cfg.Playback.MaxBlobSize, logger)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", cfg.Playback.BlobBackend)
	}
}
