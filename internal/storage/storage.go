// Package storage persists transcripts and reports. Backends are keyed by
// session_id; the filesystem backend partitions by session start date, the
// postgres backend keeps one row per session.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/parley/internal/aar"
)

var (
	// ErrNotFound reports that no artifact exists for the session.
	ErrNotFound = errors.New("not found")
	// ErrUnimplemented reports a configured backend that is not built yet.
	ErrUnimplemented = errors.New("storage backend not implemented")
)

// Backend stores and retrieves the two scoring artifacts. Save methods
// return the storage path of the written artifact. SessionIDs lists every
// session with a stored transcript, ordered by session start time.
type Backend interface {
	SaveTranscript(ctx context.Context, transcript *aar.RawTranscript) (string, error)
	LoadTranscript(ctx context.Context, sessionID string) (*aar.RawTranscript, error)
	SaveReport(ctx context.Context, report *aar.Report) (string, error)
	LoadReport(ctx context.Context, sessionID string) (*aar.Report, error)
	SessionIDs(ctx context.Context) ([]string, error)
	Close()
}

// Config selects and parameterizes a backend.
type Config struct {
	Type        string // filesystem, postgres, s3, r2
	Path        string // filesystem base directory
	DatabaseURL string // postgres connection string
}

// New builds the configured backend. S3 and R2 are recognized but not
// implemented; selecting them is a startup error, not a silent fallback.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "filesystem":
		return NewFilesystem(cfg.Path, logger)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, logger)
	case "s3", "r2":
		return nil, fmt.Errorf("%s storage: %w", cfg.Type, ErrUnimplemented)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
