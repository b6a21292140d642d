// Package store persists telemetry readings: a single mutable "latest" slot
// and an append-only history log. Two strategies are provided, a file-backed
// store and a relational (SQLite) store, and they behave the same from the
// caller's point of view.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
)

// ErrNotFound is returned by GetLatest when no reading has been stored yet.
var ErrNotFound = errors.New("store: no data yet")

// Store is the storage backend used by the ingestion service and the read
// path. Implementations must be safe for concurrent use.
type Store interface {
	// PutLatest atomically overwrites the latest slot. It stamps
	// ReceivedAt onto the stored copy if it is not already set.
	PutLatest(ctx context.Context, r reading.Reading) error

	// AppendHistory adds one record to the end of the history log.
	AppendHistory(ctx context.Context, r reading.Reading) error

	// GetLatest returns the latest slot, or ErrNotFound.
	GetLatest(ctx context.Context) (reading.Reading, error)

	// GetHistory returns at most limit of the most recent readings in
	// ascending order. It returns an empty slice when there is no data.
	GetHistory(ctx context.Context, limit int) ([]reading.Reading, error)

	// Close releases resources held by the store.
	Close() error
}

// Error reports an I/O failure inside a store operation.
type Error struct {
	Op   string // e.g. "put latest", "append history"
	Path string // file or database path, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Storage modes accepted by Open.
const (
	ModeFile   = "file"
	ModeSQLite = "sqlite"
)

// Config selects and locates a storage strategy.
type Config struct {
	Mode   string // ModeFile or ModeSQLite
	Dir    string // directory for the file-backed store
	DBPath string // database file for the relational store
}

// Open builds the store described by cfg.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Mode {
	case ModeFile, "":
		return NewFileStore(cfg.Dir, logger)
	case ModeSQLite:
		return NewSQLStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("store: unknown mode %q", cfg.Mode)
	}
}

func emptyHistory() []reading.Reading {
	return []reading.Reading{}
}
