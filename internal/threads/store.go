// Package threads persists conversation threads as append-only message logs.
//
// A thread is an identifier plus an ordered log of messages. The store
// assigns each appended message the next sequence number for its thread;
// messages are never updated or deleted afterward, so the log doubles as
// the audit record. Compaction advances a marker over the log instead of
// rewriting it.
package threads

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/strand/internal/config"
	"github.com/haasonsaas/strand/pkg/models"
)

// ErrThreadNotFound is returned when a thread ID does not exist.
var ErrThreadNotFound = errors.New("thread not found")

// PersistenceError wraps a storage-layer failure. The run loop treats any
// PersistenceError as fatal: a log that cannot be read or extended cannot
// host a run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Store is the persistence contract for threads and their message logs.
type Store interface {
	// CreateThread persists a new thread. An empty ID is assigned.
	CreateThread(ctx context.Context, thread *models.Thread) error

	// GetThread retrieves a thread by ID.
	GetThread(ctx context.Context, id string) (*models.Thread, error)

	// ListThreads returns threads ordered by most recent activity.
	ListThreads(ctx context.Context, opts ListOptions) ([]*models.Thread, error)

	// Append assigns the message the thread's next sequence number and
	// persists it in one atomic step: either the message lands with its
	// sequence or nothing is written. Appending to an unknown thread
	// creates it. Returns the assigned sequence.
	Append(ctx context.Context, threadID string, msg *models.Message) (int64, error)

	// Read returns messages in sequence order from the marker onward
	// (Seq >= since). A since of 0 reads the whole log. Reads that pass
	// the compaction marker therefore see the summary message itself
	// followed by everything after it.
	Read(ctx context.Context, threadID string, since int64) ([]*models.Message, error)

	// Close releases underlying resources.
	Close() error
}

// ListOptions configures thread listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// Open builds a Store from database configuration.
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		pg := DefaultPostgresConfig()
		pg.URL = cfg.URL
		if cfg.MaxConnections > 0 {
			pg.MaxOpenConns = cfg.MaxConnections
		}
		if cfg.ConnMaxLifetime > 0 {
			pg.ConnMaxLifetime = cfg.ConnMaxLifetime
		}
		return NewPostgresStore(pg)
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
}
