// Package store keeps an audit trail of task transitions and cleanup failures.
// It is not a queue: nothing recorded here is replayed on restart.
package store

import (
	"context"
	"time"

	"github.com/gwlsn/vidrelay/internal/jobs"
)

// Journal defines the audit interface over recorded task entries.
// Implementations must be safe for concurrent use.
type Journal interface {
	jobs.Journal

	// History returns every entry for a task in the order recorded.
	History(ctx context.Context, taskID string) ([]jobs.JournalEntry, error)

	// Unfinished returns tasks whose last transition is not done. These are
	// tasks interrupted by a crash and may have left files on disk.
	Unfinished(ctx context.Context) ([]Orphan, error)

	// CleanupFailures returns cleanup_failed entries recorded at or after since.
	CleanupFailures(ctx context.Context, since time.Time) ([]jobs.JournalEntry, error)

	// Prune deletes entries older than before and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases database resources.
	Close() error
}

// Orphan describes a task that never reached done.
type Orphan struct {
	TaskID    string     `json:"task_id"`
	InputPath string     `json:"input_path"`
	LastState jobs.State `json:"last_state"`
	At        time.Time  `json:"at"`
}

// Ensure SQLiteJournal implements Journal
var _ Journal = (*SQLiteJournal)(nil)
