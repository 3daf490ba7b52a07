package jobs

import (
	"context"
	"time"
)

// EntryKind classifies a journal entry
type EntryKind string

const (
	EntryTransition    EntryKind = "transition"
	EntryCleanupFailed EntryKind = "cleanup_failed"
)

// JournalEntry is one audit record for a task.
// From is empty for the initial queued entry.
type JournalEntry struct {
	TaskID string    `json:"task_id"`
	Kind   EntryKind `json:"kind"`
	From   State     `json:"from,omitempty"`
	To     State     `json:"to,omitempty"`
	Path   string    `json:"path,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Journal persists task transitions and cleanup failures.
// Implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}
