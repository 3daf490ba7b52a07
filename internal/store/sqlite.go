package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gwlsn/vidrelay/internal/jobs"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS task_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, id);
CREATE INDEX IF NOT EXISTS idx_task_events_kind_created ON task_events(kind, created_at);
`

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db   *sql.DB
	mu   sync.Mutex // Serializes writes
	path string
}

// NewSQLiteJournal opens (or creates) the journal database at dbPath.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL lets readers (the journal command) run while the worker writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	case version > schemaVersion:
		db.Close()
		return nil, fmt.Errorf("journal schema version %d is newer than supported %d", version, schemaVersion)
	}

	return &SQLiteJournal{db: db, path: dbPath}, nil
}

// Record appends one entry.
func (s *SQLiteJournal) Record(ctx context.Context, e jobs.JournalEntry) error {
	if e.TaskID == "" {
		return errors.New("journal entry without task id")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, kind, from_state, to_state, path, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.TaskID, string(e.Kind), string(e.From), string(e.To), e.Path, e.Detail, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// History returns a task's entries in insertion order.
func (s *SQLiteJournal) History(ctx context.Context, taskID string) ([]jobs.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, from_state, to_state, path, detail, created_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Unfinished finds tasks whose most recent transition is not done.
func (s *SQLiteJournal) Unfinished(ctx context.Context) ([]Orphan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.task_id,
			COALESCE((
				SELECT q.path FROM task_events q
				WHERE q.task_id = e.task_id AND q.to_state = ?
				ORDER BY q.id LIMIT 1
			), ''),
			e.to_state,
			e.created_at
		FROM task_events e
		WHERE e.id IN (
			SELECT MAX(id) FROM task_events WHERE kind = ? GROUP BY task_id
		)
		AND e.to_state != ?
		ORDER BY e.id
	`, string(jobs.StateQueued), string(jobs.EntryTransition), string(jobs.StateDone))
	if err != nil {
		return nil, fmt.Errorf("query unfinished: %w", err)
	}
	defer rows.Close()

	var orphans []Orphan
	for rows.Next() {
		var o Orphan
		var state, at string
		if err := rows.Scan(&o.TaskID, &o.InputPath, &state, &at); err != nil {
			return nil, fmt.Errorf("scan unfinished: %w", err)
		}
		o.LastState = jobs.State(state)
		o.At = parseTime(at)
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// CleanupFailures lists deletion failures recorded since the given time.
func (s *SQLiteJournal) CleanupFailures(ctx context.Context, since time.Time) ([]jobs.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, kind, from_state, to_state, path, detail, created_at
		FROM task_events
		WHERE kind = ? AND created_at >= ?
		ORDER BY id
	`, string(jobs.EntryCleanupFailed), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query cleanup failures: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Prune removes entries recorded before the cutoff.
func (s *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM task_events WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteJournal) Path() string {
	return s.path
}

func scanEntries(rows *sql.Rows) ([]jobs.JournalEntry, error) {
	var entries []jobs.JournalEntry
	for rows.Next() {
		var e jobs.JournalEntry
		var kind, from, to, at string
		if err := rows.Scan(&e.TaskID, &kind, &from, &to, &e.Path, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = jobs.EntryKind(kind)
		e.From = jobs.State(from)
		e.To = jobs.State(to)
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Timestamps are fixed-width UTC so string comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
