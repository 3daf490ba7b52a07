package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/gwlsn/vidrelay/internal/logger"
	"github.com/gwlsn/vidrelay/internal/upload"
)

// Controller owns the per-task state machine: it performs the deletions
// each transition requires and hands successful outputs to the uploader.
type Controller struct {
	uploader upload.Uploader
	journal  Journal
	notify   func(TaskEvent)

	// removeFile is os.Remove outside tests
	removeFile func(string) error
}

func newController(uploader upload.Uploader, journal Journal, notify func(TaskEvent)) *Controller {
	if notify == nil {
		notify = func(TaskEvent) {}
	}
	return &Controller{
		uploader:   uploader,
		journal:    journal,
		notify:     notify,
		removeFile: os.Remove,
	}
}

// taskRun is one task's walk through the state machine. Only the worker touches it.
type taskRun struct {
	c           *Controller
	task        *Task
	state       State
	log         *slog.Logger
	cleanupErrs []*CleanupError
}

// queued journals a task's arrival. It must run before the worker can see the task.
func (c *Controller) queued(task *Task) {
	c.record(task.ID, JournalEntry{
		Kind: EntryTransition,
		To:   StateQueued,
		Path: task.InputPath,
		At:   task.CreatedAt,
	})
}

// begin starts the worker's run of a task already journaled by queued.
func (c *Controller) begin(task *Task) *taskRun {
	return &taskRun{c: c, task: task, state: StateQueued, log: logger.ForTask(task.ID)}
}

// advance moves the run to state to, journaling and broadcasting the change.
func (r *taskRun) advance(to State, detail string) error {
	if !CanTransition(r.state, to) {
		err := invalidTransitionError(r.task.ID, r.state, to)
		r.log.Error("Illegal task transition", "error", err)
		return err
	}

	from := r.state
	r.state = to
	r.log.Debug("Task state changed", "from", from, "to", to)

	r.c.record(r.task.ID, JournalEntry{Kind: EntryTransition, From: from, To: to, Detail: detail})
	r.c.notify(TaskEvent{Type: EventState, TaskID: r.task.ID, State: to, Detail: detail})
	return nil
}

// transcodeFailed deletes the input, never uploads, and finishes the task.
// The leftover output, if any, is removed too. It returns cause.
func (r *taskRun) transcodeFailed(cause error) error {
	if err := r.advance(StateTranscodeFailed, errorDetail(cause)); err != nil {
		return errors.Join(cause, err)
	}
	r.remove(r.task.InputPath, "input")
	r.remove(r.task.OutputPath, "output")
	if err := r.advance(StateDone, ""); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// transcodeSucceeded deletes the input, uploads the output, then deletes the
// output whatever the upload outcome. A failed upload comes back as *UploadError.
func (r *taskRun) transcodeSucceeded(ctx context.Context) error {
	if err := r.advance(StateTranscodeSucceeded, ""); err != nil {
		return err
	}
	r.remove(r.task.InputPath, "input")

	if err := r.advance(StateUploading, r.task.RemoteName); err != nil {
		return err
	}

	var uploadErr error
	outcome, err := r.c.callUploader(ctx, r.task)
	if err == nil && outcome.Succeeded {
		r.log.Info("Upload succeeded", "remote", r.task.RemoteName, "detail", outcome.Detail)
		if err := r.advance(StateUploadSucceeded, outcome.Detail); err != nil {
			return err
		}
	} else {
		uploadErr = &UploadError{
			TaskID:     r.task.ID,
			RemoteName: r.task.RemoteName,
			Detail:     outcome.Detail,
			Err:        err,
		}
		if err := r.advance(StateUploadFailed, uploadErr.Error()); err != nil {
			return errors.Join(uploadErr, err)
		}
	}

	r.remove(r.task.OutputPath, "output")

	if err := r.advance(StateDone, ""); err != nil {
		return errors.Join(uploadErr, err)
	}
	return uploadErr
}

// abort finishes a run interrupted by a panic so that neither file outlives
// the task. It reports whether the run reached done.
func (r *taskRun) abort(cause error) bool {
	detail := errorDetail(cause)
	switch r.state {
	case StateQueued:
		if !r.advanceQuiet(StateTranscoding, "") {
			break
		}
		fallthrough
	case StateTranscoding:
		if r.advanceQuiet(StateTranscodeFailed, detail) {
			r.remove(r.task.InputPath, "input")
			r.remove(r.task.OutputPath, "output")
			r.advanceQuiet(StateDone, "")
		}
	case StateTranscodeSucceeded:
		r.remove(r.task.InputPath, "input")
		if !r.advanceQuiet(StateUploading, r.task.RemoteName) {
			break
		}
		fallthrough
	case StateUploading:
		if r.advanceQuiet(StateUploadFailed, detail) {
			r.remove(r.task.OutputPath, "output")
			r.advanceQuiet(StateDone, "")
		}
	case StateTranscodeFailed, StateUploadSucceeded, StateUploadFailed:
		r.remove(r.task.InputPath, "input")
		r.remove(r.task.OutputPath, "output")
		r.advanceQuiet(StateDone, "")
	}
	return r.state == StateDone
}

// advanceQuiet is advance for the panic path: a second panic from the
// journal or a subscriber is swallowed and the state change still stands.
func (r *taskRun) advanceQuiet(to State, detail string) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Panic while finishing task", "to", to, "error", rec)
			ok = r.state == to
		}
	}()
	return r.advance(to, detail) == nil
}

// callUploader invokes the uploader, turning a panic into an error.
func (c *Controller) callUploader(ctx context.Context, task *Task) (out upload.Outcome, err error) {
	if c.uploader == nil {
		return upload.Outcome{}, errors.New("no uploader configured")
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = upload.Outcome{Detail: "uploader panicked"}
			err = fmt.Errorf("uploader panic: %v", rec)
		}
	}()

	return c.uploader.Upload(ctx, task.OutputPath, task.RemoteName)
}

// remove deletes path. A missing file counts as already deleted; any other
// failure is logged and journaled, and the run carries on.
func (r *taskRun) remove(path, role string) {
	if path == "" {
		return
	}

	err := r.c.removeFile(path)
	switch {
	case err == nil:
		r.log.Debug("Removed file", "role", role, "path", path)
	case errors.Is(err, fs.ErrNotExist):
		r.log.Debug("File already gone", "role", role, "path", path)
	default:
		cerr := &CleanupError{TaskID: r.task.ID, Path: path, Role: role, Err: err}
		r.cleanupErrs = append(r.cleanupErrs, cerr)

		r.log.Warn("Cleanup failed", "path", path, "role", role, "error", err)
		r.c.record(r.task.ID, JournalEntry{Kind: EntryCleanupFailed, Path: path, Detail: cerr.Error()})
		r.c.notify(TaskEvent{Type: EventCleanup, TaskID: r.task.ID, State: r.state, Detail: cerr.Error()})
	}
}

// record writes to the journal, if any. Journal failures are only logged.
func (c *Controller) record(taskID string, entry JournalEntry) {
	if c.journal == nil {
		return
	}

	entry.TaskID = taskID
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	if err := c.journal.Record(context.Background(), entry); err != nil {
		logger.Warn("Journal write failed", "task_id", taskID, "kind", entry.Kind, "error", err)
	}
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
