// Package jobs runs queued files through probe, transcode, upload and cleanup
// on a single lazily started worker.
package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwlsn/vidrelay/internal/ffmpeg"
	"github.com/gwlsn/vidrelay/internal/logger"
	"github.com/gwlsn/vidrelay/internal/upload"
)

// Prober extracts stream metadata from a file
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.VideoProbe, error)
}

// Transcoder runs one transcode to completion
type Transcoder interface {
	Run(ctx context.Context, req ffmpeg.TranscodeRequest, onProgress func(ffmpeg.ProgressEvent)) (*ffmpeg.TranscodeResult, error)
}

// Options wires a pipeline to its collaborators.
type Options struct {
	Prober     Prober
	Transcoder Transcoder
	Uploader   upload.Uploader
	Journal    Journal // optional

	// WorkDir holds transcoded outputs. Empty means next to the input.
	WorkDir string

	// MinFreeDisk triggers a warning at enqueue time when the work
	// directory has less free space. Zero disables the check.
	MinFreeDisk uint64
}

// EventType identifies a TaskEvent
type EventType string

const (
	EventQueued   EventType = "queued"
	EventState    EventType = "state"
	EventProgress EventType = "progress"
	EventCleanup  EventType = "cleanup_failed"
)

// TaskEvent is broadcast to subscribers as tasks move through the pipeline
type TaskEvent struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	State    State     `json:"state,omitempty"`
	Percent  float64   `json:"percent,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// TaskPipeline is a multi-producer, single-consumer transcode queue.
// Enqueue never blocks; one worker processes tasks strictly in order.
type TaskPipeline struct {
	opts     Options
	cleanup  *Controller
	sequence atomic.Uint64

	// mu guards queue, started and closed
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	started bool
	closed  bool
	done    chan struct{}

	subsMu      sync.RWMutex
	subscribers map[chan TaskEvent]struct{}
}

// NewPipeline creates a pipeline. The worker is not started until the first enqueue.
func NewPipeline(opts Options) *TaskPipeline {
	p := &TaskPipeline{
		opts:        opts,
		done:        make(chan struct{}),
		subscribers: make(map[chan TaskEvent]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.cleanup = newController(opts.Uploader, opts.Journal, p.broadcast)
	return p
}

// NewTask builds a task for localPath with a pipeline-unique ID.
func (p *TaskPipeline) NewTask(localPath, remoteName string) *Task {
	workDir := p.opts.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(localPath)
	}
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	return &Task{
		ID:         p.generateID(),
		InputPath:  localPath,
		OutputPath: ffmpeg.BuildOutputPath(localPath, workDir),
		RemoteName: SafeFilename(remoteName),
		CreatedAt:  time.Now(),
	}
}

// generateID combines wall time with a per-pipeline counter so concurrent
// producers never collide.
func (p *TaskPipeline) generateID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), p.sequence.Add(1))
}

// EnqueueTask is the pipeline's inbound operation: it builds a task and queues it.
func (p *TaskPipeline) EnqueueTask(localPath, remoteName string) (string, error) {
	task := p.NewTask(localPath, remoteName)
	if err := p.Enqueue(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Enqueue appends task to the queue and starts the worker if needed.
func (p *TaskPipeline) Enqueue(task *Task) error {
	if task == nil {
		return fmt.Errorf("enqueue: nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	// Journaled under mu so the entry exists before the worker can dequeue.
	p.cleanup.queued(task)
	p.queue = append(p.queue, task)
	pending := len(p.queue)
	if !p.started {
		p.started = true
		go p.run()
	}
	// Non-blocking, so it is safe under mu and keeps queued ahead of the worker's events.
	p.broadcast(TaskEvent{Type: EventQueued, TaskID: task.ID, State: StateQueued})
	p.cond.Signal()
	p.mu.Unlock()

	logger.Info("Task queued",
		"task_id", task.ID,
		"input", task.InputPath,
		"remote", task.RemoteName,
		"pending", pending)

	warnIfLowDisk(task.ID, filepath.Dir(task.OutputPath), p.opts.MinFreeDisk)
	return nil
}

// Pending returns the number of tasks waiting for the worker
func (p *TaskPipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.queue {
		if t != nil {
			n++
		}
	}
	return n
}

// Shutdown stops accepting tasks and waits until every queued task has
// finished. It returns early with ctx's error if ctx is done first; the
// worker keeps draining in that case.
func (p *TaskPipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.started {
			// Sentinel goes behind every pending task.
			p.queue = append(p.queue, nil)
			p.cond.Signal()
		} else {
			close(p.done)
		}
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the worker has exited after Shutdown
func (p *TaskPipeline) Done() <-chan struct{} {
	return p.done
}

// Subscribe returns a channel that receives task events
func (p *TaskPipeline) Subscribe() chan TaskEvent {
	ch := make(chan TaskEvent, 100)

	p.subsMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription
func (p *TaskPipeline) Unsubscribe(ch chan TaskEvent) {
	p.subsMu.Lock()
	delete(p.subscribers, ch)
	p.subsMu.Unlock()

	close(ch)
}

// broadcast sends an event to all subscribers
func (p *TaskPipeline) broadcast(event TaskEvent) {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}

	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	for ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}
