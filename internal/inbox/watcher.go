// Package inbox turns files dropped into a directory into pipeline tasks.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/gwlsn/vidrelay/internal/ffmpeg"
	"github.com/gwlsn/vidrelay/internal/logger"
)

// DefaultSettle is how long a file must stay unchanged before it is enqueued.
const DefaultSettle = 2 * time.Second

// Enqueuer accepts a local file and the name to store it under remotely.
type Enqueuer interface {
	EnqueueTask(localPath, remoteName string) (string, error)
}

// Watcher enqueues video files that appear in a directory once writes to
// them have stopped for the settle period.
type Watcher struct {
	dir    string
	enq    Enqueuer
	settle time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	claimed map[string]bool // enqueued and not yet removed
	stopped bool
}

// New creates a watcher for dir. A settle of zero uses DefaultSettle.
func New(dir string, enq Enqueuer, settle time.Duration) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: %s is not a directory", dir)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:     dir,
		enq:     enq,
		settle:  settle,
		timers:  make(map[string]*time.Timer),
		claimed: make(map[string]bool),
	}, nil
}

// Accept reports whether path is a candidate for transcoding.
func Accept(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if strings.HasSuffix(strings.ToLower(base), ffmpeg.TranscodedSuffix) {
		return false
	}
	return ffmpeg.IsVideoFile(base)
}

// Run watches until ctx is done. Files already present are enqueued first.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	logger.Info("Watching inbox", "dir", w.dir, "settle", w.settle)

	w.scan()
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Inbox watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("Inbox scan failed", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.schedule(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.forget(ev.Name)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		w.schedule(ev.Name)
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	if !Accept(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.claimed[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.claimed, path)
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.stopped || w.claimed[path] {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.mu.Unlock()
		return
	}
	w.claimed[path] = true
	w.mu.Unlock()

	id, err := w.enq.EnqueueTask(path, filepath.Base(path))
	if err != nil {
		logger.Warn("Inbox enqueue failed", "path", path, "error", err)
		w.mu.Lock()
		delete(w.claimed, path)
		w.mu.Unlock()
		return
	}
	logger.Info("Inbox file enqueued", "task_id", id, "path", path, "size", humanize.Bytes(uint64(info.Size())))
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
