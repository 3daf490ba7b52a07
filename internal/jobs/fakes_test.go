package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gwlsn/vidrelay/internal/ffmpeg"
	"github.com/gwlsn/vidrelay/internal/upload"
)

type fakeProber struct {
	mu     sync.Mutex
	probes map[string]*ffmpeg.VideoProbe
	errs   map[string]error
	panics map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		probes: make(map[string]*ffmpeg.VideoProbe),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (f *fakeProber) set(path string, width, height int, duration float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[path] = &ffmpeg.VideoProbe{Path: path, Width: width, Height: height, DurationSeconds: duration}
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.VideoProbe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[path] {
		panic("prober exploded")
	}
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if p, ok := f.probes[path]; ok {
		return p, nil
	}
	return &ffmpeg.VideoProbe{Path: path, Width: 1280, Height: 720, DurationSeconds: 10}, nil
}

type fakeTranscoder struct {
	mu       sync.Mutex
	requests []ffmpeg.TranscodeRequest
	fail     map[string]bool
	events   []ffmpeg.ProgressEvent
	gate     chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{fail: make(map[string]bool)}
}

func (f *fakeTranscoder) Run(_ context.Context, req ffmpeg.TranscodeRequest, onProgress func(ffmpeg.ProgressEvent)) (*ffmpeg.TranscodeResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	fail := f.fail[req.InputPath]
	events := f.events
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(time.Millisecond)

	for _, ev := range events {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	if fail {
		// Leave a partial output behind; the controller must clean it up.
		_ = os.WriteFile(req.OutputPath, []byte("partial"), 0644)
		return &ffmpeg.TranscodeResult{ExitCode: 1}, &ffmpeg.TranscodeError{
			Err:      errors.New("ffmpeg exited with code 1"),
			ExitCode: 1,
		}
	}

	if err := os.WriteFile(req.OutputPath, []byte("transcoded"), 0644); err != nil {
		return &ffmpeg.TranscodeResult{ExitCode: -1}, err
	}
	return &ffmpeg.TranscodeResult{Succeeded: true, OutputSizeBytes: int64(len("transcoded"))}, nil
}

func (f *fakeTranscoder) Requests() []ffmpeg.TranscodeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ffmpeg.TranscodeRequest(nil), f.requests...)
}

type fakeUploader struct {
	mu      sync.Mutex
	calls   []string
	outcome upload.Outcome
	err     error
	explode bool
	// sawOutput records whether the output existed at upload time
	sawOutput []bool
}

func (f *fakeUploader) Upload(_ context.Context, localPath, remoteName string) (upload.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteName)
	_, statErr := os.Stat(localPath)
	f.sawOutput = append(f.sawOutput, statErr == nil)
	if f.explode {
		panic("uploader exploded")
	}
	return f.outcome, f.err
}

func (f *fakeUploader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type memJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *memJournal) Record(_ context.Context, e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) states(taskID string) []State {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []State
	for _, e := range j.entries {
		if e.TaskID == taskID && e.Kind == EntryTransition {
			out = append(out, e.To)
		}
	}
	return out
}

func (j *memJournal) kind(taskID string, kind EntryKind) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, e := range j.entries {
		if e.TaskID == taskID && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	dir        string
	prober     *fakeProber
	transcoder *fakeTranscoder
	uploader   *fakeUploader
	journal    *memJournal
	pipeline   *TaskPipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:        t.TempDir(),
		prober:     newFakeProber(),
		transcoder: newFakeTranscoder(),
		uploader:   &fakeUploader{outcome: upload.Outcome{Succeeded: true, Detail: "ok"}},
		journal:    &memJournal{},
	}
	h.pipeline = NewPipeline(Options{
		Prober:     h.prober,
		Transcoder: h.transcoder,
		Uploader:   h.uploader,
		Journal:    h.journal,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.pipeline.Shutdown(ctx)
	})
	return h
}

// input creates a source file in the harness directory
func (h *harness) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("source "+name), 0644))
	return path
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.pipeline.Shutdown(ctx))
}

func (h *harness) remaining(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func doneStates(final State) []State {
	return []State{StateQueued, StateTranscoding, StateTranscodeSucceeded, StateUploading, final, StateDone}
}

func taskName(producer, i int) string {
	return fmt.Sprintf("p%d-%02d.mp4", producer, i)
}

// flakyJournal panics once, after recording the first entry that reaches on.
type flakyJournal struct {
	memJournal
	on    State
	fired atomic.Bool
}

func (j *flakyJournal) Record(ctx context.Context, e JournalEntry) error {
	_ = j.memJournal.Record(ctx, e)
	if e.Kind == EntryTransition && e.To == j.on && j.fired.CompareAndSwap(false, true) {
		panic("journal exploded at " + string(e.To))
	}
	return nil
}
