package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gwlsn/vidrelay/internal/logger"
)

// TranscodedSuffix is appended to the source name to form the output name.
const TranscodedSuffix = ".transcoded.mp4"

// TranscodeResult is the terminal value of one transcode invocation.
type TranscodeResult struct {
	Succeeded       bool          `json:"succeeded"`
	ExitCode        int           `json:"exit_code"`
	OutputSizeBytes int64         `json:"output_size_bytes"`
	Elapsed         time.Duration `json:"elapsed"`
}

// TranscodeError represents a transcode failure with the tail of ffmpeg's stderr
type TranscodeError struct {
	Err      error
	ExitCode int
	Stderr   string
}

func (e *TranscodeError) Error() string {
	return e.Err.Error()
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// EncodeOptions is the low-footprint encoder parameter set. The encoder
// always runs on one thread.
type EncodeOptions struct {
	Quality   int // x264 CRF
	Preset    string
	Tune      string
	ExtraArgs []string
}

// DefaultEncodeOptions matches a single-core host.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Quality: 23,
		Preset:  "ultrafast",
		Tune:    "fastdecode",
	}
}

// TranscodeRequest describes one transcode invocation.
type TranscodeRequest struct {
	InputPath    string
	OutputPath   string
	Decision     ResolutionDecision
	TotalSeconds float64 // 0 disables percent progress
}

// Transcoder wraps ffmpeg transcoding functionality
type Transcoder struct {
	ffmpegPath string
	opts       EncodeOptions
}

// NewTranscoder creates a new Transcoder with the given ffmpeg path
func NewTranscoder(ffmpegPath string, opts EncodeOptions) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath, opts: opts}
}

// BuildArgs returns the ffmpeg argument list for a request.
func (t *Transcoder) BuildArgs(req TranscodeRequest) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y", // Overwrite output without asking
		"-i", req.InputPath,
	}
	if graph := req.Decision.FilterGraph(); graph != "" {
		args = append(args, "-vf", graph)
	}
	args = append(args,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(t.opts.Quality),
		"-preset", t.opts.Preset,
	)
	if t.opts.Tune != "" {
		args = append(args, "-tune", t.opts.Tune)
	}
	args = append(args,
		"-threads", "1",
		"-c:a", "aac",
	)
	args = append(args, t.opts.ExtraArgs...)
	args = append(args, req.OutputPath)
	return args
}

// Run launches ffmpeg and blocks until it exits, calling onProgress for every
// position marker read from stderr. The returned result is never nil.
// A non-zero exit yields Succeeded=false plus a *TranscodeError.
func (t *Transcoder) Run(ctx context.Context, req TranscodeRequest, onProgress func(ProgressEvent)) (*TranscodeResult, error) {
	startTime := time.Now()
	result := &TranscodeResult{ExitCode: -1}

	args := t.BuildArgs(req)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return result, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// If onProgress panics, ffmpeg must not outlive the call.
	reaped := false
	defer func() {
		if reaped {
			return
		}
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.Remove(req.OutputPath)
	}()

	tail := newTailBuffer(4096)
	stream := io.TeeReader(stderr, tail)

	for ev := range ProgressEvents(stream, req.TotalSeconds) {
		logger.Debug("FFmpeg progress",
			"elapsed", ev.ElapsedSeconds,
			"total", ev.TotalSeconds,
			"percent", ev.Percent)
		if onProgress != nil {
			onProgress(ev)
		}
	}
	// Drain anything the scanner left behind so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stream)

	waitErr := cmd.Wait()
	reaped = true
	result.Elapsed = time.Since(startTime)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		// Clean up partial output file
		os.Remove(req.OutputPath)

		stderrTail := tail.String()
		return result, &TranscodeError{
			Err:      fmt.Errorf("ffmpeg failed: %w", waitErr),
			ExitCode: result.ExitCode,
			Stderr:   stderrTail,
		}
	}

	result.ExitCode = 0
	result.Succeeded = true

	if info, err := os.Stat(req.OutputPath); err == nil {
		result.OutputSizeBytes = info.Size()
	} else {
		logger.Warn("FFmpeg exited cleanly but output is missing", "path", req.OutputPath, "error", err)
	}

	return result, nil
}

// BuildOutputPath places "<base>.transcoded.mp4" in workDir.
func BuildOutputPath(inputPath, workDir string) string {
	return filepath.Join(workDir, filepath.Base(inputPath)+TranscodedSuffix)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// String returns the last few stderr lines joined for logging.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := strings.TrimSpace(strings.ReplaceAll(string(b.buf), "\r", "\n"))
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}
