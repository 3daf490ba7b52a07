package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/vidrelay/internal/ffmpeg"
	"github.com/gwlsn/vidrelay/internal/logger"
)

// errTranscodeFailed is used when the transcoder reports failure without an error
var errTranscodeFailed = errors.New("transcoder reported failure")

// run is the worker loop. It exits on the nil sentinel.
func (p *TaskPipeline) run() {
	defer close(p.done)
	logger.Info("Worker started")

	for {
		task := p.dequeue()
		if task == nil {
			logger.Info("Worker stopped")
			return
		}
		p.process(task)
	}
}

// dequeue blocks until a task (or the sentinel) is available.
func (p *TaskPipeline) dequeue() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		p.cond.Wait()
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task
}

// process runs one task end to end. Errors and panics stay inside the task.
func (p *TaskPipeline) process(task *Task) {
	start := time.Now()
	run := p.cleanup.begin(task)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			run.log.Error("Task panicked",
				"state", run.state,
				"error", err,
				"stack", string(debug.Stack()))
			if !run.abort(err) {
				run.log.Error("Task left unfinished", "state", run.state)
			}
		}
	}()

	if err := p.execute(context.Background(), run); err != nil {
		run.log.Warn("Task failed",
			"state", run.state,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err)
		return
	}

	run.log.Info("Task done",
		"remote", task.RemoteName,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"cleanup_failures", len(run.cleanupErrs))
}

// execute drives probe, transcode and handoff for one task. No timeout is
// applied; ctx is never cancelled while a task runs.
func (p *TaskPipeline) execute(ctx context.Context, run *taskRun) error {
	task := run.task
	if err := run.advance(StateTranscoding, ""); err != nil {
		return err
	}

	probe, err := p.opts.Prober.Probe(ctx, task.InputPath)
	if err != nil {
		return run.transcodeFailed(err)
	}

	decision := ffmpeg.Decide(*probe)
	run.log.Info("Transcoding",
		"input", task.InputPath,
		"width", probe.Width,
		"height", probe.Height,
		"duration", probe.DurationSeconds,
		"downscale", decision.Downscale)

	lastLogged := -10.0
	result, err := p.opts.Transcoder.Run(ctx, ffmpeg.TranscodeRequest{
		InputPath:    task.InputPath,
		OutputPath:   task.OutputPath,
		Decision:     decision,
		TotalSeconds: probe.DurationSeconds,
	}, func(ev ffmpeg.ProgressEvent) {
		p.broadcast(TaskEvent{
			Type:    EventProgress,
			TaskID:  task.ID,
			State:   StateTranscoding,
			Percent: ev.Percent,
		})
		if ev.Percent-lastLogged >= 10 || (ev.Percent >= 100 && lastLogged < 100) {
			lastLogged = ev.Percent
			run.log.Debug("Transcode progress", "percent", fmt.Sprintf("%.1f", ev.Percent))
		}
	})
	if err == nil && (result == nil || !result.Succeeded) {
		err = errTranscodeFailed
	}
	if err != nil {
		if result != nil {
			run.log.Warn("Transcode failed", "exit_code", result.ExitCode)
		}
		return run.transcodeFailed(err)
	}

	run.log.Info("Transcode finished",
		"output", task.OutputPath,
		"size", humanize.Bytes(uint64(result.OutputSizeBytes)),
		"elapsed", result.Elapsed.Round(time.Millisecond))

	return run.transcodeSucceeded(ctx)
}
