package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gwlsn/vidrelay"
	"github.com/gwlsn/vidrelay/internal/config"
	"github.com/gwlsn/vidrelay/internal/ffmpeg"
	"github.com/gwlsn/vidrelay/internal/jobs"
	"github.com/gwlsn/vidrelay/internal/logger"
	"github.com/gwlsn/vidrelay/internal/store"
	"github.com/gwlsn/vidrelay/internal/upload"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vidrelay",
		Short: "Transcode incoming videos and hand them to remote storage",
		Long: `vidrelay queues incoming video files, re-encodes each one on a single
worker (capping 4K to 1080p and adding a light noise filter), uploads the
result to Alist or MinIO, and removes the local files afterwards.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config/vidrelay.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(), newWatchCmd(), newJournalCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies environment overrides and
// initializes logging. With validate set, missing upload settings are fatal.
func loadConfig(validate bool) (*config.Config, string, error) {
	cfgPath := configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/vidrelay.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
	}
	return cfg, cfgPath, nil
}

// app bundles the pipeline with the resources it must release.
type app struct {
	pipeline *jobs.TaskPipeline
	journal  *store.SQLiteJournal
}

// newApp wires config into a ready pipeline. Nothing here starts the worker.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	extra, err := cfg.ExtraArgList()
	if err != nil {
		return nil, err
	}

	uploader, err := upload.New(ctx, cfg.Upload)
	if err != nil {
		return nil, fmt.Errorf("upload backend: %w", err)
	}

	if cfg.WorkDir != "" {
		if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}

	a := &app{}
	opts := jobs.Options{
		Prober: ffmpeg.NewProber(cfg.FFprobePath),
		Transcoder: ffmpeg.NewTranscoder(cfg.FFmpegPath, ffmpeg.EncodeOptions{
			Quality:   cfg.Quality,
			Preset:    cfg.Preset,
			Tune:      cfg.Tune,
			ExtraArgs: extra,
		}),
		Uploader:    uploader,
		WorkDir:     cfg.WorkDir,
		MinFreeDisk: cfg.MinFreeDisk.Bytes(),
	}

	if cfg.JournalPath != "" {
		a.journal, err = store.NewSQLiteJournal(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		opts.Journal = a.journal
		reportOrphans(ctx, a.journal)
	}

	a.pipeline = jobs.NewPipeline(opts)
	return a, nil
}

// reportOrphans warns about tasks a previous run never finished. Their files
// may still be on disk; nothing is retried.
func reportOrphans(ctx context.Context, j store.Journal) {
	orphans, err := j.Unfinished(ctx)
	if err != nil {
		logger.Warn("Could not read journal", "error", err)
		return
	}
	for _, o := range orphans {
		logger.Warn("Task from a previous run did not finish",
			"task_id", o.TaskID,
			"input", o.InputPath,
			"last_state", o.LastState,
			"at", o.At)
	}
}

// notifySignals subscribes to SIGINT and SIGTERM. Callers signal.Stop it.
func notifySignals() chan os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	return sigs
}

// drain shuts the pipeline down, letting queued tasks finish. When patient
// is set the first signal on sigs only reports progress; otherwise any
// signal abandons the wait.
func (a *app) drain(sigs <-chan os.Signal, patient bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			select {
			case <-sigs:
				if patient {
					patient = false
					fmt.Println("\n  Finishing queued tasks... (Ctrl+C again to quit)")
					logger.Info("Shutdown signal received", "pending", a.pipeline.Pending())
					continue
				}
				logger.Warn("Exiting without waiting for queued tasks", "pending", a.pipeline.Pending())
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := a.pipeline.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown interrupted", "error", err)
	}
	if a.journal != nil {
		a.journal.Close()
	}
}

func printBanner(cfg *config.Config, cfgPath string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                          VIDRELAY                         ║")
	fmt.Println("║         Transcode, relay and clean up incoming video      ║")
	versionLine := fmt.Sprintf("v%s", vidrelay.Version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Config:       %s\n", cfgPath)
	if cfg.WorkDir != "" {
		fmt.Printf("  Work dir:     %s\n", cfg.WorkDir)
	} else {
		fmt.Printf("  Work dir:     (same as source)\n")
	}
	fmt.Printf("  Upload:       %s\n", uploadTarget(cfg))
	if cfg.JournalPath != "" {
		fmt.Printf("  Journal:      %s\n", cfg.JournalPath)
	}
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Printf("  Encoder:      libx264 crf=%d preset=%s threads=1\n", cfg.Quality, cfg.Preset)
	fmt.Println()
}

func uploadTarget(cfg *config.Config) string {
	switch cfg.Upload.Backend {
	case config.BackendMinIO:
		return fmt.Sprintf("minio %s/%s", cfg.Upload.MinIO.Endpoint, filepath.Join(cfg.Upload.MinIO.Bucket, cfg.Upload.MinIO.Prefix))
	default:
		return fmt.Sprintf("alist %s%s", cfg.Upload.Alist.URL, cfg.Upload.Alist.BasePath)
	}
}
