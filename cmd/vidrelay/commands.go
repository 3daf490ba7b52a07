package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gwlsn/vidrelay"
	"github.com/gwlsn/vidrelay/internal/inbox"
	"github.com/gwlsn/vidrelay/internal/logger"
	"github.com/gwlsn/vidrelay/internal/store"
)

func newRunCmd() *cobra.Command {
	var remoteName string

	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Process the given files, then exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remoteName != "" && len(args) > 1 {
				return errors.New("--name can only be used with a single file")
			}

			// Subscribe before anything is queued so an early Ctrl+C still drains.
			sigs := notifySignals()
			defer signal.Stop(sigs)

			cfg, cfgPath, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printBanner(cfg, cfgPath)
			logger.Info("vidrelay started", "version", vidrelay.Version, "mode", "run", "files", len(args))

			enqueueFiles(a.pipeline, sigs, args, remoteName)
			a.drain(sigs, true)
			logger.Info("All tasks processed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&remoteName, "name", "n", "", "Remote file name (default: the local file name)")
	return cmd
}

// enqueueFiles queues each path. A pending signal on sigs stops it early and
// is left for drain to see. It returns how many tasks were queued.
func enqueueFiles(enq inbox.Enqueuer, sigs <-chan os.Signal, paths []string, remoteName string) int {
	queued := 0
	for i, path := range paths {
		if len(sigs) > 0 {
			logger.Warn("Interrupted, not queueing remaining files", "skipped", len(paths)-i)
			break
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			logger.Warn("Skipping file", "path", path, "error", err)
			continue
		}
		if _, err := enq.EnqueueTask(abs, remoteName); err != nil {
			logger.Error("Enqueue failed", "path", abs, "error", err)
			continue
		}
		queued++
	}
	return queued
}

func newWatchCmd() *cobra.Command {
	var (
		inboxDir string
		settle   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox directory and process every video dropped into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(true)
			if err != nil {
				return err
			}
			if inboxDir != "" {
				cfg.InboxPath = inboxDir
			}
			if err := os.MkdirAll(cfg.InboxPath, 0755); err != nil {
				return fmt.Errorf("create inbox: %w", err)
			}

			sigs := notifySignals()
			defer signal.Stop(sigs)

			// The first signal stops the watcher; drain takes the rest.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				select {
				case <-sigs:
					cancel()
				case <-ctx.Done():
				}
			}()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			w, err := inbox.New(cfg.InboxPath, a.pipeline, settle)
			if err != nil {
				return err
			}

			printBanner(cfg, cfgPath)
			fmt.Printf("  Inbox:        %s\n", cfg.InboxPath)
			fmt.Println()
			fmt.Println("  Press Ctrl+C to stop")
			fmt.Println()
			fmt.Println("─────────────────────────────────────────────────────────────")
			fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
			fmt.Println("─────────────────────────────────────────────────────────────")
			logger.Info("vidrelay started", "version", vidrelay.Version, "mode", "watch", "inbox", cfg.InboxPath)

			runErr := w.Run(ctx)
			cancel()

			fmt.Println("\n  Shutting down... (Ctrl+C again to quit)")
			logger.Info("Shutdown signal received", "pending", a.pipeline.Pending())
			a.drain(sigs, false)
			logger.Info("Stopped")
			return runErr
		},
	}

	cmd.Flags().StringVarP(&inboxDir, "inbox", "i", "", "Directory to watch (overrides inbox_path)")
	cmd.Flags().DurationVar(&settle, "settle", inbox.DefaultSettle, "How long a file must be unchanged before it is queued")
	return cmd
}

func newJournalCmd() *cobra.Command {
	var (
		since time.Duration
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "journal [TASK_ID]",
		Short: "Show unfinished tasks and cleanup failures, or one task's history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return errors.New("journal_path is not configured")
			}

			j, err := store.NewSQLiteJournal(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx := cmd.Context()
			out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer out.Flush()

			if prune > 0 {
				n, err := j.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d entries older than %s\n", n, prune)
				return nil
			}

			if len(args) == 1 {
				return printHistory(ctx, out, j, args[0])
			}
			return printSummary(ctx, out, j, since)
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to list cleanup failures")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete entries older than this instead of listing")
	return cmd
}

func printHistory(ctx context.Context, out *tabwriter.Writer, j store.Journal, taskID string) error {
	entries, err := j.History(ctx, taskID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no journal entries for task %s", taskID)
	}

	fmt.Fprintln(out, "TIME\tKIND\tFROM\tTO\tPATH\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.DateTime), e.Kind, e.From, e.To, e.Path, e.Detail)
	}
	return nil
}

func printSummary(ctx context.Context, out *tabwriter.Writer, j store.Journal, since time.Duration) error {
	orphans, err := j.Unfinished(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Unfinished tasks: %d\n", len(orphans))
	if len(orphans) > 0 {
		fmt.Fprintln(out, "TASK\tLAST STATE\tSINCE\tINPUT")
		for _, o := range orphans {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", o.TaskID, o.LastState, o.At.Local().Format(time.DateTime), o.InputPath)
		}
	}
	fmt.Fprintln(out)

	failures, err := j.CleanupFailures(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleanup failures in the last %s: %d\n", since, len(failures))
	if len(failures) > 0 {
		fmt.Fprintln(out, "TIME\tTASK\tPATH\tDETAIL")
		for _, e := range failures {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.TaskID, e.Path, e.Detail)
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(vidrelay.Version)
		},
	}
}
