package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/watch"

	"github.com/spf13/cobra"
)

var (
	watchStart    string
	watchEnd      string
	watchOut      string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Re-transform scripts in a directory whenever they change",
	Long: `Watches DIR for *.py changes and re-runs the pipeline on each changed
script, writing artifacts to --out. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchStart, "start", "", "Output window start date (YYYY-MM-DD)")
	watchCmd.Flags().StringVar(&watchEnd, "end", "", "Output window end date (YYYY-MM-DD)")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "Directory for generated scanners")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before a change is processed")
	watchCmd.MarkFlagRequired("start")
	watchCmd.MarkFlagRequired("end")
	watchCmd.MarkFlagRequired("out")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Watching is open-ended; --timeout does not apply.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, cleanup, err := newTransformer(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := transformOptions{Start: watchStart, End: watchEnd, Out: watchOut}
	stderr := cmd.ErrOrStderr()
	handler := func(ctx context.Context, path string) {
		res, err := transformFile(ctx, tr, path, opts)
		if err != nil {
			logging.Get(logging.CategoryWatch).Error("%s: %v", path, err)
			return
		}
		fmt.Fprintln(stderr, renderReport(path, res))
	}

	w, err := watch.New(args[0], watchDebounce, handler)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("failed to watch %s: %w", args[0], err)
	}
	fmt.Fprintf(stderr, "watching %s (ctrl-c to stop)\n", args[0])

	<-ctx.Done()
	w.Stop()
	stats := w.Stats()
	logging.Watch("handled %d change(s), %d error(s)", stats.Handled, stats.Errors)
	return nil
}
