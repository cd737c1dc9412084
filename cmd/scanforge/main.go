package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanforge/internal/config"
	"scanforge/internal/extract"
	"scanforge/internal/logging"
	"scanforge/internal/pipeline"
	"scanforge/internal/store"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
	offline    bool
	noStore    bool
	timeout    time.Duration

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scanforge",
	Short: "scanforge - turn Python scanner scripts into canonical scanner classes",
	Long: `scanforge classifies a Python scanner script, extracts its strategy and
thresholds, and renders a five-stage scanner class (ingest, filter,
compute, detect, format) that preserves the original detection logic.

Generated code is validated and automatically corrected a bounded number
of times; the last artifact and all diagnostics are always reported.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		opts := cfg.LoggingOptions()
		if verbose {
			opts.DebugMode = true
		}
		return logging.Initialize(opts)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging and per-stage progress")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Config file")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Extract with the local literal backend only")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "Do not open the extraction cache and history database")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext bounds a command by --timeout and cancels on SIGINT/SIGTERM.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

// openStore opens the configured database unless --no-store is set.
func openStore() (*store.Store, error) {
	if noStore || cfg.Store.Path == "" {
		return nil, nil
	}
	return store.Open(cfg.Store.Path)
}

// newTransformer wires extractor, store and pipeline from the loaded config.
// The returned cleanup closes the store.
func newTransformer(ctx context.Context) (*pipeline.Transformer, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if st != nil {
			st.Close()
		}
	}

	var cache extract.Cache
	var rec pipeline.Recorder
	if st != nil {
		cache, rec = st, st
	}
	svc, err := extract.NewServiceFromConfig(ctx, cfg, cache, offline)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return pipeline.New(cfg, svc, rec), cleanup, nil
}
