package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scanforge/internal/pipeline"
	"scanforge/internal/types"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	transformName   string
	transformStart  string
	transformEnd    string
	transformOut    string
	transformJobs   int
	transformAsJSON bool
)

var transformCmd = &cobra.Command{
	Use:   "transform FILE...",
	Short: "Transform scanner scripts into canonical scanner classes",
	Long: `Runs the full pipeline on each script: classify, extract, select a
strategy, render and validate with bounded self-correction.

With --out, each artifact is written to DIR/<script>_scanner.py. Without it
a single script's artifact is printed to stdout.

Example:
  scanforge transform gap_scan.py --start 2024-01-02 --end 2024-03-29
  scanforge transform scripts/*.py --start 2024-01-02 --end 2024-03-29 --out generated --jobs 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTransform,
}

func init() {
	transformCmd.Flags().StringVar(&transformName, "name", "", "Scanner name (single script only)")
	transformCmd.Flags().StringVar(&transformStart, "start", "", "Output window start date (YYYY-MM-DD)")
	transformCmd.Flags().StringVar(&transformEnd, "end", "", "Output window end date (YYYY-MM-DD)")
	transformCmd.Flags().StringVarP(&transformOut, "out", "o", "", "Directory for generated scanners")
	transformCmd.Flags().IntVarP(&transformJobs, "jobs", "j", 4, "Scripts transformed concurrently")
	transformCmd.Flags().BoolVar(&transformAsJSON, "json", false, "Print results as JSON")
	transformCmd.MarkFlagRequired("start")
	transformCmd.MarkFlagRequired("end")
}

func runTransform(cmd *cobra.Command, args []string) error {
	if transformName != "" && len(args) > 1 {
		return fmt.Errorf("--name applies to a single script")
	}
	if transformOut == "" && len(args) > 1 {
		return fmt.Errorf("--out is required when transforming several scripts")
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	tr, cleanup, err := newTransformer(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := transformOptions{Name: transformName, Start: transformStart, End: transformEnd, Out: transformOut}
	results := make([]*types.TransformationResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, transformJobs))
	for i, path := range args {
		g.Go(func() error {
			res, err := transformFile(gctx, tr, path, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed, err := reportResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), args, results)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d transformation(s) failed", failed, len(args))
	}
	return nil
}

// writeMu serializes artifact writes from concurrent transforms.
var writeMu sync.Mutex

// transformOptions carries per-invocation request fields.
type transformOptions struct {
	Name  string
	Start string
	End   string
	Out   string
}

func transformFile(ctx context.Context, tr *pipeline.Transformer, path string, opts transformOptions) (*types.TransformationResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	res := tr.Transform(ctx, pipeline.Request{
		Source:       src,
		ProposedName: opts.Name,
		Start:        opts.Start,
		End:          opts.End,
		Verbose:      verbose,
	})
	if opts.Out != "" && res.GeneratedCode != nil {
		dest := artifactPath(opts.Out, path)
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := os.MkdirAll(opts.Out, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(dest, []byte(*res.GeneratedCode), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", dest, err)
		}
		res.Metadata["output_path"] = dest
	}
	return res, nil
}

// artifactPath maps scripts/gap.py to DIR/gap_scanner.py.
func artifactPath(dir, script string) string {
	stem := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	return filepath.Join(dir, stem+"_scanner.py")
}

func reportResults(stdout, stderr io.Writer, paths []string, results []*types.TransformationResult) (int, error) {
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}

	if transformAsJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if len(results) == 1 {
			return failed, enc.Encode(results[0])
		}
		return failed, enc.Encode(results)
	}

	for i, res := range results {
		fmt.Fprintln(stderr, renderReport(paths[i], res))
	}
	if transformOut == "" && len(results) == 1 && results[0].GeneratedCode != nil {
		fmt.Fprint(stdout, *results[0].GeneratedCode)
	}
	return failed, nil
}
