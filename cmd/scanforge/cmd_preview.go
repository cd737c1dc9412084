package main

import (
	"fmt"
	"os"

	"scanforge/internal/window"

	"github.com/spf13/cobra"
)

var (
	previewRows      string
	previewStart     string
	previewEnd       string
	previewMinPrice  float64
	previewMinVolume float64
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Apply the output window and content filter to a CSV of rows",
	Long: `Shows what a generated scanner's filter stage does to a bar file: rows
outside the window are kept as history, rows inside it are filtered, and
the two are recombined.

Example:
  scanforge preview --rows bars.csv --start 2024-01-02 --end 2024-01-31 --min-price 5`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewRows, "rows", "", "CSV with ticker,date,close,volume columns")
	previewCmd.Flags().StringVar(&previewStart, "start", "", "Output window start date")
	previewCmd.Flags().StringVar(&previewEnd, "end", "", "Output window end date")
	previewCmd.Flags().Float64Var(&previewMinPrice, "min-price", 0, "Minimum close for in-window rows (0 disables)")
	previewCmd.Flags().Float64Var(&previewMinVolume, "min-volume", 0, "Minimum volume for in-window rows (0 disables)")
	previewCmd.MarkFlagRequired("rows")
	previewCmd.MarkFlagRequired("start")
	previewCmd.MarkFlagRequired("end")
}

func runPreview(cmd *cobra.Command, args []string) error {
	rng, err := window.Parse(previewStart, previewEnd)
	if err != nil {
		return err
	}
	f, err := os.Open(previewRows)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", previewRows, err)
	}
	defer f.Close()
	rows, err := window.ReadRows(f)
	if err != nil {
		return err
	}

	var plan window.FilterPlan
	if previewMinPrice > 0 {
		plan.MinPrice = &window.Threshold{Param: "min-price", Value: previewMinPrice}
	}
	if previewMinVolume > 0 {
		plan.MinVolume = &window.Threshold{Param: "min-volume", Value: previewMinVolume}
	}
	part := plan.Apply(rng, rows)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("window "+rng.String()))
	fmt.Fprintln(out, field("historical", len(part.Historical)))
	fmt.Fprintln(out, field("in window", len(part.InWindow)))
	fmt.Fprintln(out, field("kept", len(part.Kept)))
	fmt.Fprintln(out, field("dropped", part.Dropped()))
	fmt.Fprintln(out, field("combined", len(part.Combined)))
	return nil
}
