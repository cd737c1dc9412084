package main

import (
	"encoding/json"
	"fmt"
	"os"

	"scanforge/internal/classify"
	"scanforge/internal/strategy"

	"github.com/spf13/cobra"
)

var classifyAsJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify FILE",
	Short: "Show the structural classification and strategy for a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyAsJSON, "json", false, "Print as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	cls, mod, err := classify.Classify(ctx, src)
	if err != nil {
		return err
	}
	defer mod.Close()
	decision := strategy.Select(cls, nil, mod)

	if classifyAsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"classification": cls,
			"strategy":       decision,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderClassification(args[0], cls, string(decision.Strategy), decision.Reason))
	return nil
}
