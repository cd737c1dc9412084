package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "List recorded transformations, or print one run's artifact",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("history needs the store; drop --no-store or set store.path")
	}
	defer st.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	if len(args) == 1 {
		t, err := st.GetTransformation(ctx, args[0])
		if err != nil {
			return err
		}
		if t.GeneratedCode == "" {
			return fmt.Errorf("run %s produced no artifact: %v", t.RunID, t.Errors)
		}
		fmt.Fprint(cmd.OutOrStdout(), t.GeneratedCode)
		return nil
	}

	rows, err := st.ListTransformations(ctx, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderHistory(rows))
	return nil
}
