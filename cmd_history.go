package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pcosdx/db"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded training runs from the audit store",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Database.Path == "" {
		return errors.New("database.path is not configured")
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.LoadTrainingLog(cmdContext(cmd), historyLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTRAINED\tROWS\tFEATURES\tACCURACY\tF1\tARTIFACT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.4f\t%.4f\t%s\n",
			shortID(r.RunID), r.TrainedAt.Format("2006-01-02 15:04"), r.Rows, r.Features, r.Accuracy, r.F1, r.ArtifactPath)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
