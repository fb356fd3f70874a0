package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pcosdx/ml"
)

var schemaJSON bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the feature schema persisted with the model",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "Print as JSON")
}

func runSchema(cmd *cobra.Command, args []string) error {
	artifact, err := ml.LoadArtifact(cfg.Model.ArtifactPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if schemaJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact.Schema)
	}

	fmt.Fprintf(out, "label: %s\ntrained: %s\n\n", artifact.Schema.Label, artifact.Metadata.TrainedAt.Format("2006-01-02 15:04:05"))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, f := range artifact.Schema.Features {
		fmt.Fprintf(tw, "%d\t%s\n", i, f)
	}
	return tw.Flush()
}
