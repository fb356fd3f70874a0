package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pcosdx/db"
	"pcosdx/ml"
	"pcosdx/pipeline"
	"pcosdx/report"
)

var trainFlags struct {
	data  string
	sheet string
	out   string
	seed  int64
	chart string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Prepare the dataset, train the forest and save the artifact",
	Long: `Loads the dataset (xlsx or csv), drops identifier columns and rows with
missing or unparseable cells, fits a random forest on a seeded 80/20 split
and writes the model together with its feature schema.

Example:
  pcosdx train --data data/PCOS_data_without_infertility.xlsx --out models/pcos_model.json`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainFlags.data, "data", "", "Dataset path (overrides dataset.path)")
	trainCmd.Flags().StringVar(&trainFlags.sheet, "sheet", "", "Worksheet name (overrides dataset.sheet)")
	trainCmd.Flags().StringVarP(&trainFlags.out, "out", "o", "", "Artifact path (overrides model.artifact_path)")
	trainCmd.Flags().Int64Var(&trainFlags.seed, "seed", 0, "Random seed (overrides training.seed)")
	trainCmd.Flags().StringVar(&trainFlags.chart, "chart", "", "Write a feature importance chart (overrides training.importance_chart)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if trainFlags.data != "" {
		cfg.Dataset.Path = trainFlags.data
	}
	if trainFlags.sheet != "" {
		cfg.Dataset.Sheet = trainFlags.sheet
	}
	if trainFlags.out != "" {
		cfg.Model.ArtifactPath = trainFlags.out
	}
	if cmd.Flags().Changed("seed") {
		cfg.Training.Seed = trainFlags.seed
	}
	if trainFlags.chart != "" {
		cfg.Training.ImportanceChart = trainFlags.chart
	}

	table, err := pipeline.LoadTable(cfg.Dataset.Path, cfg.IngestionConfig())
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded",
		zap.String("path", cfg.Dataset.Path),
		zap.Int("rows", len(table.Rows)),
		zap.Int("columns", len(table.Header)),
	)

	ds, err := pipeline.NewPreparer(cfg.PrepareConfig(), logger).Prepare(table)
	if err != nil {
		return fmt.Errorf("prepare dataset: %w", err)
	}

	artifact, rep, err := ml.NewTrainer(cfg.TrainConfig(), logger).Train(ctx, ds)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	artifact.Metadata.Source = cfg.Dataset.Path

	if err := artifact.Save(cfg.Model.ArtifactPath); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	logger.Info("artifact saved", zap.String("path", cfg.Model.ArtifactPath))

	if err := report.WriteSummary(cmd.OutOrStdout(), rep, 10); err != nil {
		return err
	}

	if cfg.Training.ImportanceChart != "" {
		if err := report.SaveImportanceChart(rep, cfg.Training.ImportanceChart); err != nil {
			logger.Warn("failed to write importance chart", zap.Error(err))
		} else {
			logger.Info("importance chart written", zap.String("path", cfg.Training.ImportanceChart))
		}
	}

	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		run := db.NewTrainingRun(cfg.Model.ArtifactPath, artifact)
		if err := store.SaveTrainingRun(ctx, run, ds.Issues); err != nil {
			return fmt.Errorf("record training run: %w", err)
		}
		logger.Info("training run recorded", zap.String("run_id", run.RunID))
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
