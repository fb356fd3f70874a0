package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pcosdx/form"
	"pcosdx/ml"
)

var predictFlags struct {
	input    string
	model    string
	midpoint bool
	noDerive bool
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict PCOS for one record read as a JSON object",
	Long: `Reads a flat JSON object of field values from --input (or stdin), fills
BMI, Waist:Hip Ratio and FSH/LH from their inputs and prints the predicted
label with its confidence. Fields the model was not trained on are ignored;
features missing from the record are treated as 0.

Example:
  echo '{"Age (yrs)": 28, "Follicle No. (R)": 12}' | pcosdx predict
  pcosdx predict --midpoint`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictFlags.input, "input", "i", "-", "JSON record file, - for stdin")
	predictCmd.Flags().StringVar(&predictFlags.model, "model", "", "Artifact path (overrides model.artifact_path)")
	predictCmd.Flags().BoolVar(&predictFlags.midpoint, "midpoint", false, "Predict for every form field at the middle of its range")
	predictCmd.Flags().BoolVar(&predictFlags.noDerive, "no-derive", false, "Do not compute derived ratios")
}

type predictOutput struct {
	ml.Prediction
	Diagnosis string           `json:"diagnosis"`
	Warnings  []form.Violation `json:"warnings,omitempty"`
}

func runPredict(cmd *cobra.Command, args []string) error {
	path := cfg.Model.ArtifactPath
	if predictFlags.model != "" {
		path = predictFlags.model
	}
	predictor, err := ml.LoadModel(path, ml.WithLogger(logger))
	if errors.Is(err, ml.ErrModelUnavailable) {
		logger.Debug("artifact load failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w, train the model first (expected artifact at %s)", ml.ErrModelUnavailable, path)
	}
	if err != nil {
		return err
	}

	var record ml.Record
	if predictFlags.midpoint {
		record = form.Record(form.Midpoint())
	} else {
		record, err = readRecord(cmd.InOrStdin(), predictFlags.input)
		if err != nil {
			return err
		}
		if !predictFlags.noDerive {
			record = form.DeriveRecord(record)
		}
	}

	pred, err := predictor.Predict(cmdContext(cmd), record)
	if err != nil {
		return err
	}
	logger.Debug("prediction",
		zap.Int("label", pred.Label),
		zap.Float64("confidence", pred.Confidence),
		zap.Strings("ignored", pred.Ignored),
	)

	out := predictOutput{
		Prediction: pred,
		Diagnosis:  pred.Diagnosis(),
		Warnings:   form.Validate(form.Values(record)),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readRecord(stdin io.Reader, path string) (ml.Record, error) {
	var data []byte
	var err error
	if path == "-" || path == "" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var record ml.Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	return record, nil
}
