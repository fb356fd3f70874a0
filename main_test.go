package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pcosdx/config"
	"pcosdx/ml"
)

// setupCLI points the package globals at a temporary workspace with a small
// CSV dataset.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("Sl. No,Patient File No.,PCOS (Y/N),Follicle No. (R),AMH(ng/mL),Age (yrs)\n")
	for i := 0; i < 40; i++ {
		label := i % 2
		amh := "."
		if i != 7 {
			amh = fmt.Sprintf("%d.5", 2+6*label)
		}
		fmt.Fprintf(&b, "%d,%d,%d,%d,%s,%d\n", i+1, 10000+i, label, 3+14*label+i%3, amh, 22+i%10)
	}
	data := filepath.Join(dir, "pcos.csv")
	require.NoError(t, os.WriteFile(data, []byte(b.String()), 0o644))

	cfg = config.Default()
	cfg.Dataset.Path = data
	cfg.Model.ArtifactPath = filepath.Join(dir, "models", "pcos_model.json")
	cfg.Database.Path = filepath.Join(dir, "audit.db")
	cfg.Training.NEstimators = 10
	logger = zap.NewNop()

	trainFlags.data, trainFlags.sheet, trainFlags.out, trainFlags.chart = "", "", "", ""
	predictFlags.input, predictFlags.model = "-", ""
	predictFlags.midpoint, predictFlags.noDerive = false, false
	schemaJSON = false
	historyLimit = 20
	return dir
}

func train(t *testing.T) string {
	t.Helper()
	var out bytes.Buffer
	trainCmd.SetOut(&out)
	t.Cleanup(func() { trainCmd.SetOut(nil) })
	require.NoError(t, runTrain(trainCmd, nil))
	return out.String()
}

func TestTrainWritesArtifactAndRun(t *testing.T) {
	setupCLI(t)
	out := train(t)
	assert.Contains(t, out, "accuracy")

	artifact, err := ml.LoadArtifact(cfg.Model.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Follicle No. (R)", "AMH(ng/mL)", "Age (yrs)"}, artifact.Schema.Features)
	assert.Equal(t, "PCOS (Y/N)", artifact.Schema.Label)
	assert.Equal(t, 39, artifact.Metadata.Rows)
	assert.Equal(t, cfg.Dataset.Path, artifact.Metadata.Source)

	var history bytes.Buffer
	historyCmd.SetOut(&history)
	t.Cleanup(func() { historyCmd.SetOut(nil) })
	require.NoError(t, runHistory(historyCmd, nil))
	lines := strings.Split(strings.TrimSpace(history.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], cfg.Model.ArtifactPath)
}

func TestTrainMissingDataset(t *testing.T) {
	setupCLI(t)
	cfg.Dataset.Path = filepath.Join(t.TempDir(), "missing.csv")
	err := runTrain(trainCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load dataset")
}

func TestPredictFromStdin(t *testing.T) {
	setupCLI(t)
	train(t)

	var out bytes.Buffer
	predictCmd.SetIn(strings.NewReader(`{"Follicle No. (R)": 18, "AMH(ng/mL)": "8.5", "Age (yrs)": 25, "Cysts (Y/N)": 1}`))
	predictCmd.SetOut(&out)
	t.Cleanup(func() {
		predictCmd.SetIn(nil)
		predictCmd.SetOut(nil)
	})
	require.NoError(t, runPredict(predictCmd, nil))

	var got struct {
		Label      int      `json:"label"`
		Confidence float64  `json:"confidence"`
		Diagnosis  string   `json:"diagnosis"`
		Ignored    []string `json:"ignored"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	assert.Equal(t, 1, got.Label)
	assert.Equal(t, "PCOS Detected", got.Diagnosis)
	assert.GreaterOrEqual(t, got.Confidence, 0.5)
	assert.Contains(t, got.Ignored, "Cysts (Y/N)")
}

func TestPredictMidpointIsDeterministic(t *testing.T) {
	setupCLI(t)
	train(t)
	predictFlags.midpoint = true

	run := func() string {
		var out bytes.Buffer
		predictCmd.SetOut(&out)
		defer predictCmd.SetOut(nil)
		require.NoError(t, runPredict(predictCmd, nil))
		return out.String()
	}
	assert.Equal(t, run(), run())
}

func TestPredictWithoutModel(t *testing.T) {
	setupCLI(t)
	predictFlags.midpoint = true
	err := runPredict(predictCmd, nil)
	require.ErrorIs(t, err, ml.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "train the model first")
	assert.Contains(t, err.Error(), cfg.Model.ArtifactPath)
}

func TestReadRecord(t *testing.T) {
	rec, err := readRecord(strings.NewReader(`{"BMI": 22.5}`), "-")
	require.NoError(t, err)
	assert.Equal(t, json.Number("22.5"), rec["BMI"])

	_, err = readRecord(strings.NewReader(`null`), "-")
	require.Error(t, err)

	_, err = readRecord(strings.NewReader(`[1]`), "")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Age (yrs)": 30}`), 0o644))
	rec, err = readRecord(nil, path)
	require.NoError(t, err)
	assert.Equal(t, json.Number("30"), rec["Age (yrs)"])
}

func TestSchemaCommand(t *testing.T) {
	setupCLI(t)
	train(t)

	var out bytes.Buffer
	schemaCmd.SetOut(&out)
	t.Cleanup(func() { schemaCmd.SetOut(nil) })

	schemaJSON = true
	require.NoError(t, runSchema(schemaCmd, nil))
	var schema ml.FeatureSchema
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	assert.Equal(t, 3, schema.Len())

	out.Reset()
	schemaJSON = false
	require.NoError(t, runSchema(schemaCmd, nil))
	assert.Contains(t, out.String(), "label: PCOS (Y/N)")
	assert.Contains(t, out.String(), "Follicle No. (R)")
}

func TestHistoryRequiresDatabase(t *testing.T) {
	setupCLI(t)
	cfg.Database.Path = ""
	require.Error(t, runHistory(historyCmd, nil))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "01234567", shortID("0123456789"))
}
