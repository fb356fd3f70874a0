package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcosdx/pipeline"
)

func TestTrainerEndToEnd(t *testing.T) {
	table := &pipeline.RawTable{
		Header: []string{"Sl. No", "Patient File No.", "PCOS (Y/N)", "Age (yrs)", "BMI", "Follicle No. (R)"},
	}
	for i := 0; i < 10; i++ {
		label, follicles := "0", 4+i%3
		if i%2 == 1 {
			label, follicles = "1", 14+i%3
		}
		table.Rows = append(table.Rows, []string{
			fmt.Sprint(i + 1), fmt.Sprint(10000 + i), label,
			fmt.Sprint(24 + i), fmt.Sprintf("%.1f", 20+float64(i)/2), fmt.Sprint(follicles),
		})
	}

	ds, err := pipeline.NewPreparer(pipeline.DefaultPrepareConfig(), nil).Prepare(table)
	require.NoError(t, err)
	require.Equal(t, 5, ds.Positives())

	artifact, report, err := testTrainer(20).Train(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, []string{"Age (yrs)", "BMI", "Follicle No. (R)"}, artifact.Schema.Features)
	assert.Equal(t, "PCOS (Y/N)", artifact.Schema.Label)
	assert.Equal(t, 8, report.TrainRows)
	assert.Equal(t, 2, report.TestRows)
	assert.Equal(t, 5, report.Positives)
	assert.GreaterOrEqual(t, report.Accuracy, 0.0)
	assert.LessOrEqual(t, report.Accuracy, 1.0)
	assert.Len(t, report.Importances, 3)
	assert.Same(t, report, artifact.Metadata.Report)

	path := filepath.Join(t.TempDir(), "pcos_model.json")
	require.NoError(t, artifact.Save(path))
	p, err := LoadModel(path)
	require.NoError(t, err)
	pred, err := p.Predict(context.Background(), Record{"Follicle No. (R)": 15, "Age (yrs)": 30, "BMI": 23})
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, pred.Label)
}

func TestTrainerDeterministic(t *testing.T) {
	a, _, err := testTrainer(10).Train(context.Background(), testDataset(30))
	require.NoError(t, err)
	b, _, err := testTrainer(10).Train(context.Background(), testDataset(30))
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("training is not reproducible:\n%s", diff)
	}
}

func TestTrainerImportancesRanked(t *testing.T) {
	_, report, err := testTrainer(15).Train(context.Background(), testDataset(40))
	require.NoError(t, err)
	require.Len(t, report.Importances, 2)
	assert.Equal(t, "Follicle No. (R)", report.Importances[0].Name)
	assert.GreaterOrEqual(t, report.Importances[0].Importance, report.Importances[1].Importance)
}

func TestTrainerErrors(t *testing.T) {
	tr := testTrainer(5)
	ctx := context.Background()

	_, _, err := tr.Train(ctx, nil)
	assert.ErrorIs(t, err, pipeline.ErrEmptyDataset)

	_, _, err = tr.Train(ctx, &pipeline.Dataset{Features: []string{"a"}, Label: "y"})
	assert.ErrorIs(t, err, pipeline.ErrEmptyDataset)

	single := &pipeline.Dataset{Features: []string{"a"}, Label: "y", X: [][]float64{{1}}, Y: []int{1}}
	_, _, err = tr.Train(ctx, single)
	assert.ErrorIs(t, err, pipeline.ErrEmptyDataset)

	dup := &pipeline.Dataset{Features: []string{"a", "a"}, Label: "y", X: [][]float64{{1, 1}, {2, 2}}, Y: []int{0, 1}}
	_, _, err = tr.Train(ctx, dup)
	assert.ErrorIs(t, err, pipeline.ErrSchema)

	ragged := &pipeline.Dataset{Features: []string{"a", "b"}, Label: "y", X: [][]float64{{1, 1}, {2}}, Y: []int{0, 1}}
	_, _, err = tr.Train(ctx, ragged)
	assert.ErrorIs(t, err, pipeline.ErrSchema)
}
