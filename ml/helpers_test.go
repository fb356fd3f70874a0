package ml

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pcosdx/pipeline"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// separable returns n rows where feature 0 decides the label and feature 1
// is noise.
func separable(n int) ([][]float64, []int) {
	X := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		X[i] = []float64{float64(i), float64((i * 7) % 5)}
		if i >= n/2 {
			y[i] = 1
		}
	}
	return X, y
}

func testDataset(n int) *pipeline.Dataset {
	X, y := separable(n)
	return &pipeline.Dataset{
		Features: []string{"Follicle No. (R)", "Blood Group"},
		Label:    "PCOS (Y/N)",
		X:        X,
		Y:        y,
	}
}

func testTrainer(trees int) *Trainer {
	cfg := DefaultTrainConfig()
	cfg.NEstimators = trees
	tr := NewTrainer(cfg, nil)
	tr.now = func() time.Time { return fixedTime }
	return tr
}

func trainTestArtifact(t *testing.T) *Artifact {
	t.Helper()
	artifact, _, err := testTrainer(15).Train(testContext(t), testDataset(40))
	require.NoError(t, err)
	return artifact
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
