package ml

import "context"

// Classifier is a supervised estimator over class indices 0..k-1 that
// exposes per-class probabilities.
type Classifier interface {
	Fit(ctx context.Context, X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
	PredictProba(X [][]float64) ([][]float64, error)
}

// ModelProvider serves predictions for a single raw record. The HTTP layer
// depends on this rather than on a concrete predictor.
type ModelProvider interface {
	Predict(ctx context.Context, record Record) (Prediction, error)
	Schema() (FeatureSchema, error)
}
