package ml

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pcosdx/pipeline"
)

// TrainConfig holds the fixed training parameters. There is no
// hyperparameter search.
type TrainConfig struct {
	Seed            int64   `json:"seed"`
	TestRatio       float64 `json:"test_ratio"`
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	MaxFeatures     int     `json:"max_features"`
}

// DefaultTrainConfig returns an 80/20 split with seed 42 and a 100-tree
// forest.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Seed:            42,
		TestRatio:       0.2,
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// FeatureImportance is one entry of the importance ranking.
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Report is the held-out evaluation of a training run.
type Report struct {
	TrainRows   int                 `json:"train_rows"`
	TestRows    int                 `json:"test_rows"`
	Positives   int                 `json:"positives"`
	Accuracy    float64             `json:"accuracy"`
	Precision   float64             `json:"precision"`
	Recall      float64             `json:"recall"`
	F1          float64             `json:"f1"`
	Confusion   ConfusionMatrix     `json:"confusion"`
	Importances []FeatureImportance `json:"importances"`
	Duration    time.Duration       `json:"duration"`
}

// Trainer fits a RandomForest on a prepared dataset.
type Trainer struct {
	config TrainConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewTrainer(config TrainConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, logger: logger, now: time.Now}
}

// Train splits the dataset, fits the forest on the training subset,
// evaluates it on the held-out subset and binds it to the dataset's
// feature order.
func (t *Trainer) Train(ctx context.Context, ds *pipeline.Dataset) (*Artifact, *Report, error) {
	if ds == nil || len(ds.X) == 0 {
		return nil, nil, fmt.Errorf("%w: nothing to train on", pipeline.ErrEmptyDataset)
	}
	if len(ds.X) != len(ds.Y) {
		return nil, nil, errors.New("features and labels size mismatch")
	}
	schema, err := NewFeatureSchema(ds.Features, ds.Label)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", pipeline.ErrSchema, err)
	}
	for i, row := range ds.X {
		if len(row) != schema.Len() {
			return nil, nil, fmt.Errorf("%w: row %d has %d values, schema has %d features",
				pipeline.ErrSchema, i, len(row), schema.Len())
		}
	}

	start := t.now()
	trainIdx, testIdx, err := TrainTestSplit(len(ds.X), t.config.TestRatio, t.config.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", pipeline.ErrEmptyDataset, err)
	}
	trainX, trainY := SelectRows(ds.X, ds.Y, trainIdx)
	testX, testY := SelectRows(ds.X, ds.Y, testIdx)

	forest := NewRandomForest(
		WithSeed(t.config.Seed),
		WithNEstimators(t.config.NEstimators),
		WithForestMaxDepth(t.config.MaxDepth),
		WithForestMinSamplesSplit(t.config.MinSamplesSplit),
		WithForestMinSamplesLeaf(t.config.MinSamplesLeaf),
		WithForestMaxFeatures(t.config.MaxFeatures),
		WithClasses(0, 1),
	)
	t.logger.Info("training random forest",
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Int("features", schema.Len()),
		zap.Int("trees", forest.NEstimators),
		zap.Int64("seed", forest.RandomState),
	)
	if err := forest.Fit(ctx, trainX, trainY); err != nil {
		return nil, nil, fmt.Errorf("fit forest: %w", err)
	}

	preds, err := forest.Predict(testX)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate forest: %w", err)
	}
	report := &Report{
		TrainRows: len(trainX),
		TestRows:  len(testX),
		Positives: ds.Positives(),
		Accuracy:  AccuracyInt(testY, preds),
		Confusion: Confusion(testY, preds),
	}
	report.Precision, report.Recall, report.F1 = PrecisionRecallF1(testY, preds)
	report.Importances = rankImportances(schema.Features, forest.FeatureImportances())
	report.Duration = t.now().Sub(start)

	t.logger.Info("training complete",
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("precision", report.Precision),
		zap.Float64("recall", report.Recall),
		zap.Float64("f1", report.F1),
		zap.Duration("duration", report.Duration),
	)

	artifact := &Artifact{
		Format: ArtifactFormat,
		Schema: schema,
		Forest: forest,
		Metadata: ArtifactMetadata{
			TrainedAt: start.UTC(),
			Rows:      len(ds.X),
			Seed:      t.config.Seed,
			TestRatio: t.config.TestRatio,
			Report:    report,
		},
	}
	return artifact, report, nil
}

func rankImportances(names []string, values []float64) []FeatureImportance {
	out := make([]FeatureImportance, len(names))
	for i, name := range names {
		out[i] = FeatureImportance{Name: name, Importance: values[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	return out
}
