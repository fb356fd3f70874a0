package ml

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Prediction is the outcome of one inference call.
type Prediction struct {
	Label    int  `json:"label"`
	Positive bool `json:"positive"`
	// Confidence is the probability of the predicted class, in [0, 1].
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	ReindexInfo
}

// Diagnosis is the human-readable outcome.
func (p Prediction) Diagnosis() string {
	if p.Positive {
		return "PCOS Detected"
	}
	return "No PCOS Detected"
}

// Predictor is the inference adapter: it reconciles raw records with the
// artifact's schema and queries the forest. The artifact is never
// modified, so a Predictor is safe for concurrent use.
type Predictor struct {
	artifact *Artifact
	cache    *lru.Cache[string, []float64]
	logger   *zap.Logger
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor) error

// WithCache memoizes class probabilities for up to size distinct
// reindexed rows.
func WithCache(size int) PredictorOption {
	return func(p *Predictor) error {
		if size <= 0 {
			return nil
		}
		c, err := lru.New[string, []float64](size)
		if err != nil {
			return err
		}
		p.cache = c
		return nil
	}
}

// WithLogger sets the logger used for reindex diagnostics.
func WithLogger(logger *zap.Logger) PredictorOption {
	return func(p *Predictor) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// NewPredictor binds a predictor to a validated artifact.
func NewPredictor(artifact *Artifact, opts ...PredictorOption) (*Predictor, error) {
	if artifact == nil {
		return nil, fmt.Errorf("%w: no artifact", ErrModelUnavailable)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	p := &Predictor{artifact: artifact, logger: zap.NewNop()}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Schema returns the feature schema the model was trained on.
func (p *Predictor) Schema() (FeatureSchema, error) {
	if p == nil || p.artifact == nil {
		return FeatureSchema{}, ErrModelUnavailable
	}
	return p.artifact.Schema, nil
}

// Metadata returns the training metadata of the loaded artifact.
func (p *Predictor) Metadata() ArtifactMetadata {
	if p == nil || p.artifact == nil {
		return ArtifactMetadata{}
	}
	return p.artifact.Metadata
}

// Predict reindexes record to the schema and returns the predicted label
// with the probability of that label as confidence. Derived fields must be
// present in record already; Predict computes none.
func (p *Predictor) Predict(ctx context.Context, record Record) (Prediction, error) {
	if p == nil || p.artifact == nil {
		return Prediction{}, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	row, info, err := p.artifact.Schema.Reindex(record)
	if err != nil {
		return Prediction{}, err
	}
	if len(info.Ignored) > 0 {
		p.logger.Debug("ignoring fields outside the feature schema", zap.Strings("fields", info.Ignored))
	}
	if len(info.Defaulted) > 0 {
		p.logger.Debug("defaulting missing features to 0", zap.Strings("fields", info.Defaulted))
	}

	probas, err := p.probabilities(row)
	if err != nil {
		return Prediction{}, err
	}

	best := argmaxFloat(probas)
	label := p.artifact.Forest.Classes[best]
	return Prediction{
		Label:         label,
		Positive:      label == 1,
		Confidence:    probas[best],
		Probabilities: probas,
		ReindexInfo:   info,
	}, nil
}

func (p *Predictor) probabilities(row []float64) ([]float64, error) {
	var key string
	if p.cache != nil {
		key = rowKey(row)
		if cached, ok := p.cache.Get(key); ok {
			return append([]float64(nil), cached...), nil
		}
	}
	out, err := p.artifact.Forest.PredictProba([][]float64{row})
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(key, append([]float64(nil), out[0]...))
	}
	return out[0], nil
}

func rowKey(row []float64) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
