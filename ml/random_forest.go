package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of CART trees that each look at a random
// subset of features per split. Probabilities are the mean of the per-tree
// leaf distributions.
type RandomForest struct {
	NEstimators     int    `json:"n_estimators"`
	MaxDepth        int    `json:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	MaxFeatures     int    `json:"max_features"` // 0 => floor(sqrt(p))
	Criterion       string `json:"criterion"`
	Bootstrap       bool   `json:"bootstrap"`
	RandomState     int64  `json:"random_state"`

	// Classes maps class indices to the original labels.
	Classes   []int                     `json:"classes"`
	NFeatures int                       `json:"n_features"`
	Trees     []*DecisionTreeClassifier `json:"trees"`
}

// RandomForestOption functional config for RandomForest
type RandomForestOption func(*RandomForest)

func WithNEstimators(n int) RandomForestOption { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithSeed(seed int64) RandomForestOption  { return func(rf *RandomForest) { rf.RandomState = seed } }
func WithForestMaxDepth(d int) RandomForestOption {
	return func(rf *RandomForest) { rf.MaxDepth = d }
}
func WithForestMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForest) { rf.MinSamplesSplit = n }
}
func WithForestMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForest) { rf.MinSamplesLeaf = n }
}
func WithForestMaxFeatures(k int) RandomForestOption {
	return func(rf *RandomForest) { rf.MaxFeatures = k }
}

// WithClasses fixes the class labels instead of taking them from y, so a
// training subset that happens to miss a class still yields full-width
// probability vectors.
func WithClasses(classes ...int) RandomForestOption {
	return func(rf *RandomForest) { rf.Classes = append([]int(nil), classes...) }
}

var _ Classifier = (*RandomForest)(nil)

// NewRandomForest initializes the forest with fixed defaults: 100 trees,
// bootstrap sampling, sqrt(p) features per split, fully grown trees and
// seed 42.
func NewRandomForest(opts ...RandomForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       "gini",
		Bootstrap:       true,
		RandomState:     42,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit trains the forest. y holds class labels; tree i draws its bootstrap
// sample and feature subsets from seed RandomState+i, so the fitted forest
// does not depend on goroutine scheduling.
func (rf *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	n := len(X)
	if n == 0 {
		return errors.New("randomforest: empty X")
	}
	if len(y) != n {
		return errors.New("randomforest: X and y length mismatch")
	}
	if rf.NEstimators <= 0 {
		return fmt.Errorf("randomforest: n_estimators must be positive, got %d", rf.NEstimators)
	}

	if len(rf.Classes) == 0 {
		rf.Classes = uniqueSorted(y)
	}
	classIdx := make(map[int]int, len(rf.Classes))
	for i, c := range rf.Classes {
		classIdx[c] = i
	}
	yIdx := make([]int, n)
	for i, lab := range y {
		ci, ok := classIdx[lab]
		if !ok {
			return fmt.Errorf("randomforest: label %d not in classes %v", lab, rf.Classes)
		}
		yIdx[i] = ci
	}

	rf.NFeatures = len(X[0])
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(rf.NFeatures)))
	}
	maxFeatures = max(1, min(maxFeatures, rf.NFeatures))

	trees := make([]*DecisionTreeClassifier, rf.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < rf.NEstimators; i++ {
		idx := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seed := rf.RandomState + int64(idx)
			treeRand := rand.New(rand.NewSource(seed))

			// Bootstrap sampling: an index slice, not a copy of the data.
			sampleIndices := make([]int, n)
			for j := 0; j < n; j++ {
				if rf.Bootstrap {
					sampleIndices[j] = treeRand.Intn(n)
				} else {
					sampleIndices[j] = j
				}
			}

			tree := NewDecisionTreeClassifier(
				WithMaxDepth(rf.MaxDepth),
				WithMinSamplesSplit(rf.MinSamplesSplit),
				WithMinSamplesLeaf(rf.MinSamplesLeaf),
				WithCriterion(rf.Criterion),
				WithMaxFeatures(maxFeatures),
				WithRandomState(seed),
				WithNClasses(len(rf.Classes)),
			)
			if err := tree.fitSample(X, yIdx, sampleIndices, treeRand); err != nil {
				return fmt.Errorf("tree %d: %w", idx, err)
			}
			trees[idx] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	return nil
}

// PredictProba returns, for each row, the mean class distribution across
// trees, aligned with Classes.
func (rf *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		acc := make([]float64, len(rf.Classes))
		for _, tree := range rf.Trees {
			p, err := tree.predictProbaSingle(x)
			if err != nil {
				return nil, err
			}
			for c := range acc {
				acc[c] += p[c]
			}
		}
		for c := range acc {
			acc[c] /= float64(len(rf.Trees))
		}
		out[i] = acc
	}
	return out, nil
}

// Predict returns the class label with the highest mean probability. Ties
// go to the earlier class.
func (rf *RandomForest) Predict(X [][]float64) ([]int, error) {
	probas, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		out[i] = rf.Classes[argmaxFloat(p)]
	}
	return out, nil
}

// FeatureImportances returns the mean decrease in impurity per feature,
// normalized to sum to 1.
func (rf *RandomForest) FeatureImportances() []float64 {
	total := make([]float64, rf.NFeatures)
	for _, tree := range rf.Trees {
		sum := 0.0
		for _, v := range tree.Importances {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for f, v := range tree.Importances {
			total[f] += v / sum
		}
	}
	sum := 0.0
	for _, v := range total {
		sum += v
	}
	if sum > 0 {
		for f := range total {
			total[f] /= sum
		}
	}
	return total
}

// Validate checks a forest decoded from an artifact against the number of
// schema features.
func (rf *RandomForest) Validate(nFeatures int) error {
	if len(rf.Trees) == 0 {
		return ErrNotFitted
	}
	if len(rf.Classes) < 2 {
		return fmt.Errorf("randomforest: need at least 2 classes, have %d", len(rf.Classes))
	}
	if rf.NFeatures != nFeatures {
		return fmt.Errorf("randomforest: fitted on %d features, schema has %d", rf.NFeatures, nFeatures)
	}
	for i, tree := range rf.Trees {
		if tree == nil {
			return fmt.Errorf("randomforest: tree %d missing", i)
		}
		if tree.NClasses != len(rf.Classes) {
			return fmt.Errorf("randomforest: tree %d has %d classes, want %d", i, tree.NClasses, len(rf.Classes))
		}
		if err := tree.Validate(nFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func uniqueSorted(y []int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
