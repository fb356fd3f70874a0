package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTreeClassifier is a CART classifier over numeric features. Nodes
// are stored in a flat slice in pre-order so the fitted tree serializes as
// plain JSON.
type DecisionTreeClassifier struct {
	MaxDepth            int     `json:"max_depth"`         // 0 => no limit
	MinSamplesSplit     int     `json:"min_samples_split"` // minimum samples to attempt a split
	MinSamplesLeaf      int     `json:"min_samples_leaf"`  // minimum samples in each leaf
	Criterion           string  `json:"criterion"`         // "gini" (default) or "entropy"
	MaxFeatures         int     `json:"max_features"`      // 0 => all features
	MinImpurityDecrease float64 `json:"min_impurity_decrease"`
	RandomState         int64   `json:"random_state"`

	NClasses    int        `json:"n_classes"`
	NFeatures   int        `json:"n_features"`
	Nodes       []TreeNode `json:"nodes"`
	Importances []float64  `json:"importances"` // total weighted impurity decrease per feature
}

// TreeNode is one node of a fitted tree. Leaves carry the class
// distribution of the training samples that reached them.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"` // x <= threshold => left
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Samples    int       `json:"samples"`
	Probas     []float64 `json:"probas,omitempty"`
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

func WithMaxDepth(d int) Option { return func(t *DecisionTreeClassifier) { t.MaxDepth = d } }
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeClassifier) { t.MinSamplesSplit = n }
}
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeClassifier) { t.MinSamplesLeaf = n }
}
func WithCriterion(c string) Option { return func(t *DecisionTreeClassifier) { t.Criterion = c } }
func WithMaxFeatures(k int) Option  { return func(t *DecisionTreeClassifier) { t.MaxFeatures = k } }
func WithRandomState(seed int64) Option {
	return func(t *DecisionTreeClassifier) { t.RandomState = seed }
}
func WithNClasses(k int) Option { return func(t *DecisionTreeClassifier) { t.NClasses = k } }

// NewDecisionTreeClassifier returns a classifier with sklearn-like defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	t := &DecisionTreeClassifier{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       "gini",
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit trains the tree on every row of X. y holds class indices.
func (t *DecisionTreeClassifier) Fit(X [][]float64, y []int) error {
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	return t.fitSample(X, y, idx, rand.New(rand.NewSource(t.RandomState)))
}

// fitSample trains on the rows named by idx. Repeated indices (bootstrap
// samples) count once per occurrence.
func (t *DecisionTreeClassifier) fitSample(X [][]float64, y []int, idx []int, rnd *rand.Rand) error {
	if len(X) == 0 || len(idx) == 0 {
		return errors.New("dtree: empty X")
	}
	if len(y) != len(X) {
		return errors.New("dtree: X and y length mismatch")
	}
	p := len(X[0])
	if p == 0 {
		return errors.New("dtree: X has no features")
	}
	for i := range X {
		if len(X[i]) != p {
			return errors.New("dtree: inconsistent number of features in X rows")
		}
	}

	maxLabel := 0
	for _, lab := range y {
		if lab < 0 {
			return fmt.Errorf("dtree: negative class index %d", lab)
		}
		if lab > maxLabel {
			maxLabel = lab
		}
	}
	if t.NClasses == 0 {
		t.NClasses = maxLabel + 1
	}
	if t.NClasses < 2 {
		t.NClasses = 2
	}
	if maxLabel >= t.NClasses {
		return fmt.Errorf("dtree: class index %d out of range for %d classes", maxLabel, t.NClasses)
	}
	if t.MinSamplesLeaf < 1 {
		t.MinSamplesLeaf = 1
	}

	t.NFeatures = p
	t.Nodes = t.Nodes[:0]
	t.Importances = make([]float64, p)
	t.build(X, y, idx, 0, rnd)
	return nil
}

// Predict returns the most probable class index for each row.
func (t *DecisionTreeClassifier) Predict(X [][]float64) ([]int, error) {
	probas, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probas))
	for i, p := range probas {
		out[i] = argmaxFloat(p)
	}
	return out, nil
}

// PredictProba returns the class distribution for each row.
func (t *DecisionTreeClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i := range X {
		p, err := t.predictProbaSingle(X[i])
		if err != nil {
			return nil, err
		}
		out[i] = append([]float64(nil), p...)
	}
	return out, nil
}

// Depth returns the depth of the deepest leaf (root = 0).
func (t *DecisionTreeClassifier) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i, d int) int
	walk = func(i, d int) int {
		n := t.Nodes[i]
		if n.IsLeaf {
			return d
		}
		return max(walk(n.LeftChild, d+1), walk(n.RightChild, d+1))
	}
	return walk(0, 0)
}

// Validate checks the structure of a tree decoded from an artifact.
func (t *DecisionTreeClassifier) Validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return ErrNotFitted
	}
	if t.NFeatures != nFeatures {
		return fmt.Errorf("dtree: fitted on %d features, schema has %d", t.NFeatures, nFeatures)
	}
	for i, n := range t.Nodes {
		if n.IsLeaf {
			if len(n.Probas) != t.NClasses {
				return fmt.Errorf("dtree: leaf %d has %d probabilities, want %d", i, len(n.Probas), t.NClasses)
			}
			continue
		}
		if n.FeatureIdx < 0 || n.FeatureIdx >= nFeatures {
			return fmt.Errorf("dtree: node %d splits on feature %d of %d", i, n.FeatureIdx, nFeatures)
		}
		// children always follow their parent in pre-order, so this also rules out cycles
		if n.LeftChild <= i || n.LeftChild >= len(t.Nodes) || n.RightChild <= i || n.RightChild >= len(t.Nodes) {
			return fmt.Errorf("dtree: node %d has invalid children %d/%d", i, n.LeftChild, n.RightChild)
		}
	}
	return nil
}

// ---------------------------
// Internal builders & helpers
// ---------------------------

type splitResult struct {
	gain      float64
	feature   int
	threshold float64
	impurityL float64
	impurityR float64
	leftIdx   []int
	rightIdx  []int
}

type pair struct {
	v float64
	i int
}

func (t *DecisionTreeClassifier) build(X [][]float64, y []int, idx []int, depth int, rnd *rand.Rand) int {
	counts := countsFromIndices(y, idx, t.NClasses)
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, Samples: len(idx)})

	if isPure(counts) ||
		len(idx) < t.MinSamplesSplit ||
		len(idx) < 2*t.MinSamplesLeaf ||
		(t.MaxDepth > 0 && depth >= t.MaxDepth) {
		t.makeLeaf(id, counts)
		return id
	}

	parentImpurity := t.impurity(counts)
	best, ok := t.bestSplit(X, y, idx, parentImpurity, rnd)
	if !ok || best.gain <= t.MinImpurityDecrease {
		t.makeLeaf(id, counts)
		return id
	}

	n := float64(len(idx))
	t.Importances[best.feature] += n*parentImpurity -
		float64(len(best.leftIdx))*best.impurityL -
		float64(len(best.rightIdx))*best.impurityR

	left := t.build(X, y, best.leftIdx, depth+1, rnd)
	right := t.build(X, y, best.rightIdx, depth+1, rnd)

	node := &t.Nodes[id]
	node.FeatureIdx = best.feature
	node.Threshold = best.threshold
	node.LeftChild = left
	node.RightChild = right
	return id
}

func (t *DecisionTreeClassifier) makeLeaf(id int, counts []int) {
	node := &t.Nodes[id]
	node.IsLeaf = true
	node.Probas = countsToProbas(counts)
}

// bestSplit visits features in a random order. It stops after MaxFeatures
// features once a valid split has been found, and keeps looking past
// MaxFeatures while none has.
func (t *DecisionTreeClassifier) bestSplit(X [][]float64, y []int, idx []int, parentImpurity float64, rnd *rand.Rand) (splitResult, bool) {
	p := t.NFeatures
	features := rnd.Perm(p)
	limit := t.MaxFeatures
	if limit <= 0 || limit > p {
		limit = p
	}

	best := splitResult{feature: -1}
	for visited, f := range features {
		if visited >= limit && best.feature >= 0 {
			break
		}
		result := t.findBestSplitForFeature(X, y, idx, f, parentImpurity)
		if result.feature >= 0 && result.gain > best.gain {
			best = result
		}
	}
	return best, best.feature >= 0
}

func (t *DecisionTreeClassifier) findBestSplitForFeature(X [][]float64, y []int, idx []int, f int, parentImpurity float64) splitResult {
	result := splitResult{feature: -1}

	valid := make([]pair, len(idx))
	for k, ii := range idx {
		valid[k] = pair{X[ii][f], ii}
	}
	sort.SliceStable(valid, func(a, b int) bool { return valid[a].v < valid[b].v })
	if valid[0].v == valid[len(valid)-1].v {
		return result
	}

	n := len(valid)
	leftCounts := make([]int, t.NClasses)
	rightCounts := countsFromIndices(y, idx, t.NClasses)
	bestPos := -1

	for s := 1; s < n; s++ {
		c := y[valid[s-1].i]
		leftCounts[c]++
		rightCounts[c]--

		if valid[s].v == valid[s-1].v {
			continue
		}
		if s < t.MinSamplesLeaf || n-s < t.MinSamplesLeaf {
			continue
		}
		impL := t.impurity(leftCounts)
		impR := t.impurity(rightCounts)
		weighted := (float64(s)/float64(n))*impL + (float64(n-s)/float64(n))*impR
		gain := parentImpurity - weighted
		if gain > result.gain+1e-12 {
			thr := (valid[s-1].v + valid[s].v) / 2.0
			if thr >= valid[s].v {
				thr = valid[s-1].v
			}
			result = splitResult{gain: gain, feature: f, threshold: thr, impurityL: impL, impurityR: impR}
			bestPos = s
		}
	}

	if bestPos < 0 {
		return splitResult{feature: -1}
	}
	result.leftIdx = indicesFromPairs(valid[:bestPos])
	result.rightIdx = indicesFromPairs(valid[bestPos:])
	return result
}

func (t *DecisionTreeClassifier) impurity(counts []int) float64 {
	if t.Criterion == "entropy" {
		return entropyFromCounts(counts)
	}
	return giniFromCounts(counts)
}

func (t *DecisionTreeClassifier) predictProbaSingle(x []float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	if len(x) != t.NFeatures {
		return nil, fmt.Errorf("dtree: row has %d features, want %d", len(x), t.NFeatures)
	}
	i := 0
	for !t.Nodes[i].IsLeaf {
		node := t.Nodes[i]
		if x[node.FeatureIdx] <= node.Threshold {
			i = node.LeftChild
		} else {
			i = node.RightChild
		}
	}
	return t.Nodes[i].Probas, nil
}

func indicesFromPairs(pairs []pair) []int {
	out := make([]int, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.i)
	}
	return out
}

func countsFromIndices(y []int, idx []int, nClasses int) []int {
	counts := make([]int, nClasses)
	for _, ii := range idx {
		counts[y[ii]]++
	}
	return counts
}

// ---------------------------
// Utilities: impurity & misc
// ---------------------------

func giniFromCounts(counts []int) float64 {
	n := 0.0
	for _, c := range counts {
		n += float64(c)
	}
	if n == 0 {
		return 0
	}
	res := 1.0
	for _, c := range counts {
		p := float64(c) / n
		res -= p * p
	}
	return res
}

func entropyFromCounts(counts []int) float64 {
	n := 0.0
	for _, c := range counts {
		n += float64(c)
	}
	if n == 0 {
		return 0
	}
	res := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		res -= p * math.Log2(p)
	}
	return res
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func countsToProbas(counts []int) []float64 {
	n := 0
	for _, c := range counts {
		n += c
	}
	p := make([]float64, len(counts))
	if n == 0 {
		return p
	}
	for i := range counts {
		p[i] = float64(counts[i]) / float64(n)
	}
	return p
}

// argmaxFloat returns the first index of the largest value.
func argmaxFloat(arr []float64) int {
	best := 0
	for i := 1; i < len(arr); i++ {
		if arr[i] > arr[best] {
			best = i
		}
	}
	return best
}
