package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// TrainTestSplit partitions row indices 0..n-1 with a seeded permutation.
// The evaluation subset holds ceil(n*testRatio) rows; the same n, ratio and
// seed always produce the same partition.
func TrainTestSplit(n int, testRatio float64, seed int64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	if n-nTest < 1 {
		return nil, nil, fmt.Errorf("cannot split %d rows with test ratio %v: training subset would be empty", n, testRatio)
	}

	indices := rand.New(rand.NewSource(seed)).Perm(n)
	return indices[nTest:], indices[:nTest], nil
}

// SelectRows returns the rows of X and y named by idx, in idx order.
func SelectRows(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for k, i := range idx {
		xs[k] = X[i]
		ys[k] = y[i]
	}
	return xs, ys
}
