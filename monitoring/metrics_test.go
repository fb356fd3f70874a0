package monitoring

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.RecordPrediction(1, 20*time.Millisecond, 2, 1)
	c.RecordPrediction(0, 10*time.Millisecond, 0, 0)
	c.RecordPrediction(1, 30*time.Millisecond, 0, 3)
	c.RecordError(ErrorKindUnavailable)

	s := c.Snapshot()
	assert.Equal(t, map[string]int64{"pcos": 2, "no_pcos": 1}, s.Predictions)
	assert.Equal(t, map[string]int64{ErrorKindUnavailable: 1}, s.Errors)
	assert.Equal(t, int64(3), s.Latency.Count)
	assert.Equal(t, 10*time.Millisecond, s.Latency.Min)
	assert.Equal(t, 30*time.Millisecond, s.Latency.Max)
	assert.Equal(t, 20*time.Millisecond, s.Latency.Average)
	assert.Equal(t, int64(2), s.DefaultedTotal)
	assert.Equal(t, int64(4), s.IgnoredTotal)
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordError(ErrorKindMismatch)
	s := c.Snapshot()
	s.Errors[ErrorKindMismatch] = 100
	assert.Equal(t, int64(1), c.Snapshot().Errors[ErrorKindMismatch])
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordPrediction(i%2, time.Millisecond, 0, 0)
		}(i)
	}
	wg.Wait()
	s := c.Snapshot()
	assert.Equal(t, int64(50), s.Predictions["pcos"]+s.Predictions["no_pcos"])
}

func TestExportPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordPrediction(1, time.Second, 0, 0)
	c.RecordError(ErrorKindBadRequest)

	out := c.ExportPrometheus()
	assert.True(t, strings.Contains(out, `pcosdx_predictions_total{label="pcos"} 1`))
	assert.True(t, strings.Contains(out, `pcosdx_errors_total{kind="bad_request"} 1`))
	assert.Contains(t, out, "pcosdx_prediction_seconds_count 1")
}

func TestLabelName(t *testing.T) {
	assert.Equal(t, "pcos", LabelName(1))
	assert.Equal(t, "no_pcos", LabelName(0))
	assert.Equal(t, "class_3", LabelName(3))
}
