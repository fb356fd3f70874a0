// Package monitoring collects in-process serving metrics.
package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Error kinds recorded by the prediction surface.
const (
	ErrorKindUnavailable = "model_unavailable"
	ErrorKindMismatch    = "feature_mismatch"
	ErrorKindBadRequest  = "bad_request"
	ErrorKindInternal    = "internal"
)

// LatencySummary summarizes observed prediction latencies.
type LatencySummary struct {
	Count   int64         `json:"count"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
	Latest  time.Duration `json:"latest"`
	total   time.Duration
}

func (s *LatencySummary) observe(d time.Duration) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Count++
	s.total += d
	s.Latest = d
	s.Average = s.total / time.Duration(s.Count)
}

// Snapshot is a point-in-time copy of the collector.
type Snapshot struct {
	Uptime         string           `json:"uptime"`
	Predictions    map[string]int64 `json:"predictions"`
	Errors         map[string]int64 `json:"errors"`
	Latency        LatencySummary   `json:"latency"`
	DefaultedTotal int64            `json:"defaulted_features_total"`
	IgnoredTotal   int64            `json:"ignored_fields_total"`
	Goroutines     int              `json:"goroutines"`
	HeapAlloc      uint64           `json:"heap_alloc"`
}

// Collector counts predictions per label, errors per kind and prediction
// latency. The zero value is not usable; call NewCollector.
type Collector struct {
	mu          sync.RWMutex
	predictions map[string]int64
	errors      map[string]int64
	latency     LatencySummary
	defaulted   int64
	ignored     int64

	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{
		predictions: make(map[string]int64),
		errors:      make(map[string]int64),
		startTime:   time.Now(),
	}
}

// RecordPrediction counts one successful prediction.
func (c *Collector) RecordPrediction(label int, latency time.Duration, defaulted, ignored int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.predictions[LabelName(label)]++
	c.latency.observe(latency)
	c.defaulted += int64(defaulted)
	c.ignored += int64(ignored)
}

// RecordError counts one failed request of the given kind.
func (c *Collector) RecordError(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[kind]++
}

func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func (c *Collector) Snapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:         c.Uptime().Round(time.Second).String(),
		Predictions:    copyCounts(c.predictions),
		Errors:         copyCounts(c.errors),
		Latency:        c.latency,
		DefaultedTotal: c.defaulted,
		IgnoredTotal:   c.ignored,
		Goroutines:     runtime.NumGoroutine(),
		HeapAlloc:      m.HeapAlloc,
	}
}

// ExportPrometheus renders the counters in the Prometheus text format.
func (c *Collector) ExportPrometheus() string {
	s := c.Snapshot()
	var b strings.Builder

	b.WriteString("# HELP pcosdx_predictions_total Predictions served by label\n")
	b.WriteString("# TYPE pcosdx_predictions_total counter\n")
	for _, k := range sortedKeys(s.Predictions) {
		fmt.Fprintf(&b, "pcosdx_predictions_total{label=%q} %d\n", k, s.Predictions[k])
	}
	b.WriteString("# HELP pcosdx_errors_total Failed prediction requests by kind\n")
	b.WriteString("# TYPE pcosdx_errors_total counter\n")
	for _, k := range sortedKeys(s.Errors) {
		fmt.Fprintf(&b, "pcosdx_errors_total{kind=%q} %d\n", k, s.Errors[k])
	}
	b.WriteString("# HELP pcosdx_prediction_seconds Prediction latency\n")
	b.WriteString("# TYPE pcosdx_prediction_seconds summary\n")
	fmt.Fprintf(&b, "pcosdx_prediction_seconds_sum %f\n", s.Latency.total.Seconds())
	fmt.Fprintf(&b, "pcosdx_prediction_seconds_count %d\n", s.Latency.Count)
	fmt.Fprintf(&b, "pcosdx_goroutines %d\n", s.Goroutines)
	return b.String()
}

// LabelName maps a class label to its metric label.
func LabelName(label int) string {
	switch label {
	case 1:
		return "pcos"
	case 0:
		return "no_pcos"
	default:
		return fmt.Sprintf("class_%d", label)
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
