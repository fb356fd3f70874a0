package form

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"pcosdx/ml"
)

// BMI is weight in kilograms over height in metres squared, or 0 when the
// height is not positive.
func BMI(weightKg, heightCm float64) float64 {
	m := heightCm / 100.0
	if m <= 0 {
		return 0
	}
	return weightKg / (m * m)
}

// Ratio returns a/b, or 0 when b is not positive.
func Ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

// Derive returns a copy of values with BMI, Waist:Hip Ratio and FSH/LH
// computed from their inputs. Any value already present for a derived
// field is overwritten.
func Derive(values map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(values)+3)
	for k, v := range values {
		out[k] = v
	}
	out[FieldBMI] = BMI(values[FieldWeight], values[FieldHeight])
	out[FieldWaistHipRatio] = Ratio(values[FieldWaist], values[FieldHip])
	out[FieldFSHLHRatio] = Ratio(values[FieldFSH], values[FieldLH])
	return out
}

// Record converts form values into an inference record.
func Record(values map[string]float64) ml.Record {
	rec := make(ml.Record, len(values))
	for k, v := range values {
		rec[k] = v
	}
	return rec
}

// DeriveRecord fills the derived fields of rec from their inputs. Each
// ratio is computed only when both of its inputs are present and numeric,
// so a record that already carries a derived value without its inputs is
// left alone. rec itself is not modified.
func DeriveRecord(rec ml.Record) ml.Record {
	out := make(ml.Record, len(rec)+3)
	for k, v := range rec {
		out[k] = v
	}
	derive := func(field, a, b string, fn func(x, y float64) float64) {
		x, okA := numeric(rec[a])
		y, okB := numeric(rec[b])
		if okA && okB {
			out[field] = fn(x, y)
		}
	}
	derive(FieldBMI, FieldWeight, FieldHeight, BMI)
	derive(FieldWaistHipRatio, FieldWaist, FieldHip, Ratio)
	derive(FieldFSHLHRatio, FieldFSH, FieldLH, Ratio)
	return out
}

// Values extracts the numeric entries of rec.
func Values(rec ml.Record) map[string]float64 {
	out := make(map[string]float64, len(rec))
	for k, v := range rec {
		if f, ok := numeric(v); ok {
			out[k] = f
		}
	}
	return out
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}
