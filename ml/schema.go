package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FeatureSchema is the ordered list of feature names a model was trained
// on. It is fixed at training time and persisted with the model; every
// inference record is reindexed to exactly this order.
type FeatureSchema struct {
	Features []string `json:"features"`
	Label    string   `json:"label"`
}

// NewFeatureSchema validates and copies the feature list.
func NewFeatureSchema(features []string, label string) (FeatureSchema, error) {
	if len(features) == 0 {
		return FeatureSchema{}, fmt.Errorf("%w: schema has no features", ErrFeatureMismatch)
	}
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if f == "" {
			return FeatureSchema{}, fmt.Errorf("%w: empty feature name", ErrFeatureMismatch)
		}
		if seen[f] {
			return FeatureSchema{}, fmt.Errorf("%w: duplicate feature %q", ErrFeatureMismatch, f)
		}
		if f == label {
			return FeatureSchema{}, fmt.Errorf("%w: label %q listed as a feature", ErrFeatureMismatch, f)
		}
		seen[f] = true
	}
	return FeatureSchema{Features: append([]string(nil), features...), Label: label}, nil
}

// Len returns the number of features.
func (s FeatureSchema) Len() int { return len(s.Features) }

// Index returns the position of a feature or -1.
func (s FeatureSchema) Index(name string) int {
	for i, f := range s.Features {
		if f == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both schemas list the same features in the same
// order under the same label.
func (s FeatureSchema) Equal(o FeatureSchema) bool {
	if s.Label != o.Label || len(s.Features) != len(o.Features) {
		return false
	}
	for i := range s.Features {
		if s.Features[i] != o.Features[i] {
			return false
		}
	}
	return true
}

// Record is one raw inference input: field name to value. Values may be
// numbers, booleans, numeric strings or nil.
type Record map[string]any

// ReindexInfo reports how a record was reconciled with the schema.
type ReindexInfo struct {
	// Defaulted lists schema features that were absent or held no usable
	// value and were set to 0.
	Defaulted []string `json:"defaulted,omitempty"`
	// Ignored lists record fields that are not in the schema. They are
	// dropped without error, which can hide upstream schema drift.
	Ignored []string `json:"ignored,omitempty"`
}

// Reindex maps a record onto the schema order. Absent or unusable values
// become 0 and extra fields are ignored; only array or object values fail,
// with ErrFeatureMismatch.
func (s FeatureSchema) Reindex(record Record) ([]float64, ReindexInfo, error) {
	var info ReindexInfo
	row := make([]float64, len(s.Features))
	for i, name := range s.Features {
		raw, present := record[name]
		if !present {
			info.Defaulted = append(info.Defaulted, name)
			continue
		}
		v, ok, err := featureValue(raw)
		if err != nil {
			return nil, info, fmt.Errorf("%w: field %q: %v", ErrFeatureMismatch, name, err)
		}
		if !ok {
			info.Defaulted = append(info.Defaulted, name)
			continue
		}
		row[i] = v
	}

	for name := range record {
		if s.Index(name) < 0 {
			info.Ignored = append(info.Ignored, name)
		}
	}
	sort.Strings(info.Ignored)
	return row, info, nil
}

// featureValue coerces a scalar. ok is false for values that count as
// missing (nil, empty, the "." marker, text, non-finite numbers).
func featureValue(raw any) (v float64, ok bool, err error) {
	switch x := raw.(type) {
	case nil:
		return 0, false, nil
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int8:
		v = float64(x)
	case int16:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint8:
		v = float64(x)
	case uint16:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case json.Number:
		f, perr := x.Float64()
		if perr != nil {
			return 0, false, nil
		}
		v = f
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "." {
			return 0, false, nil
		}
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, false, nil
		}
		v = f
	default:
		return 0, false, fmt.Errorf("unsupported value type %T", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, nil
	}
	return v, true, nil
}
