package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ArtifactFormat identifies the on-disk layout of a model artifact.
const ArtifactFormat = "pcosdx.forest/v1"

// Artifact is the single persisted unit: the fitted forest together with
// the feature schema it was trained on.
type Artifact struct {
	Format   string           `json:"format"`
	Schema   FeatureSchema    `json:"schema"`
	Forest   *RandomForest    `json:"forest"`
	Metadata ArtifactMetadata `json:"metadata"`
}

// ArtifactMetadata records how the model was produced.
type ArtifactMetadata struct {
	TrainedAt time.Time `json:"trained_at"`
	Source    string    `json:"source,omitempty"`
	Rows      int       `json:"rows"`
	Seed      int64     `json:"seed"`
	TestRatio float64   `json:"test_ratio"`
	Report    *Report   `json:"report,omitempty"`
}

// Validate checks that the forest and schema agree.
func (a *Artifact) Validate() error {
	if a.Format != ArtifactFormat {
		return fmt.Errorf("unsupported artifact format %q", a.Format)
	}
	if _, err := NewFeatureSchema(a.Schema.Features, a.Schema.Label); err != nil {
		return err
	}
	if a.Forest == nil {
		return errors.New("artifact has no model")
	}
	return a.Forest.Validate(a.Schema.Len())
}

// Save writes the artifact atomically: it is encoded into a temporary file
// in the destination directory, synced, and renamed over path. On any
// failure the destination is left untouched.
func (a *Artifact) Save(path string) (err error) {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifact: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	if err = enc.Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadArtifact decodes and validates an artifact. Every failure wraps
// ErrModelUnavailable.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	dec := json.NewDecoder(r)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", ErrModelUnavailable, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &a, nil
}

// LoadArtifact reads the artifact at path. A missing or corrupt file
// yields ErrModelUnavailable.
func LoadArtifact(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer file.Close()
	return ReadArtifact(file)
}
