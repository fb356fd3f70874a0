package ml

// LoadModel reads the artifact at path and returns a predictor bound to it.
// A missing, truncated or inconsistent artifact yields ErrModelUnavailable.
func LoadModel(path string, opts ...PredictorOption) (*Predictor, error) {
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return NewPredictor(artifact, opts...)
}
