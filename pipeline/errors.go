package pipeline

import "errors"

var (
	// ErrSchema is returned when the label column or the feature columns
	// required for training are missing or malformed.
	ErrSchema = errors.New("schema error")
	// ErrEmptyDataset is returned when no usable rows survive cleaning.
	ErrEmptyDataset = errors.New("empty dataset")
)
