package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Holder serves predictions from whichever Predictor is currently
// installed. Swapping installs a new immutable predictor; the previous one
// is never modified. An empty Holder reports ErrModelUnavailable.
type Holder struct {
	current atomic.Pointer[Predictor]
}

// NewHolder returns a holder serving p, which may be nil.
func NewHolder(p *Predictor) *Holder {
	h := &Holder{}
	if p != nil {
		h.current.Store(p)
	}
	return h
}

// Swap installs p.
func (h *Holder) Swap(p *Predictor) { h.current.Store(p) }

// Current returns the installed predictor or nil.
func (h *Holder) Current() *Predictor { return h.current.Load() }

// Loaded reports whether a model is installed.
func (h *Holder) Loaded() bool { return h.current.Load() != nil }

func (h *Holder) Predict(ctx context.Context, record Record) (Prediction, error) {
	return h.current.Load().Predict(ctx, record)
}

func (h *Holder) Schema() (FeatureSchema, error) {
	return h.current.Load().Schema()
}

// WatchArtifact reloads the artifact at path into h whenever the file is
// created, written or renamed into place, until ctx is done. The directory
// is watched rather than the file so atomic renames are seen; it is created
// when missing so a server started before the first training run still
// picks the artifact up. A reload that fails keeps the previous model.
func WatchArtifact(ctx context.Context, h *Holder, path string, logger *zap.Logger, opts ...PredictorOption) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// editors and copy tools emit bursts of events; settle before loading
	const settle = 200 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				pending = time.After(settle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("artifact watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			p, err := LoadModel(target, opts...)
			if err != nil {
				logger.Warn("artifact reload failed, keeping current model", zap.String("path", target), zap.Error(err))
				continue
			}
			h.Swap(p)
			logger.Info("artifact reloaded",
				zap.String("path", target),
				zap.Time("trained_at", p.Metadata().TrainedAt),
			)
		}
	}
}
