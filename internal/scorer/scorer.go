// Package scorer exposes the trained diagnostic model as an opaque scoring
// capability behind a process-wide handle.
package scorer

import (
	"context"
	"errors"
	"sync"

	"github.com/example/oncoscan/internal/imaging"
)

// ErrUnavailable is returned when no model has been loaded into the handle.
var ErrUnavailable = errors.New("scorer: model not loaded")

// Scorer produces a malignancy confidence in [0, 1] for a normalized scan
// tensor. Implementations must be safe for concurrent use; a runtime that
// cannot score in parallel has to serialize internally.
type Scorer interface {
	Score(ctx context.Context, t imaging.Tensor) (float64, error)
}

// Handle is the process-wide holder for the scoring model. It is loaded at
// most once at startup and read concurrently by every inference request.
// An empty handle is a first-class "not ready" state, probed via
// IsAvailable, rather than a condition to crash on.
type Handle struct {
	mu sync.RWMutex
	s  Scorer
}

// NewHandle returns an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Load installs the scorer. A later Load replaces the previous scorer.
func (h *Handle) Load(s Scorer) {
	h.mu.Lock()
	h.s = s
	h.mu.Unlock()
}

// IsAvailable reports whether a model has been loaded.
func (h *Handle) IsAvailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.s != nil
}

// Score delegates to the loaded model, or fails with ErrUnavailable.
func (h *Handle) Score(ctx context.Context, t imaging.Tensor) (float64, error) {
	h.mu.RLock()
	s := h.s
	h.mu.RUnlock()
	if s == nil {
		return 0, ErrUnavailable
	}
	return s.Score(ctx, t)
}
