package safety

import (
	"sync"
	"time"

	"guardian/internal/logging"
)

// DefaultFreshnessWindow is how long a classifier failure keeps the pipeline
// on the fallback path before the classifier is probed again.
const DefaultFreshnessWindow = 30 * time.Second

// ClassifierHealth tracks the shared health state of the remote classifier.
// It is owned by the orchestrator and safely mutable by concurrent
// validations; callers never manage locking themselves.
type ClassifierHealth struct {
	mu            sync.RWMutex
	healthy       bool
	checked       bool
	lastConfirmed time.Time
	lastFailure   time.Time
	window        time.Duration
}

// HealthStatus is a read-only snapshot for metrics surfaces.
type HealthStatus struct {
	Healthy       bool      `json:"healthy"`
	Checked       bool      `json:"checked"`
	LastConfirmed time.Time `json:"last_confirmed"`
	LastFailure   time.Time `json:"last_failure"`
}

// NewClassifierHealth creates a tracker with the given freshness window.
func NewClassifierHealth(window time.Duration) *ClassifierHealth {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	// Optimistic start: the classifier is attempted until it fails.
	return &ClassifierHealth{healthy: true, window: window}
}

// MarkUp records a confirmed successful classifier call.
func (h *ClassifierHealth) MarkUp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.healthy {
		logging.Fallback("classifier recovered; leaving fallback mode")
	}
	h.healthy = true
	h.checked = true
	h.lastConfirmed = time.Now()
}

// MarkDown records a classifier failure.
func (h *ClassifierHealth) MarkDown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.healthy {
		logging.FallbackWarn("classifier marked down; entering fallback mode")
	}
	h.healthy = false
	h.checked = true
	h.lastFailure = time.Now()
}

// ShouldUseFallback reports whether validation should skip the classifier.
// After a failure the pipeline stays on the fallback path for the freshness
// window, then probes the classifier again; a success flips it healthy.
func (h *ClassifierHealth) ShouldUseFallback() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.healthy {
		return false
	}
	return time.Since(h.lastFailure) < h.window
}

// IsStale reports whether no successful confirmation has occurred within the
// freshness window.
func (h *ClassifierHealth) IsStale() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.checked || time.Since(h.lastConfirmed) > h.window
}

// Status returns a snapshot for metrics.
func (h *ClassifierHealth) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthStatus{
		Healthy:       h.healthy,
		Checked:       h.checked,
		LastConfirmed: h.lastConfirmed,
		LastFailure:   h.lastFailure,
	}
}
