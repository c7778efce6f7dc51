package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FallbackTracker bounds how long the bot may run on in-memory state when
// the durable store is unreachable. Past the window the bot must stop taking
// new commitments rather than trade with unpersisted risk state.
type FallbackTracker struct {
	maxWindow    time.Duration
	failureSince time.Time
	logger       zerolog.Logger
	mu           sync.Mutex
}

// NewFallbackTracker creates a tracker with the given window.
func NewFallbackTracker(maxWindow time.Duration, logger zerolog.Logger) *FallbackTracker {
	return &FallbackTracker{
		maxWindow: maxWindow,
		logger:    logger.With().Str("component", "FallbackTracker").Logger(),
	}
}

// RecordSuccess marks a successful checkpoint, closing any open window.
func (f *FallbackTracker) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failureSince.IsZero() {
		f.logger.Info().Msg("checkpoint persisted, fallback window closed")
	}
	f.failureSince = time.Time{}
}

// RecordFailure marks a failed checkpoint, starting the window if not open.
func (f *FallbackTracker) RecordFailure(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failureSince.IsZero() {
		f.failureSince = now
		f.logger.Warn().Dur("max_window", f.maxWindow).Msg("checkpoint failed, running on in-memory state")
	}
}

// MustHalt reports whether the fallback window has been exceeded.
func (f *FallbackTracker) MustHalt(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failureSince.IsZero() {
		return false
	}
	return now.Sub(f.failureSince) > f.maxWindow
}

// Degraded reports whether a window is currently open.
func (f *FallbackTracker) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.failureSince.IsZero()
}
