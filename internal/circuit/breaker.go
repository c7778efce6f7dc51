package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Calls short-circuited
	StateHalfOpen BreakerState = "half_open" // Probing recovery
)

// ErrOpen is returned when a call is rejected without invoking the operation.
var ErrOpen = errors.New("circuit breaker open")

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // Open duration before half-open
}

// DefaultConfig returns safe defaults
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// Breaker guards an external collaborator (broker, state store). It opens
// after FailureThreshold consecutive failures, rejects calls for Cooldown,
// then lets a single probe through: success closes it, failure re-opens.
type Breaker struct {
	name                string
	config              *Config
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	lastError           string
	mu                  sync.Mutex
	onTrip              func(name, reason string)
	onReset             func(name string)
}

// NewBreaker creates a breaker for the named collaborator.
func NewBreaker(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// OnTrip sets a callback invoked when the breaker opens.
func (b *Breaker) OnTrip(handler func(name, reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets a callback invoked when the breaker closes again.
func (b *Breaker) OnReset(handler func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed transitions to half-open and admits the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := time.Since(b.openedAt)
	if elapsed < b.config.Cooldown {
		remaining := b.config.Cooldown - elapsed
		return fmt.Errorf("%w (%s): cooldown remaining %v, last error: %s",
			ErrOpen, b.name, remaining.Round(time.Second), b.lastError)
	}

	b.state = StateHalfOpen
	return nil
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasProbe := b.state == StateHalfOpen
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.lastError = ""
	handler := b.onReset
	b.mu.Unlock()

	if wasProbe && handler != nil {
		handler(b.name)
	}
}

// RecordFailure counts a failed call. A failed half-open probe re-opens
// immediately; in the closed state the breaker opens once the run of
// consecutive failures reaches the threshold.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	if err != nil {
		b.lastError = err.Error()
	}

	var reason string
	switch b.state {
	case StateHalfOpen:
		reason = "half-open probe failed"
	default:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			reason = fmt.Sprintf("consecutive failures: %d", b.consecutiveFailures)
		}
	}

	var handler func(name, reason string)
	if reason != "" {
		b.state = StateOpen
		b.openedAt = time.Now()
		handler = b.onTrip
	}
	b.mu.Unlock()

	if handler != nil {
		handler(b.name, reason)
	}
}

// Execute runs op under the breaker: rejected when open, and success/failure
// is recorded from op's error.
func (b *Breaker) Execute(op func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := op(); err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns current statistics for the status API.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"name":                 b.name,
		"state":                string(b.state),
		"consecutive_failures": b.consecutiveFailures,
		"opened_at":            b.openedAt,
		"last_error":           b.lastError,
	}
}
