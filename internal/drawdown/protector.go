// Package drawdown implements portfolio-level drawdown protection: peak
// equity tracking, a liquidation trigger at a configured drawdown threshold,
// and a cooldown window during which no new entries are permitted.
package drawdown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/broker"
)

// Config holds the protection thresholds.
type Config struct {
	ThresholdPercent float64 `json:"threshold_percent"` // Negative, e.g. -8.0
	RecoveryDays     int     `json:"recovery_days"`
}

// State is the persisted drawdown bookkeeping. PeakValue only moves up
// except through Reset; ProtectionActive implies ProtectionEnd is set.
type State struct {
	PeakValue        float64    `json:"peak_value"`
	ProtectionActive bool       `json:"protection_active"`
	ProtectionEnd    *time.Time `json:"protection_end,omitempty"`
	TriggerCount     int        `json:"trigger_count"`
	MaxDrawdownSeen  float64    `json:"max_drawdown_seen"` // Most negative drawdown ever observed
}

// Protector owns the drawdown state. The status API reads it concurrently
// with the cycle, hence the mutex.
type Protector struct {
	config Config
	state  State
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewProtector creates a protector with a zero state; call Restore to load
// persisted state after startup.
func NewProtector(config Config, logger zerolog.Logger) *Protector {
	return &Protector{
		config: config,
		logger: logger.With().Str("component", "DrawdownProtector").Logger(),
	}
}

// Restore loads persisted state, repairing a stale protection flag whose end
// date already passed.
func (p *Protector) Restore(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.ProtectionActive && (state.ProtectionEnd == nil || !state.ProtectionEnd.After(time.Now())) {
		state.ProtectionActive = false
		state.ProtectionEnd = nil
	}
	p.state = state
}

// State returns a snapshot for persistence and status reporting.
func (p *Protector) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// UpdatePeak raises the peak to value if higher. Reaching a fresh peak while
// protection is active clears the protection early: the portfolio has fully
// recovered, so the cooldown has nothing left to protect.
func (p *Protector) UpdatePeak(value float64) {
	if value <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if value > p.state.PeakValue {
		if p.state.ProtectionActive {
			p.logger.Info().
				Float64("new_peak", value).
				Float64("old_peak", p.state.PeakValue).
				Msg("new equity peak reached, clearing drawdown protection")
			p.state.ProtectionActive = false
			p.state.ProtectionEnd = nil
		}
		p.state.PeakValue = value
	}
}

// CalculateDrawdown returns the drawdown from peak in percent (<= 0) and
// records the worst value ever seen. Returns 0 before the first peak.
func (p *Protector) CalculateDrawdown(value float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.PeakValue <= 0 {
		return 0
	}
	dd := (value - p.state.PeakValue) / p.state.PeakValue * 100
	if dd > 0 {
		dd = 0
	}
	if dd < p.state.MaxDrawdownSeen {
		p.state.MaxDrawdownSeen = dd
	}
	return dd
}

// ShouldTrigger reports whether the drawdown has breached the threshold and
// protection is not already active.
func (p *Protector) ShouldTrigger(value float64) bool {
	dd := p.CalculateDrawdown(value)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.state.ProtectionActive && dd <= p.config.ThresholdPercent
}

// Activate liquidates every open position at market and starts the recovery
// cooldown. Liquidation is best-effort: a failed sell is logged and skipped,
// never rolled back. onLiquidated runs for each successfully closed symbol so
// the caller can clear its per-ticker tracking. Returns the number of
// positions closed.
func (p *Protector) Activate(ctx context.Context, now time.Time, brk broker.Broker, onLiquidated func(symbol string)) int {
	positions, err := brk.GetPositions(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("drawdown trigger could not list positions, liquidation skipped")
		positions = nil
	}

	closed := 0
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		_, err := brk.SubmitOrder(ctx, broker.Order{
			Symbol:   pos.Symbol,
			Quantity: pos.Quantity,
			Side:     broker.SideSell,
		})
		if err != nil {
			p.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("liquidation order failed, skipping")
			continue
		}
		closed++
		if onLiquidated != nil {
			onLiquidated(pos.Symbol)
		}
	}

	end := now.AddDate(0, 0, p.config.RecoveryDays)

	p.mu.Lock()
	p.state.ProtectionActive = true
	p.state.ProtectionEnd = &end
	p.state.TriggerCount++
	trigger := p.state.TriggerCount
	p.mu.Unlock()

	p.logger.Warn().
		Int("positions_closed", closed).
		Time("protection_end", end).
		Int("trigger_count", trigger).
		Msg("drawdown protection activated, portfolio liquidated")

	return closed
}

// IsInRecovery reports whether the cooldown window is still running. A window
// that has elapsed clears the protection flag.
func (p *Protector) IsInRecovery(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.ProtectionActive {
		return false
	}
	if p.state.ProtectionEnd == nil || !now.Before(*p.state.ProtectionEnd) {
		p.state.ProtectionActive = false
		p.state.ProtectionEnd = nil
		return false
	}
	return true
}

// Reset clears all state. Used by operators after manual intervention.
func (p *Protector) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{}
}
