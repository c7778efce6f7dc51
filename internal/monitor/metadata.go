package monitor

import "time"

// VolatilityClass buckets a position by its entry ATR relative to price.
// The hard max-loss backstop scales with the class.
type VolatilityClass string

const (
	VolLow      VolatilityClass = "low"
	VolMedium   VolatilityClass = "medium"
	VolHigh     VolatilityClass = "high"
	VolVeryHigh VolatilityClass = "very_high"
)

// ClassifyVolatility buckets by ATR as a percentage of price.
func ClassifyVolatility(atrPercent float64) VolatilityClass {
	switch {
	case atrPercent < 2.0:
		return VolLow
	case atrPercent < 3.5:
		return VolMedium
	case atrPercent < 5.0:
		return VolHigh
	default:
		return VolVeryHigh
	}
}

// Position phases, recorded for reporting. ProfitLevel is the machine state;
// Phase is its human-readable shadow.
const (
	PhaseEntry         = "entry"
	PhaseTier1         = "tier1"
	PhaseTier2Trailing = "tier2_trailing"
)

// Metadata is the per-position state owned exclusively by the Monitor.
// Created when a buy is tracked, mutated by exit evaluation and add-on buys,
// destroyed on full close.
type Metadata struct {
	Symbol           string          `json:"symbol"`
	EntryDate        time.Time       `json:"entry_date"`
	EntrySignal      string          `json:"entry_signal"`
	EntryScore       float64         `json:"entry_score"`
	EntryPrice       float64         `json:"entry_price"`
	ProfitLevel      int             `json:"profit_level"` // 0, 1 or 2; only increases
	Tier1LockPrice   float64         `json:"tier1_lock_price"`
	PeakPrice        float64         `json:"peak_price"`
	KillSwitchActive bool            `json:"kill_switch_active"`
	AddCount         int             `json:"add_count"`
	InitialStop      float64         `json:"initial_stop"`
	CurrentStop      float64         `json:"current_stop"`
	RiskUnit         float64         `json:"risk_unit"` // R: entry minus initial stop
	EntryATR         float64         `json:"entry_atr"`
	HighestClose     float64         `json:"highest_close"`
	Phase            string          `json:"phase"`
	BarsBelowEMA50   int             `json:"bars_below_ema50"`
	PartialTaken     bool            `json:"partial_taken"`
	RealizedPnL      float64         `json:"realized_pnl"` // Accumulated over partial sells
	Volatility       VolatilityClass `json:"volatility"`
	Synthesized      bool            `json:"synthesized"` // Repaired at reconciliation, not tracked from entry
}

// GainPercent returns the unrealized gain at price in percent of entry.
func (m *Metadata) GainPercent(price float64) float64 {
	if m.EntryPrice == 0 {
		return 0
	}
	return (price - m.EntryPrice) / m.EntryPrice * 100
}

// RMultiple returns the gain at price in risk units.
func (m *Metadata) RMultiple(price float64) float64 {
	if m.RiskUnit <= 0 {
		return 0
	}
	return (price - m.EntryPrice) / m.RiskUnit
}

// HeldDays returns whole days since entry.
func (m *Metadata) HeldDays(now time.Time) int {
	return int(now.Sub(m.EntryDate).Hours() / 24)
}
