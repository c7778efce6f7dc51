// Package rotation implements per-ticker performance tiering. Each traded
// symbol accumulates win/loss bookkeeping; a periodic evaluation pass assigns
// a capital-multiplier tier. Frozen tickers are untradeable and only thaw
// after several consecutive qualifying passes.
package rotation

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tier classifies a ticker's capital treatment.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierFrozen   Tier = "frozen"
)

// Config holds the tiering thresholds. Win rates are percentages.
type Config struct {
	CadenceDays            int
	FrozenMinTrades        int
	FrozenWinRate          float64
	PremiumMinTrades       int
	PremiumWinRate         float64
	PremiumMinProfitFactor float64
	StandardMinTrades      int
	StandardWinRate        float64
	RecoveryPasses         int
	PremiumMultiplier      float64
	StandardMultiplier     float64
}

// Record is the persisted per-ticker bookkeeping. Records are never deleted;
// the history survives for the strategy's lifetime.
type Record struct {
	Symbol            string    `json:"symbol"`
	Tier              Tier      `json:"tier"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	TotalTrades       int       `json:"total_trades"`
	TotalWins         int       `json:"total_wins"`
	TotalPnL          float64   `json:"total_pnl"`
	TotalWinPnL       float64   `json:"total_win_pnl"`
	TotalLossPnL      float64   `json:"total_loss_pnl"` // Stored positive
	LastTierChange    time.Time `json:"last_tier_change"`
	RecoveryPassCount int       `json:"recovery_pass_count"`
}

// WinRate returns the win percentage, or 0 with no trades.
func (r *Record) WinRate() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	return float64(r.TotalWins) / float64(r.TotalTrades) * 100
}

/// ProfitFactor returns gross wins over gross losses: +Inf when there are
// wins but no losses, 0 with no trades.
func (r *Record) ProfitFactor() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	if r.TotalLossPnL == 0 {
		if r.TotalWinPnL > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return r.TotalWinPnL / r.TotalLossPnL
}

// State is the persisted manager state.
type State struct {
	Records map[string]*Record `json:"records"`
	LastRun time.Time          `json:"last_run"`
}

// Manager owns the rotation records.
type Manager struct {
	config  Config
	records map[string]*Record
	lastRun time.Time
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// NewManager creates an empty rotation manager.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		config:  config,
		records: make(map[string]*Record),
		logger:  logger.With().Str("component", "StockRotation").Logger(),
	}
}

// Restore loads persisted state.
func (m *Manager) Restore(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Records != nil {
		m.records = state.Records
	}
	m.lastRun = state.LastRun
}

// State returns a snapshot for persistence.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make(map[string]*Record, len(m.records))
	for sym, r := range m.records {
		copied := *r
		records[sym] = &copied
	}
	return State{Records: records, LastRun: m.lastRun}
}

// record returns the ticker's record, creating a standard-tier one on first
// sight. Caller holds the lock.
func (m *Manager) record(symbol string) *Record {
	r, ok := m.records[symbol]
	if !ok {
		r = &Record{Symbol: symbol, Tier: TierStandard}
		m.records[symbol] = r
	}
	return r
}

// RecordTradeClose folds a closed trade's realized P&L into the ticker's
// running aggregates. Called once per full position close.
func (m *Manager) RecordTradeClose(symbol string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.record(symbol)
	r.TotalTrades++
	r.TotalPnL += pnl
	if pnl > 0 {
		r.TotalWins++
		r.TotalWinPnL += pnl
		r.ConsecutiveWins++
		r.ConsecutiveLosses = 0
	} else {
		r.TotalLossPnL += -pnl
		r.ConsecutiveLosses++
		r.ConsecutiveWins = 0
	}
}

// ClearTicker wipes a ticker's running streaks after a forced liquidation so
// the drawdown exit does not poison its tier. Totals stay: the trade history
// is still real.
func (m *Manager) ClearTicker(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[symbol]; ok {
		r.ConsecutiveWins = 0
		r.ConsecutiveLosses = 0
	}
}

// ShouldEvaluate reports whether the cadence has elapsed since the last pass.
func (m *Manager) ShouldEvaluate(date time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRun.IsZero() {
		return true
	}
	return date.Sub(m.lastRun) >= time.Duration(m.config.CadenceDays)*24*time.Hour
}

// Evaluate runs one tiering pass over the given tickers. Tier assignment in
// priority order: frozen, premium, standard. A frozen ticker needs
// RecoveryPasses consecutive qualifying passes before thawing; one good pass
// is not enough.
func (m *Manager) Evaluate(tickers []string, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRun = date
	for _, symbol := range tickers {
		r := m.record(symbol)
		old := r.Tier
		m.evaluateRecord(r, date)
		if r.Tier != old {
			m.logger.Info().
				Str("symbol", symbol).
				Str("from", string(old)).
				Str("to", string(r.Tier)).
				Float64("win_rate", r.WinRate()).
				Float64("profit_factor", r.ProfitFactor()).
				Msg("ticker tier changed")
		}
	}
}

func (m *Manager) evaluateRecord(r *Record, date time.Time) {
	winRate := r.WinRate()

	if r.Tier == TierFrozen {
		// Hysteresis: count consecutive passes meeting the standard bar.
		if r.TotalTrades >= m.config.StandardMinTrades && winRate >= m.config.StandardWinRate {
			r.RecoveryPassCount++
			if r.RecoveryPassCount >= m.config.RecoveryPasses {
				r.Tier = TierStandard
				r.RecoveryPassCount = 0
				r.LastTierChange = date
			}
		} else {
			r.RecoveryPassCount = 0
		}
		return
	}

	switch {
	case r.TotalTrades >= m.config.FrozenMinTrades && winRate < m.config.FrozenWinRate:
		r.Tier = TierFrozen
		r.RecoveryPassCount = 0
		r.LastTierChange = date
	case r.TotalTrades >= m.config.PremiumMinTrades &&
		winRate >= m.config.PremiumWinRate &&
		r.TotalPnL > 0 &&
		r.ProfitFactor() >= m.config.PremiumMinProfitFactor:
		if r.Tier != TierPremium {
			r.Tier = TierPremium
			r.LastTierChange = date
		}
	default:
		// Standard covers both qualifying tickers and anything with too
		// little data for the other tiers.
		if r.Tier != TierStandard {
			r.Tier = TierStandard
			r.LastTierChange = date
		}
	}
}

// Multiplier returns the capital multiplier for a ticker. Unknown tickers
// trade at the standard multiplier; frozen tickers at 0.
func (m *Manager) Multiplier(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[symbol]
	if !ok {
		return m.config.StandardMultiplier
	}
	switch r.Tier {
	case TierPremium:
		return m.config.PremiumMultiplier
	case TierFrozen:
		return 0
	default:
		return m.config.StandardMultiplier
	}
}

// IsTradeable reports whether the ticker may be scanned for entries at all.
// Frozen tickers are skipped before signal evaluation, not down-weighted.
func (m *Manager) IsTradeable(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[symbol]
	return !ok || r.Tier != TierFrozen
}

// Records returns a snapshot of all records for the status API.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}
