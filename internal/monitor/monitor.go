// Package monitor implements the per-position tiered exit engine. Each open
// position runs a small state machine over profit levels 0, 1 and 2: partial
// profit-taking at tier targets, a kill switch after the first lock-in, a
// chandelier trailing stop at level 2, and volatility-scaled hard backstops
// underneath everything.
package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/broker"
	"swing-trading-bot/internal/indicators"
)

// Config holds the exit engine thresholds.
type Config struct {
	InitialStopATRMult  float64
	TrailingStopATRMult float64
	Tier1TargetPct      float64
	Tier1SellFraction   float64
	Tier2TargetPct      float64
	Tier2SellFraction   float64
	KillSwitchDropPct   float64
	KillSwitchHoldDays  int
	MaxLossLowVol       float64
	MaxLossMediumVol    float64
	MaxLossHighVol      float64
	MaxLossVeryHighVol  float64
	StagnantMaxDays     int
	StagnantMinGainPct  float64
	RemnantMinShares    float64
	RemnantMinValue     float64
	FallbackStopPct     float64
}

// ExitKind names why a position is being reduced or closed.
type ExitKind string

const (
	ExitHardStop     ExitKind = "hard_stop"
	ExitKillSwitch   ExitKind = "kill_switch"
	ExitTrailingStop ExitKind = "trailing_stop"
	ExitTier1        ExitKind = "tier1_target"
	ExitTier2        ExitKind = "tier2_target"
	ExitStagnant     ExitKind = "stagnant"
	ExitRemnant      ExitKind = "remnant_cleanup"
)

// ExitAction is a sell decision for one position. Full actions close the
// remainder; tier actions sell a fraction and advance the profit level once
// committed.
type ExitAction struct {
	Symbol       string   `json:"symbol"`
	Kind         ExitKind `json:"kind"`
	SellQuantity float64  `json:"sell_quantity"`
	Full         bool     `json:"full"`
	Price        float64  `json:"price"`
	Reason       string   `json:"reason"`
}

// Update is the per-cycle input for one open position.
type Update struct {
	Position broker.Position
	ATR      float64 // Current ATR; 0 when history was unavailable
	EMA50    float64 // 0 when unavailable
	Date     time.Time
}

// Monitor owns all position metadata.
type Monitor struct {
	config    Config
	positions map[string]*Metadata
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewMonitor creates an empty monitor.
func NewMonitor(config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		config:    config,
		positions: make(map[string]*Metadata),
		logger:    logger.With().Str("component", "PositionMonitor").Logger(),
	}
}

// Restore loads persisted metadata.
func (m *Monitor) Restore(positions map[string]*Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if positions != nil {
		m.positions = positions
	}
}

// State returns a deep copy of all metadata for persistence.
func (m *Monitor) State() map[string]*Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Metadata, len(m.positions))
	for sym, md := range m.positions {
		copied := *md
		out[sym] = &copied
	}
	return out
}

// Get returns the metadata for a symbol, or nil.
func (m *Monitor) Get(symbol string) *Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if md, ok := m.positions[symbol]; ok {
		copied := *md
		return &copied
	}
	return nil
}

// Count returns the number of tracked positions.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// TrackPosition registers a buy. A fresh buy initializes level-0 metadata; an
// add-on increments AddCount and deliberately preserves all tier, kill-switch
// and lock-price state.
func (m *Monitor) TrackPosition(symbol string, price, atr, score float64, signal string, date time.Time, isAddon bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.positions[symbol]; ok && isAddon {
		existing.AddCount++
		m.logger.Info().
			Str("symbol", symbol).
			Int("add_count", existing.AddCount).
			Int("profit_level", existing.ProfitLevel).
			Msg("add-on buy tracked, tier state preserved")
		return
	}

	m.positions[symbol] = m.newMetadata(symbol, price, atr, score, signal, date, false)
	m.logger.Info().
		Str("symbol", symbol).
		Float64("entry", price).
		Float64("initial_stop", m.positions[symbol].InitialStop).
		Str("volatility", string(m.positions[symbol].Volatility)).
		Msg("position tracked")
}

func (m *Monitor) newMetadata(symbol string, price, atr, score float64, signal string, date time.Time, synthesized bool) *Metadata {
	stop := price * (1 - m.config.FallbackStopPct/100)
	if atr > 0 {
		stop = price - atr*m.config.InitialStopATRMult
	}
	atrPct := 0.0
	if price > 0 {
		atrPct = atr / price * 100
	}
	return &Metadata{
		Symbol:       symbol,
		EntryDate:    date,
		EntrySignal:  signal,
		EntryScore:   score,
		EntryPrice:   price,
		InitialStop:  stop,
		CurrentStop:  stop,
		RiskUnit:     price - stop,
		EntryATR:     atr,
		HighestClose: price,
		Phase:        PhaseEntry,
		Volatility:   ClassifyVolatility(atrPct),
		Synthesized:  synthesized,
	}
}

// EvaluateExits runs the exit chain over every open position and returns the
// actions to execute, first match per position. Bookkeeping (highest close,
// trailing stop raises, kill-switch arming) mutates in place; profit-level
// transitions only happen in CommitExit after the order fills.
func (m *Monitor) EvaluateExits(updates []Update) []ExitAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []ExitAction
	for _, u := range updates {
		md, ok := m.positions[u.Position.Symbol]
		if !ok {
			continue
		}
		if action := m.evaluateOne(md, u); action != nil {
			actions = append(actions, *action)
		}
	}
	return actions
}

func (m *Monitor) evaluateOne(md *Metadata, u Update) *ExitAction {
	price := u.Position.CurrentPrice
	qty := u.Position.Quantity
	if price <= 0 || qty <= 0 {
		return nil
	}

	m.updateBookkeeping(md, u)
	gain := md.GainPercent(price)

	// Remnant cleanup: partial sells can leave a position too small to
	// matter; close it instead of carrying dust.
	if md.PartialTaken && (qty < m.config.RemnantMinShares || qty*price < m.config.RemnantMinValue) {
		return &ExitAction{
			Symbol: md.Symbol, Kind: ExitRemnant, SellQuantity: qty, Full: true, Price: price,
			Reason: fmt.Sprintf("remnant %.0f shares ($%.0f)", qty, qty*price),
		}
	}

	// 1. Hard stop: the position's true floor, enforced at every level.
	if maxLoss := m.maxLossFor(md.Volatility); gain <= -maxLoss {
		return &ExitAction{
			Symbol: md.Symbol, Kind: ExitHardStop, SellQuantity: qty, Full: true, Price: price,
			Reason: fmt.Sprintf("loss %.1f%% breached %s-volatility cap %.1f%%", -gain, md.Volatility, maxLoss),
		}
	}
	if md.ProfitLevel < 2 && price <= md.CurrentStop {
		return &ExitAction{
			Symbol: md.Symbol, Kind: ExitHardStop, SellQuantity: qty, Full: true, Price: price,
			Reason: fmt.Sprintf("price %.2f at stop %.2f", price, md.CurrentStop),
		}
	}

	// 2. Kill switch: tighter stop measured from the lock price.
	if md.KillSwitchActive && md.Tier1LockPrice > 0 {
		killLevel := md.Tier1LockPrice * (1 - m.config.KillSwitchDropPct/100)
		if price <= killLevel {
			return &ExitAction{
				Symbol: md.Symbol, Kind: ExitKillSwitch, SellQuantity: qty, Full: true, Price: price,
				Reason: fmt.Sprintf("price %.2f below kill level %.2f (lock %.2f)", price, killLevel, md.Tier1LockPrice),
			}
		}
	}

	// 3. Trailing stop, level 2 only.
	if md.ProfitLevel >= 2 && price <= md.CurrentStop {
		return &ExitAction{
			Symbol: md.Symbol, Kind: ExitTrailingStop, SellQuantity: qty, Full: true, Price: price,
			Reason: fmt.Sprintf("price %.2f at trailing stop %.2f (peak %.2f)", price, md.CurrentStop, md.PeakPrice),
		}
	}

	// 4. Tier-target crossings.
	if md.ProfitLevel == 0 && gain >= m.config.Tier1TargetPct {
		sell := math.Floor(qty * m.config.Tier1SellFraction)
		if sell >= 1 {
			return &ExitAction{
				Symbol: md.Symbol, Kind: ExitTier1, SellQuantity: sell, Price: price,
				Reason: fmt.Sprintf("gain %.1f%% reached tier-1 target %.1f%%", gain, m.config.Tier1TargetPct),
			}
		}
	}
	if md.ProfitLevel == 1 && gain >= m.config.Tier2TargetPct {
		sell := math.Floor(qty * m.config.Tier2SellFraction)
		if sell >= 1 {
			return &ExitAction{
				Symbol: md.Symbol, Kind: ExitTier2, SellQuantity: sell, Price: price,
				Reason: fmt.Sprintf("gain %.1f%% reached tier-2 target %.1f%%", gain, m.config.Tier2TargetPct),
			}
		}
	}

	// 5. Stagnant positions tie up capital without earning their slot.
	if held := md.HeldDays(u.Date); held >= m.config.StagnantMaxDays && gain < m.config.StagnantMinGainPct {
		return &ExitAction{
			Symbol: md.Symbol, Kind: ExitStagnant, SellQuantity: qty, Full: true, Price: price,
			Reason: fmt.Sprintf("held %d days with %.1f%% gain", held, gain),
		}
	}

	return nil
}

// updateBookkeeping advances the passive per-bar state: highest close, peak
// tracking with trailing stop raises, hold-based kill-switch arming, and the
// EMA50 counter. Stops only move up.
func (m *Monitor) updateBookkeeping(md *Metadata, u Update) {
	price := u.Position.CurrentPrice

	if price > md.HighestClose {
		md.HighestClose = price
	}

	if md.ProfitLevel >= 2 {
		if price > md.PeakPrice {
			md.PeakPrice = price
		}
		atr := u.ATR
		if atr <= 0 {
			atr = md.EntryATR
		}
		stop := indicators.ChandelierStop(md.PeakPrice, atr, m.config.TrailingStopATRMult, m.config.FallbackStopPct)
		if stop > md.CurrentStop {
			md.CurrentStop = stop
		}
	}

	// The kill switch arms on its own after the minimum hold, anchored at
	// the highest close seen so far.
	if !md.KillSwitchActive && md.HeldDays(u.Date) >= m.config.KillSwitchHoldDays {
		md.KillSwitchActive = true
		if md.Tier1LockPrice == 0 {
			md.Tier1LockPrice = md.HighestClose
		}
		m.logger.Debug().Str("symbol", md.Symbol).Float64("lock", md.Tier1LockPrice).Msg("kill switch armed by hold timer")
	}

	if u.EMA50 > 0 {
		if price < u.EMA50 {
			md.BarsBelowEMA50++
		} else {
			md.BarsBelowEMA50 = 0
		}
	}
}

// CommitExit applies the state transition for a filled exit order. Tier
// actions advance the profit level; full exits leave cleanup to
// CleanPositionMetadata.
func (m *Monitor) CommitExit(action ExitAction, fillPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	md, ok := m.positions[action.Symbol]
	if !ok {
		return
	}

	switch action.Kind {
	case ExitTier1:
		if md.ProfitLevel != 0 {
			return // Level only moves forward
		}
		md.ProfitLevel = 1
		md.Tier1LockPrice = fillPrice
		md.KillSwitchActive = true
		md.PartialTaken = true
		md.Phase = PhaseTier1
		md.RealizedPnL += (fillPrice - md.EntryPrice) * action.SellQuantity
		m.logger.Info().Str("symbol", md.Symbol).Float64("lock", fillPrice).Msg("tier 1 reached, kill switch active")
	case ExitTier2:
		if md.ProfitLevel != 1 {
			return
		}
		md.ProfitLevel = 2
		md.PeakPrice = fillPrice
		md.PartialTaken = true
		md.Phase = PhaseTier2Trailing
		md.RealizedPnL += (fillPrice - md.EntryPrice) * action.SellQuantity
		atr := md.EntryATR
		stop := indicators.ChandelierStop(md.PeakPrice, atr, m.config.TrailingStopATRMult, m.config.FallbackStopPct)
		if stop > md.CurrentStop {
			md.CurrentStop = stop
		}
		m.logger.Info().Str("symbol", md.Symbol).Float64("peak", fillPrice).Msg("tier 2 reached, trailing stop engaged")
	}
}

// CleanPositionMetadata deletes tracking after a full close. Must run exactly
// once per full exit or state leaks.
func (m *Monitor) CleanPositionMetadata(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// Reconcile cross-validates tracked metadata against broker-reported
// positions. Broker positions without metadata get minimal synthesized
// metadata; orphaned metadata is removed. Returns human-readable warnings.
func (m *Monitor) Reconcile(positions []broker.Position, date time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []string
	live := make(map[string]bool, len(positions))

	for _, pos := range positions {
		live[pos.Symbol] = true
		if _, ok := m.positions[pos.Symbol]; ok {
			continue
		}
		m.positions[pos.Symbol] = m.newMetadata(pos.Symbol, pos.CurrentPrice, 0, 0, "reconciled", date, true)
		warnings = append(warnings,
			fmt.Sprintf("broker position %s had no metadata, synthesized at %.2f", pos.Symbol, pos.CurrentPrice))
	}

	for symbol := range m.positions {
		if !live[symbol] {
			delete(m.positions, symbol)
			warnings = append(warnings,
				fmt.Sprintf("metadata for %s had no broker position, removed", symbol))
		}
	}

	for _, w := range warnings {
		m.logger.Warn().Msg(w)
	}
	return warnings
}

func (m *Monitor) maxLossFor(class VolatilityClass) float64 {
	switch class {
	case VolLow:
		return m.config.MaxLossLowVol
	case VolMedium:
		return m.config.MaxLossMediumVol
	case VolHigh:
		return m.config.MaxLossHighVol
	default:
		return m.config.MaxLossVeryHighVol
	}
}
