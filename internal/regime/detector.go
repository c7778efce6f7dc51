// Package regime implements the market-regime detector: a three-phase
// bottoming-structure state machine over the benchmark index (capitulation,
// swing-low confirmation, follow-through) that gates whether new entries are
// allowed at all while the benchmark trades below its long moving average,
// and under what capital multiplier once recovery mode activates.
package regime

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/indicators"
	"swing-trading-bot/internal/market"
)

// Config holds the detector thresholds. See config.RegimeConfig for the
// shipped defaults.
type Config struct {
	ShortEMAPeriod         int
	HistoryBars            int
	CapitulationDropPct    float64
	CapitulationVolumeMult float64
	CascadeDays            int
	CascadeDropPct         float64
	SwingLowHoldBars       int
	SwingLowTolerancePct   float64
	FollowThroughMinWait   int
	FollowThroughMaxWait   int
	FollowThroughGainPct   float64
	FollowThroughAltGain   float64
	FollowThroughVolMult   float64
	MaxRecoveryDays        int
	RecoveryDownDays       int
	BreadthFloorPct        float64
	SwingLowBreakPct       float64
	RecoveryMultiplier     float64
	RecoveryMaxPositions   int
	RecoveryMaxPositionsHL int
	RecoveryProfitTarget   float64
	NormalMaxPositions     int
}

// volumeLookback is the window used for average-volume comparisons.
const volumeLookback = 20

// Capitulation is phase 1: a panic flush that marks a candidate bottom.
type Capitulation struct {
	Detected bool      `json:"detected"`
	Date     time.Time `json:"date"`
	LowPrice float64   `json:"low_price"`
}

// SwingLow is phase 2: the capitulation low held for the required bars.
type SwingLow struct {
	Confirmed bool      `json:"confirmed"`
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
}

// FollowThrough is phase 3: the up-day that confirms the bottom.
type FollowThrough struct {
	Detected bool      `json:"detected"`
	Date     time.Time `json:"date"`
}

// Structure is the persisted bottoming-structure state. Phases only advance
// forward; a reset returns to no-structure while PriorSwingLow survives for
// higher-low comparison.
type Structure struct {
	Capitulation  Capitulation      `json:"capitulation"`
	SwingLow      SwingLow          `json:"swing_low"`
	FollowThrough FollowThrough     `json:"follow_through"`
	PriorSwingLow float64           `json:"prior_swing_low"`
	IsHigherLow   bool              `json:"is_higher_low"`
	History       *market.BarWindow `json:"history"`
}

// Recovery is the persisted recovery-mode state derived from the structure.
type Recovery struct {
	Active          bool       `json:"active"`
	StartDate       time.Time  `json:"start_date"`
	ActivationCount int        `json:"activation_count"`
	LockStartDate   *time.Time `json:"lock_start_date,omitempty"`
	MaxPositions    int        `json:"max_positions"`
}

// State bundles everything the detector persists.
type State struct {
	Structure Structure `json:"structure"`
	Recovery  Recovery  `json:"recovery"`
}

// Assessment is the sole interface the sizing and scanning components
// consume, produced once per cycle.
type Assessment struct {
	RecoveryModeActive bool    `json:"recovery_mode_active"`
	PositionMultiplier float64 `json:"position_multiplier"`
	MaxPositions       int     `json:"max_positions"`
	AllowEntries       bool    `json:"allow_entries"`
	ProfitTarget       float64 `json:"profit_target"`
	Reason             string  `json:"reason"`
}

// Detector owns the regime state machine.
type Detector struct {
	config Config
	state  State
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewDetector creates a detector with empty structure state.
func NewDetector(config Config, logger zerolog.Logger) *Detector {
	if config.HistoryBars <= 0 {
		config.HistoryBars = 50
	}
	return &Detector{
		config: config,
		state: State{
			Structure: Structure{History: market.NewBarWindow(config.HistoryBars)},
		},
		logger: logger.With().Str("component", "RegimeDetector").Logger(),
	}
}

// Restore loads persisted detector state.
func (d *Detector) Restore(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state.Structure.History == nil {
		state.Structure.History = market.NewBarWindow(d.config.HistoryBars)
	}
	d.state = state
}

// State returns a snapshot for persistence and status reporting.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Evaluate advances the state machine with today's benchmark bar and returns
// the cycle's assessment. isBelowLongSMA is the lock condition (benchmark
// below its long moving average); breadthPct is the share of the universe
// trading above its short moving average.
func (d *Detector) Evaluate(date time.Time, bar market.Bar, isBelowLongSMA bool, breadthPct float64) Assessment {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Structure.History.Append(bar)

	if !isBelowLongSMA {
		// Healthy tape: no lock, no structure tracking needed.
		if d.state.Recovery.LockStartDate != nil || d.state.Recovery.Active {
			d.logger.Info().Msg("benchmark back above long SMA, clearing regime lock")
		}
		d.clearLock()
		return Assessment{
			PositionMultiplier: 1.0,
			MaxPositions:       d.config.NormalMaxPositions,
			AllowEntries:       true,
			Reason:             "normal",
		}
	}

	if d.state.Recovery.LockStartDate == nil {
		t := date
		d.state.Recovery.LockStartDate = &t
		d.logger.Info().Time("date", date).Msg("benchmark below long SMA, regime lock started")
	}

	if d.state.Recovery.Active {
		if reason := d.recoveryExitReason(date, bar, breadthPct); reason != "" {
			d.logger.Info().Str("reason", reason).Msg("recovery mode deactivated")
			d.deactivateRecovery()
		} else {
			return d.recoveryAssessment()
		}
	}

	d.advanceStructure(date, bar)

	if d.state.Structure.FollowThrough.Detected && !d.state.Recovery.Active {
		d.activateRecovery(date)
		return d.recoveryAssessment()
	}

	return Assessment{
		PositionMultiplier: 0,
		MaxPositions:       0,
		AllowEntries:       false,
		Reason:             d.phaseReason(),
	}
}

// advanceStructure runs phase detection for one bar.
func (d *Detector) advanceStructure(date time.Time, bar market.Bar) {
	s := &d.state.Structure

	if capLow, ok := d.detectCapitulation(bar); ok {
		// A fresh panic flush overwrites any in-progress lower phases. The
		// previously confirmed swing low survives for higher-low comparison.
		if s.SwingLow.Confirmed {
			s.PriorSwingLow = s.SwingLow.Price
		}
		s.Capitulation = Capitulation{Detected: true, Date: date, LowPrice: capLow}
		s.SwingLow = SwingLow{}
		s.FollowThrough = FollowThrough{}
		s.IsHigherLow = false
		d.logger.Info().Float64("low", capLow).Time("date", date).Msg("capitulation detected")
		return
	}

	if s.Capitulation.Detected && !s.SwingLow.Confirmed {
		d.checkSwingLow(date, bar)
		return
	}

	if s.SwingLow.Confirmed && !s.FollowThrough.Detected {
		d.checkFollowThrough(date, bar)
	}
}

// detectCapitulation fires on a single-day panic drop on heavy volume, or on
// a multi-day cascade totaling the configured decline. Returns the low of
// the triggering window.
func (d *Detector) detectCapitulation(bar market.Bar) (float64, bool) {
	h := d.state.Structure.History
	prev, ok := h.Prev(1)
	if !ok {
		return 0, false
	}

	change := bar.ChangePercent(prev)
	avgVol := market.AverageVolume(h.Bars[:h.Len()-1], volumeLookback)

	if change <= -d.config.CapitulationDropPct && avgVol > 0 && bar.Volume >= avgVol*d.config.CapitulationVolumeMult {
		return bar.Low, true
	}

	// Cascade: CascadeDays consecutive down days totaling CascadeDropPct.
	if h.ConsecutiveDownDays() >= d.config.CascadeDays {
		start, ok := h.Prev(d.config.CascadeDays)
		if ok && start.Close > 0 {
			decline := (start.Close - bar.Close) / start.Close * 100
			if decline >= d.config.CascadeDropPct {
				low := bar.Low
				for i := 0; i < d.config.CascadeDays; i++ {
					if b, ok := h.Prev(i); ok && b.Low < low {
						low = b.Low
					}
				}
				return low, true
			}
		}
	}
	return 0, false
}

// checkSwingLow confirms the swing low once price has held above the
// capitulation low (within tolerance) for the required bars. An undercut
// moves the candidate low down and restarts the hold count instead of
// abandoning the structure.
func (d *Detector) checkSwingLow(date time.Time, bar market.Bar) {
	s := &d.state.Structure
	floor := s.Capitulation.LowPrice * (1 - d.config.SwingLowTolerancePct/100)

	if bar.Low < floor {
		s.Capitulation.Date = date
		s.Capitulation.LowPrice = bar.Low
		return
	}

	held := d.barsSince(s.Capitulation.Date)
	if held < d.config.SwingLowHoldBars {
		return
	}

	s.SwingLow = SwingLow{Confirmed: true, Date: date, Price: s.Capitulation.LowPrice}
	s.IsHigherLow = s.PriorSwingLow > 0 && s.SwingLow.Price > s.PriorSwingLow
	d.logger.Info().
		Float64("price", s.SwingLow.Price).
		Bool("higher_low", s.IsHigherLow).
		Msg("swing low confirmed")
}

// checkFollowThrough looks for the confirming up-day inside the bounded
// window. Window expiry resets the structure, preserving the swing low.
func (d *Detector) checkFollowThrough(date time.Time, bar market.Bar) {
	s := &d.state.Structure
	elapsed := d.barsSince(s.SwingLow.Date)

	if elapsed > d.config.FollowThroughMaxWait {
		d.logger.Info().Int("bars", elapsed).Msg("follow-through window expired, structure reset")
		d.resetStructure()
		return
	}
	if elapsed < d.config.FollowThroughMinWait {
		return
	}

	h := d.state.Structure.History
	prev, ok := h.Prev(1)
	if !ok {
		return
	}
	gain := bar.ChangePercent(prev)
	avgVol := market.AverageVolume(h.Bars[:h.Len()-1], volumeLookback)
	shortEMA := indicators.EMA(h.Bars, d.config.ShortEMAPeriod)

	strongDay := gain >= d.config.FollowThroughGainPct && avgVol > 0 && bar.Volume >= avgVol*d.config.FollowThroughVolMult
	emaReclaim := gain >= d.config.FollowThroughAltGain && shortEMA > 0 && bar.Close > shortEMA

	if strongDay || emaReclaim {
		s.FollowThrough = FollowThrough{Detected: true, Date: date}
		d.logger.Info().Float64("gain", gain).Bool("ema_reclaim", emaReclaim).Msg("follow-through confirmed")
	}
}

// recoveryExitReason returns a non-empty reason when recovery mode must end.
func (d *Detector) recoveryExitReason(date time.Time, bar market.Bar, breadthPct float64) string {
	r := d.state.Recovery
	s := d.state.Structure

	if days := int(date.Sub(r.StartDate).Hours() / 24); days >= d.config.MaxRecoveryDays {
		return fmt.Sprintf("max duration reached (%d days)", days)
	}
	if down := s.History.ConsecutiveDownDays(); down >= d.config.RecoveryDownDays {
		return fmt.Sprintf("%d consecutive down days", down)
	}
	if breadthPct >= 0 && breadthPct < d.config.BreadthFloorPct {
		return fmt.Sprintf("breadth collapsed to %.1f%%", breadthPct)
	}
	if s.SwingLow.Confirmed {
		breakLevel := s.SwingLow.Price * (1 - d.config.SwingLowBreakPct/100)
		if bar.Close < breakLevel {
			return fmt.Sprintf("price %.2f broke confirmed swing low %.2f", bar.Close, s.SwingLow.Price)
		}
	}
	return ""
}

func (d *Detector) activateRecovery(date time.Time) {
	maxPositions := d.config.RecoveryMaxPositions
	if d.state.Structure.IsHigherLow {
		maxPositions = d.config.RecoveryMaxPositionsHL
	}
	d.state.Recovery.Active = true
	d.state.Recovery.StartDate = date
	d.state.Recovery.ActivationCount++
	d.state.Recovery.MaxPositions = maxPositions
	d.logger.Info().
		Int("max_positions", maxPositions).
		Bool("higher_low", d.state.Structure.IsHigherLow).
		Int("activation_count", d.state.Recovery.ActivationCount).
		Msg("recovery mode activated")
}

// deactivateRecovery resets structure state but preserves the lock.
func (d *Detector) deactivateRecovery() {
	d.state.Recovery.Active = false
	d.state.Recovery.MaxPositions = 0
	d.resetStructure()
}

// resetStructure returns to no-structure. A confirmed swing low is promoted
// to PriorSwingLow so the next cycle can flag a higher low.
func (d *Detector) resetStructure() {
	s := &d.state.Structure
	if s.SwingLow.Confirmed {
		s.PriorSwingLow = s.SwingLow.Price
	}
	history := s.History
	prior := s.PriorSwingLow
	d.state.Structure = Structure{History: history, PriorSwingLow: prior}
}

// clearLock drops the lock, recovery mode and all structure state.
func (d *Detector) clearLock() {
	d.resetStructure()
	d.state.Recovery.Active = false
	d.state.Recovery.LockStartDate = nil
	d.state.Recovery.MaxPositions = 0
}

func (d *Detector) recoveryAssessment() Assessment {
	return Assessment{
		RecoveryModeActive: true,
		PositionMultiplier: d.config.RecoveryMultiplier,
		MaxPositions:       d.state.Recovery.MaxPositions,
		AllowEntries:       true,
		ProfitTarget:       d.config.RecoveryProfitTarget,
		Reason:             "recovery mode",
	}
}

// phaseReason names the in-progress phase for the cycle outcome.
func (d *Detector) phaseReason() string {
	s := d.state.Structure
	switch {
	case s.SwingLow.Confirmed:
		return "locked: awaiting follow-through"
	case s.Capitulation.Detected:
		return "locked: awaiting swing-low confirmation"
	default:
		return "locked: awaiting capitulation"
	}
}

// barsSince counts history bars strictly after date.
func (d *Detector) barsSince(date time.Time) int {
	count := 0
	for _, b := range d.state.Structure.History.Bars {
		if b.Date.After(date) {
			count++
		}
	}
	return count
}
