// Package bot runs the trading cycle: portfolio snapshot, drawdown
// protection, regime assessment, position reconciliation, exits, rotation,
// scanning, entries, and the cycle checkpoint. Everything else in internal/
// is a collaborator this package orchestrates.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"swing-trading-bot/config"
	"swing-trading-bot/internal/broker"
	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/events"
	"swing-trading-bot/internal/indicators"
	"swing-trading-bot/internal/market"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
	"swing-trading-bot/internal/scanner"
	"swing-trading-bot/internal/sizing"
	"swing-trading-bot/internal/store"
)

// Cycle outcome statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusFailure = "failure"
)

// CycleOutcome summarizes one completed cycle for the status API and logs.
type CycleOutcome struct {
	ID              string            `json:"id"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
	Status          string            `json:"status"`
	Warnings        []string          `json:"warnings,omitempty"`
	OrdersSubmitted int               `json:"orders_submitted"`
	ExitsExecuted   int               `json:"exits_executed"`
	EntriesOpened   int               `json:"entries_opened"`
	PortfolioValue  float64           `json:"portfolio_value"`
	DrawdownPercent float64           `json:"drawdown_percent"`
	Regime          regime.Assessment `json:"regime"`
}

func (o *CycleOutcome) warn(format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Components bundles the collaborators the bot orchestrates. Store may be
// degraded at runtime; Cache may be redis-less (in-memory only).
type Components struct {
	Broker    broker.Broker
	Data      market.Data
	Store     *store.Store
	Cache     *store.PositionCache
	Fallback  *store.FallbackTracker
	Protector *drawdown.Protector
	Regime    *regime.Detector
	Rotation  *rotation.Manager
	Monitor   *monitor.Monitor
	Sizer     *sizing.Sizer
	Scanner   *scanner.Scanner
	Bus       *events.Bus
}

// Bot owns the cycle loop.
type Bot struct {
	cfg    *config.Config
	c      Components
	logger zerolog.Logger

	mu            sync.RWMutex
	lastOutcome   *CycleOutcome
	entriesHalted bool
	recoveryWas   bool
	cycleRunning  bool
	startedAt     time.Time
}

// New creates the bot around its components.
func New(cfg *config.Config, c Components, logger zerolog.Logger) *Bot {
	return &Bot{
		cfg:       cfg,
		c:         c,
		logger:    logger.With().Str("component", "Bot").Logger(),
		startedAt: time.Now(),
	}
}

// LoadState restores persisted manager state from the store, falling back to
// the Redis snapshot for position metadata when the store is unreachable.
func (b *Bot) LoadState(ctx context.Context) error {
	state, err := b.c.Store.LoadBotState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bot state: %w", err)
	}

	records, err := b.c.Store.LoadRotationRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rotation records: %w", err)
	}

	if state != nil {
		b.c.Protector.Restore(state.Drawdown)
		b.c.Regime.Restore(state.Regime)
		b.c.Rotation.Restore(rotation.State{Records: records, LastRun: state.RotationLastRun})
		b.mu.Lock()
		b.recoveryWas = state.Regime.Recovery.Active
		b.mu.Unlock()
	} else if len(records) > 0 {
		b.c.Rotation.Restore(rotation.State{Records: records})
	}

	positions, err := b.c.Store.LoadPositionMetadata(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("position metadata unavailable from store, trying snapshot cache")
		positions, err = b.c.Cache.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load position metadata from store and cache: %w", err)
		}
	}
	if len(positions) > 0 {
		b.c.Monitor.Restore(positions)
	}

	b.logger.Info().
		Int("positions", len(positions)).
		Int("rotation_records", len(records)).
		Bool("restored", state != nil).
		Msg("state loaded")
	return nil
}

// Run executes cycles on the configured interval until ctx is canceled. An
// in-flight cycle always finishes; cancellation only stops scheduling the
// next one.
func (b *Bot) Run(ctx context.Context) {
	interval := time.Duration(b.cfg.BotConfig.CycleIntervalMinutes) * time.Minute
	b.logger.Info().Dur("interval", interval).Msg("bot started")

	if b.cfg.BotConfig.RunOnStart {
		b.RunCycle(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("bot stopping")
			return
		case <-ticker.C:
			b.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full trading cycle and returns its outcome.
func (b *Bot) RunCycle(ctx context.Context) CycleOutcome {
	b.mu.Lock()
	if b.cycleRunning {
		b.mu.Unlock()
		b.logger.Warn().Msg("cycle already running, skipping")
		return CycleOutcome{Status: StatusWarning, Warnings: []string{"previous cycle still running"}}
	}
	b.cycleRunning = true
	halted := b.entriesHalted
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.cycleRunning = false
		b.mu.Unlock()
	}()

	now := time.Now()
	outcome := CycleOutcome{ID: uuid.NewString(), StartedAt: now, Status: StatusSuccess}
	b.c.Bus.Publish(events.EventCycleStarted, map[string]interface{}{"cycle_id": outcome.ID})
	b.logger.Info().Str("cycle_id", outcome.ID).Msg("cycle started")

	b.runSteps(ctx, now, halted, &outcome)

	outcome.Duration = time.Since(now)
	if outcome.Status == StatusSuccess && len(outcome.Warnings) > 0 {
		outcome.Status = StatusWarning
	}

	b.mu.Lock()
	b.lastOutcome = &outcome
	b.mu.Unlock()

	b.c.Bus.Publish(events.EventCycleCompleted, map[string]interface{}{
		"cycle_id": outcome.ID,
		"status":   outcome.Status,
		"exits":    outcome.ExitsExecuted,
		"entries":  outcome.EntriesOpened,
	})
	b.logger.Info().
		Str("cycle_id", outcome.ID).
		Str("status", outcome.Status).
		Dur("duration", outcome.Duration).
		Int("orders", outcome.OrdersSubmitted).
		Int("warnings", len(outcome.Warnings)).
		Msg("cycle completed")
	return outcome
}

func (b *Bot) runSteps(ctx context.Context, now time.Time, halted bool, outcome *CycleOutcome) {
	// 1. Portfolio snapshot. Without it nothing downstream can run safely.
	value, err := b.c.Broker.GetPortfolioValue(ctx)
	if err != nil {
		outcome.Status = StatusFailure
		outcome.warn("portfolio value unavailable: %v", err)
		b.checkpoint(ctx, now, outcome)
		return
	}
	outcome.PortfolioValue = value

	// 2. Drawdown protection.
	b.c.Protector.UpdatePeak(value)
	outcome.DrawdownPercent = b.c.Protector.CalculateDrawdown(value)

	liquidated := false
	if b.c.Protector.ShouldTrigger(value) {
		closed := b.c.Protector.Activate(ctx, now, b.c.Broker, func(symbol string) {
			b.c.Monitor.CleanPositionMetadata(symbol)
			b.c.Rotation.ClearTicker(symbol)
		})
		liquidated = true
		outcome.ExitsExecuted += closed
		outcome.OrdersSubmitted += closed
		outcome.warn("drawdown protection triggered at %.2f%%, liquidated %d positions", outcome.DrawdownPercent, closed)
		b.c.Bus.Publish(events.EventDrawdownTriggered, map[string]interface{}{
			"drawdown_percent": outcome.DrawdownPercent,
			"positions_closed": closed,
		})
	}

	// 3. Regime assessment from the benchmark.
	assessment := b.assessRegime(ctx, now, outcome)
	outcome.Regime = assessment
	b.publishRecoveryTransition(assessment)

	// 4. Reconcile metadata against broker truth, then run exits.
	if !liquidated {
		positions, err := b.c.Broker.GetPositions(ctx)
		if err != nil {
			outcome.Status = StatusFailure
			outcome.warn("positions unavailable: %v", err)
			b.checkpoint(ctx, now, outcome)
			return
		}
		outcome.Warnings = append(outcome.Warnings, b.c.Monitor.Reconcile(positions, now)...)

		updates := b.buildUpdates(ctx, positions, now, outcome)
		for _, action := range b.c.Monitor.EvaluateExits(updates) {
			b.executeExit(ctx, action, now, outcome)
		}
	}

	// 5. Rotation pass on its own cadence.
	if b.c.Rotation.ShouldEvaluate(now) {
		b.c.Rotation.Evaluate(b.universe(), now)
	}

	// 6. Entries, unless something upstream says no.
	switch {
	case liquidated:
		b.logger.Info().Msg("entries skipped: drawdown liquidation this cycle")
	case b.c.Protector.IsInRecovery(now):
		b.logger.Info().Msg("entries skipped: drawdown recovery cooldown")
	case !assessment.AllowEntries:
		b.logger.Info().Str("reason", assessment.Reason).Msg("entries skipped: regime")
	case halted:
		outcome.warn("entries halted: persistence has been down past the fallback window")
	default:
		b.runEntries(ctx, now, assessment, outcome)
	}

	// 7. Checkpoint everything.
	b.checkpoint(ctx, now, outcome)
}

// assessRegime fetches benchmark bars and runs the regime detector. When the
// benchmark is unavailable the cycle keeps running exits but blocks entries.
func (b *Bot) assessRegime(ctx context.Context, now time.Time, outcome *CycleOutcome) regime.Assessment {
	cfg := b.cfg.RegimeConfig
	limit := cfg.LongSMAPeriod + 1
	if cfg.HistoryBars > limit {
		limit = cfg.HistoryBars
	}

	bars, err := b.c.Data.GetBars(ctx, b.cfg.UniverseConfig.Benchmark, limit)
	if err != nil || len(bars) == 0 {
		outcome.warn("benchmark %s unavailable: %v", b.cfg.UniverseConfig.Benchmark, err)
		return regime.Assessment{AllowEntries: false, Reason: "benchmark data unavailable"}
	}

	last := bars[len(bars)-1]
	longSMA := indicators.SMA(bars, cfg.LongSMAPeriod)
	isBelow := longSMA > 0 && last.Close < longSMA

	breadth := -1.0
	if isBelow {
		breadth = b.computeBreadth(ctx)
	}

	return b.c.Regime.Evaluate(now, last, isBelow, breadth)
}

// computeBreadth returns the percentage of the universe trading above the
// short EMA, or -1 when too little data came back to trust the number.
func (b *Bot) computeBreadth(ctx context.Context) float64 {
	period := b.cfg.RegimeConfig.ShortEMAPeriod
	var above, total int
	for _, symbol := range b.universe() {
		bars, err := b.c.Data.GetBars(ctx, symbol, period*3)
		if err != nil || len(bars) < period {
			continue
		}
		total++
		if bars[len(bars)-1].Close > indicators.EMA(bars, period) {
			above++
		}
	}
	if total == 0 {
		return -1
	}
	return float64(above) / float64(total) * 100
}

// buildUpdates assembles the per-position inputs for the exit engine. Missing
// history degrades to zero ATR/EMA, which the monitor treats as unavailable.
func (b *Bot) buildUpdates(ctx context.Context, positions []broker.Position, now time.Time, outcome *CycleOutcome) []monitor.Update {
	updates := make([]monitor.Update, 0, len(positions))
	for _, pos := range positions {
		u := monitor.Update{Position: pos, Date: now}
		bars, err := b.c.Data.GetBars(ctx, pos.Symbol, 60)
		if err != nil {
			outcome.warn("bars unavailable for %s, exit checks use entry ATR: %v", pos.Symbol, err)
		} else {
			u.ATR = indicators.ATR(bars, 14)
			u.EMA50 = indicators.EMA(bars, 50)
		}
		updates = append(updates, u)
	}
	return updates
}

// executeExit submits the sell and commits the resulting state transition. A
// failed order leaves metadata untouched so the same exit fires next cycle.
func (b *Bot) executeExit(ctx context.Context, action monitor.ExitAction, now time.Time, outcome *CycleOutcome) {
	md := b.c.Monitor.Get(action.Symbol)
	if md == nil {
		return
	}

	fill, err := b.c.Broker.SubmitOrder(ctx, broker.Order{
		Symbol:   action.Symbol,
		Quantity: action.SellQuantity,
		Side:     broker.SideSell,
	})
	if err != nil {
		outcome.warn("exit order failed for %s (%s): %v", action.Symbol, action.Kind, err)
		return
	}
	outcome.OrdersSubmitted++
	outcome.ExitsExecuted++
	b.c.Bus.Publish(events.EventOrderFilled, map[string]interface{}{
		"symbol": fill.Symbol, "side": string(fill.Side), "quantity": fill.Quantity, "price": fill.AvgPrice,
	})

	if action.Full {
		pnl := (fill.AvgPrice-md.EntryPrice)*fill.Quantity + md.RealizedPnL
		if err := b.c.Store.RecordTrade(ctx, store.Trade{
			Symbol:     action.Symbol,
			Quantity:   fill.Quantity,
			EntryPrice: md.EntryPrice,
			ExitPrice:  fill.AvgPrice,
			PnL:        pnl,
			ExitKind:   string(action.Kind),
			EntryDate:  md.EntryDate,
			ExitDate:   now,
		}); err != nil {
			outcome.warn("trade journal write failed for %s: %v", action.Symbol, err)
		}
		b.c.Rotation.RecordTradeClose(action.Symbol, pnl)
		b.c.Monitor.CleanPositionMetadata(action.Symbol)
		b.c.Bus.Publish(events.EventPositionClosed, map[string]interface{}{
			"symbol": action.Symbol, "kind": string(action.Kind), "pnl": pnl, "reason": action.Reason,
		})
		b.logger.Info().
			Str("symbol", action.Symbol).
			Str("kind", string(action.Kind)).
			Float64("pnl", pnl).
			Msg("position closed")
		return
	}

	b.c.Monitor.CommitExit(action, fill.AvgPrice)
	b.c.Bus.Publish(events.EventTierAdvanced, map[string]interface{}{
		"symbol": action.Symbol, "kind": string(action.Kind), "fill_price": fill.AvgPrice,
	})
}

// runEntries scans the universe, sizes the survivors, and opens positions.
func (b *Bot) runEntries(ctx context.Context, now time.Time, assessment regime.Assessment, outcome *CycleOutcome) {
	slots := assessment.MaxPositions - b.c.Monitor.Count()
	if slots <= 0 {
		b.logger.Debug().Int("max", assessment.MaxPositions).Msg("no open slots")
		return
	}

	cash, err := b.c.Broker.GetCash(ctx)
	if err != nil {
		outcome.warn("cash unavailable, entries skipped: %v", err)
		return
	}

	positions, err := b.c.Broker.GetPositions(ctx)
	if err != nil {
		outcome.warn("positions unavailable for exposure, entries skipped: %v", err)
		return
	}
	exposure := make(map[string]float64, len(positions))
	for _, pos := range positions {
		exposure[pos.Symbol] = pos.MarketValue
	}

	opps := b.c.Scanner.Scan(ctx, b.universe(), b.c.Rotation.IsTradeable)
	for i := range opps {
		opps[i].IsAddon = b.c.Monitor.Get(opps[i].Symbol) != nil
	}

	allocations := b.c.Sizer.Allocate(opps, sizing.PortfolioContext{
		DeployableCash: cash,
		PortfolioValue: outcome.PortfolioValue,
		AvailableSlots: slots,
		Exposure:       exposure,
	}, assessment.PositionMultiplier, b.c.Rotation.Multiplier)

	for _, alloc := range allocations {
		fill, err := b.c.Broker.SubmitOrder(ctx, broker.Order{
			Symbol:   alloc.Symbol,
			Quantity: alloc.Quantity,
			Side:     broker.SideBuy,
		})
		if err != nil {
			outcome.warn("entry order failed for %s: %v", alloc.Symbol, err)
			continue
		}
		outcome.OrdersSubmitted++
		outcome.EntriesOpened++

		b.c.Monitor.TrackPosition(alloc.Symbol, fill.AvgPrice, alloc.ATR, alloc.Score, alloc.Signal, now, alloc.IsAddon)
		b.c.Bus.Publish(events.EventOrderFilled, map[string]interface{}{
			"symbol": fill.Symbol, "side": string(fill.Side), "quantity": fill.Quantity, "price": fill.AvgPrice,
		})
		b.c.Bus.Publish(events.EventPositionOpened, map[string]interface{}{
			"symbol": alloc.Symbol, "quantity": fill.Quantity, "price": fill.AvgPrice,
			"score": alloc.Score, "is_addon": alloc.IsAddon,
		})
	}
}

// checkpoint persists the cycle's state. Store failures degrade to the
// in-memory fallback window; once it is exhausted new commitments halt until
// a checkpoint succeeds again.
func (b *Bot) checkpoint(ctx context.Context, now time.Time, outcome *CycleOutcome) {
	rotState := b.c.Rotation.State()
	persistErr := b.c.Store.SaveBotState(ctx, store.BotState{
		Drawdown:        b.c.Protector.State(),
		Regime:          b.c.Regime.State(),
		RotationLastRun: rotState.LastRun,
	})
	if persistErr == nil {
		persistErr = b.c.Store.UpsertRotationRecords(ctx, b.c.Rotation.Records())
	}
	if persistErr == nil {
		persistErr = b.c.Store.ReplacePositionMetadata(ctx, b.c.Monitor.State())
	}

	// The snapshot cache is best-effort and keeps working through store
	// outages; it is what a restart falls back to.
	b.c.Cache.Save(ctx, b.c.Monitor.State())

	if persistErr != nil {
		b.c.Fallback.RecordFailure(now)
		outcome.warn("checkpoint failed, running on in-memory state: %v", persistErr)
		if b.c.Fallback.MustHalt(now) {
			b.mu.Lock()
			wasHalted := b.entriesHalted
			b.entriesHalted = true
			b.mu.Unlock()
			if !wasHalted {
				b.logger.Error().Msg("fallback window exhausted, halting new commitments")
				b.c.Bus.Publish(events.EventEntriesHalted, map[string]interface{}{
					"reason": "persistence unavailable past fallback window",
				})
			}
		}
		return
	}

	b.c.Fallback.RecordSuccess()
	b.mu.Lock()
	if b.entriesHalted {
		b.entriesHalted = false
		b.logger.Info().Msg("persistence recovered, entries resumed")
	}
	b.mu.Unlock()
}

func (b *Bot) publishRecoveryTransition(assessment regime.Assessment) {
	b.mu.Lock()
	was := b.recoveryWas
	b.recoveryWas = assessment.RecoveryModeActive
	b.mu.Unlock()

	if assessment.RecoveryModeActive && !was {
		b.c.Bus.Publish(events.EventRecoveryModeOn, map[string]interface{}{
			"multiplier":    assessment.PositionMultiplier,
			"max_positions": assessment.MaxPositions,
		})
	} else if !assessment.RecoveryModeActive && was {
		b.c.Bus.Publish(events.EventRecoveryModeOff, map[string]interface{}{"reason": assessment.Reason})
	}
}

// universe returns the configured symbols minus exclusions.
func (b *Bot) universe() []string {
	excluded := make(map[string]bool, len(b.cfg.UniverseConfig.Exclude))
	for _, s := range b.cfg.UniverseConfig.Exclude {
		excluded[s] = true
	}
	out := make([]string, 0, len(b.cfg.UniverseConfig.Symbols))
	for _, s := range b.cfg.UniverseConfig.Symbols {
		if !excluded[s] {
			out = append(out, s)
		}
	}
	return out
}

// LastOutcome returns the most recent cycle outcome, or nil before the first
// cycle completes.
func (b *Bot) LastOutcome() *CycleOutcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastOutcome == nil {
		return nil
	}
	copied := *b.lastOutcome
	return &copied
}

// EntriesHalted reports whether the persistence fallback window has expired.
func (b *Bot) EntriesHalted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entriesHalted
}

// Uptime returns how long the bot process has been running.
func (b *Bot) Uptime() time.Duration {
	return time.Since(b.startedAt)
}
