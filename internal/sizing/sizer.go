// Package sizing converts the ranked opportunity list into concrete order
// quantities inside portfolio and per-ticker limits. The regime, rotation,
// volatility and stock-health multipliers compose multiplicatively.
package sizing

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Config holds the allocation limits.
type Config struct {
	BasePositionPct     float64
	MinPositionValue    float64
	MaxConcentrationPct float64
	MinCompositeScore   float64
	CashReservePct      float64
}

// Opportunity is a scored entry candidate produced by the scanner.
type Opportunity struct {
	Symbol         string  `json:"symbol"`
	Score          float64 `json:"score"` // Composite 0-100
	Price          float64 `json:"price"`
	ATR            float64 `json:"atr"`
	Signal         string  `json:"signal"`
	VolatilityMult float64 `json:"volatility_mult"`   // From the scanner's volatility classification
	HealthMult     float64 `json:"stock_health_mult"` // Trend-quality multiplier
	IsAddon        bool    `json:"is_addon"`
}

// PortfolioContext is the account snapshot the sizer allocates against.
type PortfolioContext struct {
	DeployableCash float64
	PortfolioValue float64
	AvailableSlots int
	// Exposure maps symbol to current market value of any open position.
	Exposure map[string]float64
}

// Allocation is a concrete buy decision.
type Allocation struct {
	Symbol              string  `json:"symbol"`
	Quantity            float64 `json:"quantity"`
	Cost                float64 `json:"cost"`
	Price               float64 `json:"price"`
	ATR                 float64 `json:"atr"`
	Score               float64 `json:"score"`
	Signal              string  `json:"signal"`
	IsAddon             bool    `json:"is_addon"`
	RegimeMultiplier    float64 `json:"regime_multiplier"`
	RotationMultiplier  float64 `json:"rotation_multiplier"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	HealthMultiplier    float64 `json:"health_multiplier"`
	EffectiveMultiplier float64 `json:"effective_multiplier"`
}

// Sizer owns the allocation rules.
type Sizer struct {
	config Config
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewSizer creates a sizer.
func NewSizer(config Config, logger zerolog.Logger) *Sizer {
	return &Sizer{
		config: config,
		logger: logger.With().Str("component", "PositionSizer").Logger(),
	}
}

// Allocate walks the ranked opportunities and emits allocations until cash or
// slots run out. regimeMult comes from the regime assessment; rotationMult
// resolves the per-ticker tier multiplier (0 means untradeable). Quantities
// are floor-rounded and re-checked against the remaining budget so the total
// cost never exceeds the deployable cash.
func (s *Sizer) Allocate(opps []Opportunity, pctx PortfolioContext, regimeMult float64, rotationMult func(symbol string) float64) []Allocation {
	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	remaining := pctx.DeployableCash * (1 - cfg.CashReservePct/100)
	slots := pctx.AvailableSlots
	var out []Allocation

	for _, opp := range opps {
		if slots <= 0 || remaining < cfg.MinPositionValue {
			break
		}
		if opp.Score < cfg.MinCompositeScore || opp.Price <= 0 {
			continue
		}

		rotation := rotationMult(opp.Symbol)
		effective := regimeMult * rotation * nonZero(opp.VolatilityMult) * nonZero(opp.HealthMult)
		if effective <= 0 {
			continue
		}

		dollars := pctx.DeployableCash * (cfg.BasePositionPct / 100) * effective

		// Per-ticker concentration: existing plus new exposure stays under
		// the cap as a share of total portfolio value.
		if pctx.PortfolioValue > 0 {
			capValue := pctx.PortfolioValue * (cfg.MaxConcentrationPct / 100)
			headroom := capValue - pctx.Exposure[opp.Symbol]
			if headroom <= 0 {
				continue
			}
			if dollars > headroom {
				dollars = headroom
			}
		}
		if dollars > remaining {
			dollars = remaining
		}
		if dollars < cfg.MinPositionValue {
			continue
		}

		qty := math.Floor(dollars / opp.Price)
		if qty < 1 {
			continue
		}
		cost := qty * opp.Price
		if cost > remaining {
			// Rounding pushed the value over budget; drop one share.
			qty--
			cost = qty * opp.Price
		}
		if qty < 1 || cost < cfg.MinPositionValue {
			continue
		}

		out = append(out, Allocation{
			Symbol:               opp.Symbol,
			Quantity:             qty,
			Cost:                 cost,
			Price:                opp.Price,
			ATR:                  opp.ATR,
			Score:                opp.Score,
			Signal:               opp.Signal,
			IsAddon:              opp.IsAddon,
			RegimeMultiplier:     regimeMult,
			RotationMultiplier:   rotation,
			VolatilityMultiplier: nonZero(opp.VolatilityMult),
			HealthMultiplier:     nonZero(opp.HealthMult),
			EffectiveMultiplier:  effective,
		})

		remaining -= cost
		slots--
	}

	s.logger.Debug().
		Int("candidates", len(opps)).
		Int("allocations", len(out)).
		Float64("cash_remaining", remaining).
		Msg("allocation pass complete")
	return out
}

// nonZero treats an unset multiplier as neutral.
func nonZero(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	return v
}
