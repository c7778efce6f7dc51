// Package scanner scores the configured universe each cycle and produces the
// ranked opportunity list the sizer allocates from. Frozen tickers are
// skipped before evaluation; failures in one ticker never abort the scan.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/indicators"
	"swing-trading-bot/internal/market"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/sizing"
)

// Config holds scanner settings.
type Config struct {
	CacheTTL    time.Duration
	HistoryBars int
	MaxResults  int
}

// Scanner scores entry candidates.
type Scanner struct {
	config Config
	data   market.Data
	cache  *Cache
	logger zerolog.Logger
}

// NewScanner creates a scanner over the market data collaborator.
func NewScanner(config Config, data market.Data, logger zerolog.Logger) *Scanner {
	return &Scanner{
		config: config,
		data:   data,
		cache:  NewCache(config.CacheTTL),
		logger: logger.With().Str("component", "Scanner").Logger(),
	}
}

// ClearCache drops cached scores, e.g. when the regime assessment flips.
func (s *Scanner) ClearCache() { s.cache.Clear() }

// Scan evaluates every tradeable symbol and returns opportunities ranked by
// composite score, best first, truncated to MaxResults.
func (s *Scanner) Scan(ctx context.Context, symbols []string, tradeable func(symbol string) bool) []sizing.Opportunity {
	var out []sizing.Opportunity

	for _, symbol := range symbols {
		if !tradeable(symbol) {
			continue
		}
		if opp, ok := s.cache.Get(symbol); ok {
			out = append(out, opp)
			continue
		}

		opp, err := s.evaluate(ctx, symbol)
		if err != nil {
			// Per-ticker isolation: log and move on.
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol evaluation skipped")
			continue
		}
		if opp != nil {
			s.cache.Set(symbol, *opp)
			out = append(out, *opp)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if s.config.MaxResults > 0 && len(out) > s.config.MaxResults {
		out = out[:s.config.MaxResults]
	}
	return out
}

// evaluate scores one symbol. Insufficient history or a non-positive price
// returns nil rather than an error: the ticker is just not a candidate.
func (s *Scanner) evaluate(ctx context.Context, symbol string) (*sizing.Opportunity, error) {
	bars, err := s.data.GetBars(ctx, symbol, s.config.HistoryBars)
	if err != nil {
		return nil, err
	}
	if len(bars) < 60 {
		return nil, nil
	}

	price := bars[len(bars)-1].Close
	if price <= 0 {
		return nil, nil
	}

	ema21 := indicators.EMA(bars, 21)
	sma50 := indicators.SMA(bars, 50)
	rsi := indicators.RSI(bars, 14)
	atr := indicators.ATR(bars, 14)
	adx := indicators.ADX(bars, 14)
	macd := indicators.MACD(bars, 12, 26, 9)
	avgVol := market.AverageVolume(bars[:len(bars)-1], 20)
	lastVol := bars[len(bars)-1].Volume

	score := 0.0

	// Trend: price above the short EMA, short EMA above the medium SMA.
	if ema21 > 0 && price > ema21 {
		score += 20
	}
	if sma50 > 0 && ema21 > sma50 {
		score += 20
	}

	// Momentum: positive MACD histogram and RSI in the healthy zone.
	if macd.Histogram > 0 {
		score += 15
	}
	if rsi >= 50 && rsi <= 70 {
		score += 15
	}

	// Participation and trend strength.
	if avgVol > 0 && lastVol > avgVol {
		score += 15
	}
	if adx >= 25 {
		score += 15
	}

	atrPct := atr / price * 100
	signal := "trend_momentum"

	return &sizing.Opportunity{
		Symbol:         symbol,
		Score:          score,
		Price:          price,
		ATR:            atr,
		Signal:         signal,
		VolatilityMult: volatilityMultiplier(atrPct),
		HealthMult:     healthMultiplier(price, ema21, sma50, adx),
	}, nil
}

// volatilityMultiplier down-weights hot names so an allocation in a 6%-ATR
// stock risks about as much as one in a 2%-ATR stock.
func volatilityMultiplier(atrPct float64) float64 {
	switch monitor.ClassifyVolatility(atrPct) {
	case monitor.VolLow:
		return 1.1
	case monitor.VolMedium:
		return 1.0
	case monitor.VolHigh:
		return 0.85
	default:
		return 0.7
	}
}

// healthMultiplier rewards clean uptrends and penalizes broken ones.
func healthMultiplier(price, ema21, sma50, adx float64) float64 {
	switch {
	case sma50 > 0 && price > sma50 && adx >= 25:
		return 1.2
	case ema21 > 0 && price < ema21:
		return 0.8
	default:
		return 1.0
	}
}
