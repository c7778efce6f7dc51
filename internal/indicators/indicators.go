// Package indicators implements the technical indicators the decision engines
// consume. All functions are pure: they take a bar slice (oldest first) and
// return a value, falling back to a neutral result when history is too short.
package indicators

import (
	"math"

	"swing-trading-bot/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average of closes over the last period bars.
func SMA(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average with alpha = 2/(period+1),
// seeded with the SMA of the first period bars.
func EMA(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	ema := SMA(bars[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*multiplier + ema*(1-multiplier)
	}
	return ema
}

// ============================================================================
// RSI
// ============================================================================

// RSI calculates the Relative Strength Index over the last period changes.
// Returns 50 (neutral) when history is insufficient.
func RSI(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// ATR
// ============================================================================

// trueRange returns the true range of bar i against the prior close.
func trueRange(bars []market.Bar, i int) float64 {
	high := bars[i].High
	low := bars[i].Low
	prevClose := bars[i-1].Close
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR calculates the Average True Range with Wilder's smoothing
// (alpha = 1/period), seeded with the simple average of the first period
// true ranges.
func ATR(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(bars, i)
	}
	atr /= float64(period)

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRange(bars, i)) / float64(period)
	}
	return atr
}

// ChandelierStop returns a trailing stop price anchored at anchor (typically
// the highest close since entry): anchor - atr*multiplier. Falls back to a
// fixed percentage below the anchor when ATR is unavailable.
func ChandelierStop(anchor, atr, multiplier, fallbackPct float64) float64 {
	if anchor <= 0 {
		return 0
	}
	if atr <= 0 {
		return anchor * (1 - fallbackPct/100)
	}
	return anchor - atr*multiplier
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds the MACD line, signal line and histogram.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD calculates MACD(fast, slow) with a signal EMA over the MACD series.
func MACD(bars []market.Bar, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(bars) < slowPeriod+signalPeriod {
		return &MACDResult{}
	}

	// Build the MACD series over the usable range, then smooth it.
	macdSeries := make([]float64, 0, len(bars)-slowPeriod+1)
	for i := slowPeriod; i <= len(bars); i++ {
		fast := EMA(bars[:i], fastPeriod)
		slow := EMA(bars[:i], slowPeriod)
		macdSeries = append(macdSeries, fast-slow)
	}

	signal := emaOf(macdSeries, signalPeriod)
	macdLine := macdSeries[len(macdSeries)-1]

	return &MACDResult{
		MACD:      macdLine,
		Signal:    signal,
		Histogram: macdLine - signal,
	}
}

// emaOf applies the standard EMA recurrence to a plain series.
func emaOf(series []float64, period int) float64 {
	if period <= 0 || len(series) < period {
		if len(series) == 0 {
			return 0
		}
		return series[len(series)-1]
	}

	sum := 0.0
	for _, v := range series[:period] {
		sum += v
	}
	ema := sum / float64(period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(series); i++ {
		ema = series[i]*multiplier + ema*(1-multiplier)
	}
	return ema
}

// ============================================================================
// ADX
// ============================================================================

// ADX calculates the Average Directional Index with Wilder's smoothing.
// Returns 0 when history is insufficient.
func ADX(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < 2*period+1 {
		return 0
	}

	// Wilder-smoothed TR, +DM and -DM.
	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= period; i++ {
		tr, plusDM, minusDM := directionalMovement(bars, i)
		smTR += tr
		smPlusDM += plusDM
		smMinusDM += minusDM
	}

	dxSeries := make([]float64, 0, len(bars)-period)
	dxSeries = append(dxSeries, dx(smPlusDM, smMinusDM, smTR))

	for i := period + 1; i < len(bars); i++ {
		tr, plusDM, minusDM := directionalMovement(bars, i)
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		dxSeries = append(dxSeries, dx(smPlusDM, smMinusDM, smTR))
	}

	// ADX = Wilder-smoothed DX.
	if len(dxSeries) < period {
		return dxSeries[len(dxSeries)-1]
	}
	adx := 0.0
	for _, v := range dxSeries[:period] {
		adx += v
	}
	adx /= float64(period)
	for i := period; i < len(dxSeries); i++ {
		adx = (adx*float64(period-1) + dxSeries[i]) / float64(period)
	}
	return adx
}

func directionalMovement(bars []market.Bar, i int) (tr, plusDM, minusDM float64) {
	upMove := bars[i].High - bars[i-1].High
	downMove := bars[i-1].Low - bars[i].Low
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	return trueRange(bars, i), plusDM, minusDM
}

func dx(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerResult holds the three Bollinger band values.
type BollingerResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger calculates Bollinger bands: SMA(period) +/- stdDevMult standard
// deviations of the closes.
func Bollinger(bars []market.Bar, period int, stdDevMult float64) *BollingerResult {
	if period <= 0 || len(bars) < period {
		return &BollingerResult{}
	}

	middle := SMA(bars, period)
	variance := 0.0
	for _, b := range bars[len(bars)-period:] {
		d := b.Close - middle
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerResult{
		Upper:  middle + stdDev*stdDevMult,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMult,
	}
}
