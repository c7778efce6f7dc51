package indicators

import (
	"math"
	"testing"

	"swing-trading-bot/internal/market"
)

func closesToBars(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"last three bars", []float64{1, 2, 3, 4, 5}, 3, 4},
		{"whole series", []float64{10, 20, 30}, 3, 20},
		{"insufficient history", []float64{1, 2}, 3, 0},
		{"zero period", []float64{1, 2, 3}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SMA(closesToBars(tt.closes...), tt.period)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("SMA() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEMA(t *testing.T) {
	// Seed SMA(2,4,6) = 4, alpha = 0.5, then 8*0.5 + 4*0.5 = 6.
	got := EMA(closesToBars(2, 4, 6, 8), 3)
	if !almostEqual(got, 6, 1e-9) {
		t.Errorf("EMA() = %v, want 6", got)
	}
}

func TestEMAFlatSeries(t *testing.T) {
	got := EMA(closesToBars(50, 50, 50, 50, 50), 3)
	if !almostEqual(got, 50, 1e-9) {
		t.Errorf("EMA() on flat series = %v, want 50", got)
	}
}

func TestEMAInsufficientHistory(t *testing.T) {
	if got := EMA(closesToBars(1, 2), 5); got != 0 {
		t.Errorf("EMA() = %v, want 0", got)
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"all gains", []float64{1, 2, 3, 4, 5}, 4, 100},
		{"balanced gains and losses", []float64{10, 11, 12, 11, 10}, 4, 50},
		{"insufficient history", []float64{1, 2}, 14, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RSI(closesToBars(tt.closes...), tt.period)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("RSI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestATRConstantRange(t *testing.T) {
	bars := make([]market.Bar, 6)
	for i := range bars {
		bars[i] = market.Bar{High: 11, Low: 9, Close: 10}
	}
	// Every true range is 2, so Wilder smoothing stays at 2.
	got := ATR(bars, 3)
	if !almostEqual(got, 2, 1e-9) {
		t.Errorf("ATR() = %v, want 2", got)
	}
}

func TestATRInsufficientHistory(t *testing.T) {
	if got := ATR(closesToBars(1, 2, 3), 14); got != 0 {
		t.Errorf("ATR() = %v, want 0", got)
	}
}

func TestATRUsesGaps(t *testing.T) {
	bars := []market.Bar{
		{High: 101, Low: 99, Close: 100},
		// Gap up: TR = max(2, |106-100|, |104-100|) = 6.
		{High: 106, Low: 104, Close: 105},
		{High: 106, Low: 104, Close: 105},
	}
	got := ATR(bars, 2)
	// Seed = (6 + 2) / 2 = 4.
	if !almostEqual(got, 4, 1e-9) {
		t.Errorf("ATR() = %v, want 4", got)
	}
}

func TestChandelierStop(t *testing.T) {
	tests := []struct {
		name        string
		anchor      float64
		atr         float64
		mult        float64
		fallbackPct float64
		want        float64
	}{
		{"atr based", 100, 4, 2, 8, 92},
		{"fallback when atr missing", 100, 0, 2, 8, 92},
		{"zero anchor", 0, 4, 2, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChandelierStop(tt.anchor, tt.atr, tt.mult, tt.fallbackPct)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("ChandelierStop() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMACDFlatSeries(t *testing.T) {
	bars := make([]market.Bar, 40)
	for i := range bars {
		bars[i] = market.Bar{Close: 100}
	}
	got := MACD(bars, 12, 26, 9)
	if !almostEqual(got.MACD, 0, 1e-9) || !almostEqual(got.Signal, 0, 1e-9) || !almostEqual(got.Histogram, 0, 1e-9) {
		t.Errorf("MACD() on flat series = %+v, want all zero", got)
	}
}

func TestMACDRisingSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got := MACD(closesToBars(closes...), 12, 26, 9)
	// In a steady uptrend the fast EMA sits above the slow EMA.
	if got.MACD <= 0 {
		t.Errorf("MACD line = %v, want > 0 in an uptrend", got.MACD)
	}
}

func TestMACDInsufficientHistory(t *testing.T) {
	got := MACD(closesToBars(1, 2, 3), 12, 26, 9)
	if got.MACD != 0 || got.Signal != 0 {
		t.Errorf("MACD() = %+v, want zero result", got)
	}
}

func TestADXStrongUptrend(t *testing.T) {
	bars := make([]market.Bar, 10)
	for i := range bars {
		f := float64(i)
		bars[i] = market.Bar{High: 10 + f, Low: 9 + f, Close: 9.5 + f}
	}
	// Pure one-directional movement: DX is 100 every bar.
	got := ADX(bars, 3)
	if !almostEqual(got, 100, 1e-9) {
		t.Errorf("ADX() = %v, want 100", got)
	}
}

func TestADXInsufficientHistory(t *testing.T) {
	if got := ADX(closesToBars(1, 2, 3, 4), 14); got != 0 {
		t.Errorf("ADX() = %v, want 0", got)
	}
}

func TestBollinger(t *testing.T) {
	got := Bollinger(closesToBars(2, 4, 6), 3, 2)
	sd := math.Sqrt(8.0 / 3.0)
	if !almostEqual(got.Middle, 4, 1e-9) {
		t.Errorf("middle = %v, want 4", got.Middle)
	}
	if !almostEqual(got.Upper, 4+2*sd, 1e-9) {
		t.Errorf("upper = %v, want %v", got.Upper, 4+2*sd)
	}
	if !almostEqual(got.Lower, 4-2*sd, 1e-9) {
		t.Errorf("lower = %v, want %v", got.Lower, 4-2*sd)
	}
}

func TestBollingerInsufficientHistory(t *testing.T) {
	got := Bollinger(closesToBars(1, 2), 20, 2)
	if got.Middle != 0 || got.Upper != 0 || got.Lower != 0 {
		t.Errorf("Bollinger() = %+v, want zero result", got)
	}
}
