package market

import "time"

// Bar is a single OHLCV candle for one trading day.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ChangePercent returns the close-to-close change from prev in percent.
func (b Bar) ChangePercent(prev Bar) float64 {
	if prev.Close == 0 {
		return 0
	}
	return (b.Close - prev.Close) / prev.Close * 100
}

// IsDown reports whether the bar closed below the previous close.
func (b Bar) IsDown(prev Bar) bool {
	return b.Close < prev.Close
}

// AverageVolume returns the mean volume of the last period bars, or of all
// bars when fewer are available. Returns 0 for an empty slice.
func AverageVolume(bars []Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if period > len(bars) {
		period = len(bars)
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Volume
	}
	return sum / float64(period)
}
