package market

// BarWindow is a fixed-capacity rolling history of bars. Appending past
// capacity evicts the oldest bar. The regime detector keeps one of these for
// the benchmark index so its state can be serialized and reloaded whole.
type BarWindow struct {
	Capacity int   `json:"capacity"`
	Bars     []Bar `json:"bars"`
}

// NewBarWindow creates an empty window with the given capacity.
func NewBarWindow(capacity int) *BarWindow {
	if capacity < 2 {
		capacity = 2
	}
	return &BarWindow{Capacity: capacity, Bars: make([]Bar, 0, capacity)}
}

// Append adds a bar, evicting the oldest when full. A bar with the same date
// as the last one replaces it, so re-running a cycle intraday is idempotent.
func (w *BarWindow) Append(b Bar) {
	if n := len(w.Bars); n > 0 && w.Bars[n-1].Date.Equal(b.Date) {
		w.Bars[n-1] = b
		return
	}
	w.Bars = append(w.Bars, b)
	if len(w.Bars) > w.Capacity {
		w.Bars = w.Bars[len(w.Bars)-w.Capacity:]
	}
}

// Len returns the number of bars held.
func (w *BarWindow) Len() int { return len(w.Bars) }

// Last returns the most recent bar and whether one exists.
func (w *BarWindow) Last() (Bar, bool) {
	if len(w.Bars) == 0 {
		return Bar{}, false
	}
	return w.Bars[len(w.Bars)-1], true
}

// Prev returns the bar n positions before the most recent one.
func (w *BarWindow) Prev(n int) (Bar, bool) {
	idx := len(w.Bars) - 1 - n
	if idx < 0 {
		return Bar{}, false
	}
	return w.Bars[idx], true
}

// ConsecutiveDownDays counts how many of the most recent bars closed below
// the prior close, stopping at the first up day.
func (w *BarWindow) ConsecutiveDownDays() int {
	count := 0
	for i := len(w.Bars) - 1; i > 0; i-- {
		if w.Bars[i].IsDown(w.Bars[i-1]) {
			count++
		} else {
			break
		}
	}
	return count
}
