package drawdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/broker"
)

// fakeBroker is a minimal in-memory broker for liquidation tests.
type fakeBroker struct {
	positions   []broker.Position
	failSymbols map[string]bool
	sold        []string
	listErr     error
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, f.listErr
}

func (f *fakeBroker) GetPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	return nil, nil
}

func (f *fakeBroker) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (f *fakeBroker) GetCash(ctx context.Context) (float64, error) { return 0, nil }

func (f *fakeBroker) GetPortfolioValue(ctx context.Context) (float64, error) { return 0, nil }

func (f *fakeBroker) SubmitOrder(ctx context.Context, order broker.Order) (*broker.Fill, error) {
	if f.failSymbols[order.Symbol] {
		return nil, broker.NewError(broker.KindTransient, "submit_order", errors.New("rejected"))
	}
	f.sold = append(f.sold, order.Symbol)
	return &broker.Fill{Symbol: order.Symbol, Quantity: order.Quantity, Side: order.Side, AvgPrice: 100}, nil
}

func newTestProtector(t *testing.T, cfg Config) *Protector {
	t.Helper()
	return NewProtector(cfg, zerolog.Nop())
}

func TestPeakOnlyMovesUp(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})

	p.UpdatePeak(100000)
	p.UpdatePeak(95000)
	if peak := p.State().PeakValue; peak != 100000 {
		t.Fatalf("peak = %v, want 100000", peak)
	}

	p.UpdatePeak(110000)
	if peak := p.State().PeakValue; peak != 110000 {
		t.Fatalf("peak = %v, want 110000", peak)
	}
}

func TestDrawdownNeverPositive(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})
	p.UpdatePeak(100000)

	if dd := p.CalculateDrawdown(92000); dd != -8 {
		t.Fatalf("drawdown = %v, want -8", dd)
	}
	// Above the recorded peak: clamped to zero, never positive.
	if dd := p.CalculateDrawdown(105000); dd != 0 {
		t.Fatalf("drawdown above peak = %v, want 0", dd)
	}
	if p.State().MaxDrawdownSeen != -8 {
		t.Fatalf("max drawdown seen = %v, want -8", p.State().MaxDrawdownSeen)
	}
}

func TestShouldTriggerAtThreshold(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})
	p.UpdatePeak(100000)

	if p.ShouldTrigger(93000) {
		t.Fatal("triggered at -7%, threshold is -8%")
	}
	if !p.ShouldTrigger(92000) {
		t.Fatal("did not trigger at exactly -8%")
	}
	if !p.ShouldTrigger(90000) {
		t.Fatal("did not trigger at -10%")
	}
}

func TestActivateLiquidatesAndStartsCooldown(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})
	p.UpdatePeak(100000)

	fb := &fakeBroker{
		positions: []broker.Position{
			{Symbol: "AAPL", Quantity: 10},
			{Symbol: "MSFT", Quantity: 5},
		},
	}
	var cleared []string
	now := time.Now()
	closed := p.Activate(context.Background(), now, fb, func(symbol string) {
		cleared = append(cleared, symbol)
	})

	if closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}
	if len(fb.sold) != 2 || len(cleared) != 2 {
		t.Fatalf("sold %v cleared %v, want both symbols", fb.sold, cleared)
	}

	state := p.State()
	if !state.ProtectionActive || state.TriggerCount != 1 {
		t.Fatalf("state = %+v, want active protection with trigger count 1", state)
	}
	if !p.IsInRecovery(now.AddDate(0, 0, 9)) {
		t.Fatal("should still be in recovery on day 9")
	}
	if p.IsInRecovery(now.AddDate(0, 0, 10)) {
		t.Fatal("recovery should have ended on day 10")
	}
}

func TestActivateSkipsFailedSells(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})
	fb := &fakeBroker{
		positions: []broker.Position{
			{Symbol: "AAPL", Quantity: 10},
			{Symbol: "MSFT", Quantity: 5},
		},
		failSymbols: map[string]bool{"AAPL": true},
	}

	var cleared []string
	closed := p.Activate(context.Background(), time.Now(), fb, func(symbol string) {
		cleared = append(cleared, symbol)
	})

	if closed != 1 {
		t.Fatalf("closed = %d, want 1: the failed sell is skipped", closed)
	}
	if len(cleared) != 1 || cleared[0] != "MSFT" {
		t.Fatalf("cleared = %v, want only MSFT", cleared)
	}
	// Protection activates even with partial liquidation.
	if !p.State().ProtectionActive {
		t.Fatal("protection must activate regardless of sell failures")
	}
}

func TestNewPeakClearsProtection(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})
	p.UpdatePeak(100000)
	p.Activate(context.Background(), time.Now(), &fakeBroker{}, nil)

	if !p.State().ProtectionActive {
		t.Fatal("protection should be active")
	}
	p.UpdatePeak(100001)
	if p.State().ProtectionActive {
		t.Fatal("a fresh equity peak must clear protection early")
	}
}

func TestRestoreRepairsStaleProtection(t *testing.T) {
	p := newTestProtector(t, Config{ThresholdPercent: -8, RecoveryDays: 10})

	past := time.Now().AddDate(0, 0, -1)
	p.Restore(State{PeakValue: 100000, ProtectionActive: true, ProtectionEnd: &past, TriggerCount: 2})

	state := p.State()
	if state.ProtectionActive {
		t.Fatal("stale protection must be cleared on restore")
	}
	if state.PeakValue != 100000 || state.TriggerCount != 2 {
		t.Fatalf("state = %+v, want peak and trigger count preserved", state)
	}
}
