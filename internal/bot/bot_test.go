package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"

	"swing-trading-bot/config"
	"swing-trading-bot/internal/broker"
	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/events"
	"swing-trading-bot/internal/market"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
	"swing-trading-bot/internal/scanner"
	"swing-trading-bot/internal/sizing"
	"swing-trading-bot/internal/store"
)

type fakeBroker struct {
	cash      float64
	value     float64
	valueErr  error
	positions []broker.Position
	fillPrice float64
	orders    []broker.Order
}

func (f *fakeBroker) GetPositions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) GetPosition(_ context.Context, symbol string) (*broker.Position, error) {
	for _, p := range f.positions {
		if p.Symbol == symbol {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeBroker) GetLastPrice(context.Context, string) (float64, error) {
	return f.fillPrice, nil
}

func (f *fakeBroker) GetCash(context.Context) (float64, error) { return f.cash, nil }

func (f *fakeBroker) GetPortfolioValue(context.Context) (float64, error) {
	if f.valueErr != nil {
		return 0, f.valueErr
	}
	return f.value, nil
}

func (f *fakeBroker) SubmitOrder(_ context.Context, order broker.Order) (*broker.Fill, error) {
	f.orders = append(f.orders, order)
	return &broker.Fill{
		OrderID:  "test-order",
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
		Side:     order.Side,
		AvgPrice: f.fillPrice,
	}, nil
}

type fakeData struct {
	bars map[string][]market.Bar
}

func (f *fakeData) GetBars(_ context.Context, symbol string, _ int) ([]market.Bar, error) {
	if bars, ok := f.bars[symbol]; ok {
		return bars, nil
	}
	return nil, errors.New("no data")
}

func flatBars(n int, close float64) []market.Bar {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Date:   base.AddDate(0, 0, i),
			Open:   close,
			High:   close + 1,
			Low:    close - 1,
			Close:  close,
			Volume: 1000,
		}
	}
	return bars
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.UniverseConfig.Benchmark = "SPY"
	cfg.UniverseConfig.Symbols = nil
	cfg.RegimeConfig.LongSMAPeriod = 5
	cfg.RegimeConfig.HistoryBars = 10
	return cfg
}

func testBot(t *testing.T, brk *fakeBroker, data *fakeData, window time.Duration) (*Bot, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	cfg := testConfig()
	nop := zerolog.Nop()
	c := Components{
		Broker:    brk,
		Data:      data,
		Store:     store.NewWithPool(mock, nop),
		Cache:     store.NewPositionCache(nil, nop),
		Fallback:  store.NewFallbackTracker(window, nop),
		Protector: drawdown.NewProtector(drawdown.Config{ThresholdPercent: -8, RecoveryDays: 10}, nop),
		Regime:    regime.NewDetector(regime.Config{ShortEMAPeriod: 21, HistoryBars: 10, NormalMaxPositions: 10}, nop),
		Rotation:  rotation.NewManager(rotation.Config{CadenceDays: 7, StandardMultiplier: 1.0}, nop),
		Monitor: monitor.NewMonitor(monitor.Config{
			InitialStopATRMult: 2.75, Tier1TargetPct: 12, Tier1SellFraction: 0.33,
			MaxLossLowVol: 8, MaxLossMediumVol: 10, MaxLossHighVol: 12, MaxLossVeryHighVol: 15,
			StagnantMaxDays: 45, StagnantMinGainPct: 5, RemnantMinShares: 2, RemnantMinValue: 200,
			FallbackStopPct: 8,
		}, nop),
		Sizer:   sizing.NewSizer(sizing.Config{BasePositionPct: 10, MinPositionValue: 500, MinCompositeScore: 40}, nop),
		Scanner: scanner.NewScanner(scanner.Config{CacheTTL: time.Minute, HistoryBars: 100, MaxResults: 10}, data, nop),
		Bus:     events.NewBus(),
	}
	return New(cfg, c, nop), mock
}

func expectCheckpoint(mock pgxmock.PgxPoolIface, rotationUpserts, metadataInserts int) {
	mock.ExpectExec("INSERT INTO bot_state").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i := 0; i < rotationUpserts; i++ {
		mock.ExpectExec("INSERT INTO ticker_rotation").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM position_metadata").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for i := 0; i < metadataInserts; i++ {
		mock.ExpectExec("INSERT INTO position_metadata").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
}

func TestCycleSuccessCheckpoints(t *testing.T) {
	brk := &fakeBroker{cash: 10000, value: 100000}
	data := &fakeData{bars: map[string][]market.Bar{"SPY": flatBars(10, 500)}}
	b, mock := testBot(t, brk, data, 30*time.Minute)
	expectCheckpoint(mock, 0, 0)

	outcome := b.RunCycle(context.Background())

	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %s (warnings %v), want success", outcome.Status, outcome.Warnings)
	}
	if outcome.PortfolioValue != 100000 {
		t.Fatalf("portfolio value = %v, want 100000", outcome.PortfolioValue)
	}
	if !outcome.Regime.AllowEntries {
		t.Fatalf("regime = %+v, benchmark above its SMA should allow entries", outcome.Regime)
	}
	if b.EntriesHalted() {
		t.Fatal("entries must not be halted after a clean checkpoint")
	}
	if last := b.LastOutcome(); last == nil || last.ID != outcome.ID {
		t.Fatalf("last outcome = %+v, want this cycle", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCycleFailsWithoutPortfolioValue(t *testing.T) {
	brk := &fakeBroker{valueErr: errors.New("account endpoint down")}
	data := &fakeData{bars: map[string][]market.Bar{"SPY": flatBars(10, 500)}}
	b, mock := testBot(t, brk, data, 30*time.Minute)
	expectCheckpoint(mock, 0, 0)

	outcome := b.RunCycle(context.Background())

	if outcome.Status != StatusFailure {
		t.Fatalf("status = %s, want failure without a portfolio snapshot", outcome.Status)
	}
	if len(outcome.Warnings) == 0 {
		t.Fatal("want a warning naming the broker error")
	}
	// The checkpoint still runs so managers keep their durable state.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCycleExecutesHardStopExit(t *testing.T) {
	brk := &fakeBroker{
		cash:      10000,
		value:     100000,
		fillPrice: 85,
		positions: []broker.Position{{Symbol: "AAPL", Quantity: 10, AvgEntry: 100, CurrentPrice: 85, MarketValue: 850}},
	}
	data := &fakeData{bars: map[string][]market.Bar{
		"SPY":  flatBars(10, 500),
		"AAPL": flatBars(60, 85),
	}}
	b, mock := testBot(t, brk, data, 30*time.Minute)
	entry := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	b.c.Monitor.TrackPosition("AAPL", 100, 4, 50, "swing_low", entry, false)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("AAPL", 10.0, 100.0, 85.0, -150.0, "hard_stop", entry, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// The losing close lands in rotation, so the checkpoint now carries a row.
	expectCheckpoint(mock, 1, 0)

	outcome := b.RunCycle(context.Background())

	if outcome.ExitsExecuted != 1 || outcome.OrdersSubmitted != 1 {
		t.Fatalf("exits = %d orders = %d, want one hard-stop sell", outcome.ExitsExecuted, outcome.OrdersSubmitted)
	}
	if len(brk.orders) != 1 || brk.orders[0].Side != broker.SideSell || brk.orders[0].Quantity != 10 {
		t.Fatalf("orders = %+v, want a full 10-share sell", brk.orders)
	}
	if b.c.Monitor.Get("AAPL") != nil {
		t.Fatal("metadata must be cleaned after a full exit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEntriesHaltAfterFallbackWindow(t *testing.T) {
	brk := &fakeBroker{cash: 10000, value: 100000}
	data := &fakeData{bars: map[string][]market.Bar{"SPY": flatBars(10, 500)}}
	b, mock := testBot(t, brk, data, time.Millisecond)

	// No expectations queued: every store call fails.
	b.RunCycle(context.Background())
	if b.EntriesHalted() {
		t.Fatal("first failed checkpoint opens the window, it does not halt yet")
	}

	time.Sleep(5 * time.Millisecond)
	outcome := b.RunCycle(context.Background())
	if outcome.Status != StatusWarning {
		t.Fatalf("status = %s, want warning while degraded", outcome.Status)
	}
	if !b.EntriesHalted() {
		t.Fatal("entries must halt once the fallback window is exhausted")
	}

	// A successful checkpoint lifts the halt.
	expectCheckpoint(mock, 0, 0)
	b.RunCycle(context.Background())
	if b.EntriesHalted() {
		t.Fatal("entries must resume after persistence recovers")
	}
}

func TestLoadStateFirstRun(t *testing.T) {
	brk := &fakeBroker{}
	data := &fakeData{}
	b, mock := testBot(t, brk, data, 30*time.Minute)

	mock.ExpectQuery("SELECT drawdown_state").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT symbol, tier").WillReturnRows(pgxmock.NewRows([]string{
		"symbol", "tier", "consecutive_wins", "consecutive_losses", "total_trades",
		"total_wins", "total_pnl", "total_win_pnl", "total_loss_pnl",
		"last_tier_change", "recovery_pass_count",
	}))
	mock.ExpectQuery("SELECT symbol, metadata").WillReturnRows(pgxmock.NewRows([]string{"symbol", "metadata"}))

	if err := b.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
