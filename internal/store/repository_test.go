package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"

	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
)

func mockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithPool(mock, zerolog.Nop()), mock
}

func TestSaveBotState(t *testing.T) {
	s, mock := mockStore(t)
	lastRun := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO bot_state").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), lastRun).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveBotState(context.Background(), BotState{
		Drawdown:        drawdown.State{PeakValue: 100000},
		RotationLastRun: lastRun,
	})
	if err != nil {
		t.Fatalf("SaveBotState: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBotStateFirstRun(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery("SELECT drawdown_state").WillReturnError(pgx.ErrNoRows)

	state, err := s.LoadBotState(context.Background())
	if err != nil {
		t.Fatalf("LoadBotState: %v", err)
	}
	if state != nil {
		t.Fatalf("state = %+v, want nil on first run", state)
	}
}

func TestLoadBotStateRoundTrip(t *testing.T) {
	s, mock := mockStore(t)
	lastRun := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ddJSON, _ := json.Marshal(drawdown.State{PeakValue: 123456})
	regJSON, _ := json.Marshal(regime.State{})

	mock.ExpectQuery("SELECT drawdown_state").WillReturnRows(
		pgxmock.NewRows([]string{"drawdown_state", "regime_state", "rotation_last_run"}).
			AddRow(ddJSON, regJSON, &lastRun))

	state, err := s.LoadBotState(context.Background())
	if err != nil {
		t.Fatalf("LoadBotState: %v", err)
	}
	if state.Drawdown.PeakValue != 123456 {
		t.Fatalf("peak = %v, want 123456", state.Drawdown.PeakValue)
	}
	if !state.RotationLastRun.Equal(lastRun) {
		t.Fatalf("last run = %v, want %v", state.RotationLastRun, lastRun)
	}
}

func TestUpsertRotationRecords(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec("INSERT INTO ticker_rotation").
		WithArgs("NVDA", "premium", 2, 0, 6, 5, 420.0, 500.0, 80.0, pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRotationRecords(context.Background(), []rotation.Record{{
		Symbol: "NVDA", Tier: rotation.TierPremium,
		ConsecutiveWins: 2, TotalTrades: 6, TotalWins: 5,
		TotalPnL: 420, TotalWinPnL: 500, TotalLossPnL: 80,
	}})
	if err != nil {
		t.Fatalf("UpsertRotationRecords: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRotationRecords(t *testing.T) {
	s, mock := mockStore(t)
	changed := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT symbol, tier").WillReturnRows(
		pgxmock.NewRows([]string{
			"symbol", "tier", "consecutive_wins", "consecutive_losses", "total_trades",
			"total_wins", "total_pnl", "total_win_pnl", "total_loss_pnl",
			"last_tier_change", "recovery_pass_count",
		}).AddRow("XYZ", "frozen", 0, 3, 8, 2, -180.0, 220.0, 400.0, &changed, 1))

	records, err := s.LoadRotationRecords(context.Background())
	if err != nil {
		t.Fatalf("LoadRotationRecords: %v", err)
	}
	r := records["XYZ"]
	if r == nil || r.Tier != rotation.TierFrozen {
		t.Fatalf("record = %+v, want frozen XYZ", r)
	}
	if r.RecoveryPassCount != 1 || !r.LastTierChange.Equal(changed) {
		t.Fatalf("record = %+v, pass count and tier-change date must survive", r)
	}
}

func TestReplacePositionMetadata(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM position_metadata").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO position_metadata").
		WithArgs("AAPL", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.ReplacePositionMetadata(context.Background(), map[string]*monitor.Metadata{
		"AAPL": {Symbol: "AAPL", EntryPrice: 100},
	})
	if err != nil {
		t.Fatalf("ReplacePositionMetadata: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplacePositionMetadataRollsBack(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM position_metadata").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.ReplacePositionMetadata(context.Background(), nil)
	if err == nil {
		t.Fatal("want error when the delete fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPositionMetadata(t *testing.T) {
	s, mock := mockStore(t)

	data, _ := json.Marshal(monitor.Metadata{Symbol: "AAPL", EntryPrice: 100, ProfitLevel: 1})
	mock.ExpectQuery("SELECT symbol, metadata").WillReturnRows(
		pgxmock.NewRows([]string{"symbol", "metadata"}).AddRow("AAPL", data))

	out, err := s.LoadPositionMetadata(context.Background())
	if err != nil {
		t.Fatalf("LoadPositionMetadata: %v", err)
	}
	md := out["AAPL"]
	if md == nil || md.EntryPrice != 100 || md.ProfitLevel != 1 {
		t.Fatalf("metadata = %+v, want the persisted AAPL row", md)
	}
}

func TestRecordTrade(t *testing.T) {
	s, mock := mockStore(t)
	entry := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	exit := entry.AddDate(0, 0, 20)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("AAPL", 100.0, 100.0, 115.0, 1500.0, "tier2_target", entry, exit).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordTrade(context.Background(), Trade{
		Symbol: "AAPL", Quantity: 100, EntryPrice: 100, ExitPrice: 115,
		PnL: 1500, ExitKind: "tier2_target", EntryDate: entry, ExitDate: exit,
	})
	if err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
