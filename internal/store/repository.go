package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
)

// BotState is the singleton persisted row holding the process-wide managers'
// state. Rotation records live in their own table.
type BotState struct {
	Drawdown        drawdown.State `json:"drawdown"`
	Regime          regime.State   `json:"regime"`
	RotationLastRun time.Time      `json:"rotation_last_run"`
}

// SaveBotState upserts the singleton bot-state row.
func (s *Store) SaveBotState(ctx context.Context, state BotState) error {
	ddJSON, err := json.Marshal(state.Drawdown)
	if err != nil {
		return fmt.Errorf("failed to marshal drawdown state: %w", err)
	}
	regJSON, err := json.Marshal(state.Regime)
	if err != nil {
		return fmt.Errorf("failed to marshal regime state: %w", err)
	}

	query := `
		INSERT INTO bot_state (id, drawdown_state, regime_state, rotation_last_run, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			drawdown_state = EXCLUDED.drawdown_state,
			regime_state = EXCLUDED.regime_state,
			rotation_last_run = EXCLUDED.rotation_last_run,
			updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, ddJSON, regJSON, state.RotationLastRun); err != nil {
		return fmt.Errorf("failed to save bot state: %w", err)
	}
	return nil
}

// LoadBotState reads the singleton row. Returns (nil, nil) on first run.
func (s *Store) LoadBotState(ctx context.Context) (*BotState, error) {
	query := `SELECT drawdown_state, regime_state, rotation_last_run FROM bot_state WHERE id = 1`

	var ddJSON, regJSON []byte
	var lastRun *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(&ddJSON, &regJSON, &lastRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot state: %w", err)
	}

	var state BotState
	if err := json.Unmarshal(ddJSON, &state.Drawdown); err != nil {
		return nil, fmt.Errorf("failed to parse drawdown state: %w", err)
	}
	if err := json.Unmarshal(regJSON, &state.Regime); err != nil {
		return nil, fmt.Errorf("failed to parse regime state: %w", err)
	}
	if lastRun != nil {
		state.RotationLastRun = *lastRun
	}
	return &state, nil
}

// UpsertRotationRecords writes the per-ticker rotation rows.
func (s *Store) UpsertRotationRecords(ctx context.Context, records []rotation.Record) error {
	query := `
		INSERT INTO ticker_rotation (
			symbol, tier, consecutive_wins, consecutive_losses, total_trades,
			total_wins, total_pnl, total_win_pnl, total_loss_pnl,
			last_tier_change, recovery_pass_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (symbol) DO UPDATE SET
			tier = EXCLUDED.tier,
			consecutive_wins = EXCLUDED.consecutive_wins,
			consecutive_losses = EXCLUDED.consecutive_losses,
			total_trades = EXCLUDED.total_trades,
			total_wins = EXCLUDED.total_wins,
			total_pnl = EXCLUDED.total_pnl,
			total_win_pnl = EXCLUDED.total_win_pnl,
			total_loss_pnl = EXCLUDED.total_loss_pnl,
			last_tier_change = EXCLUDED.last_tier_change,
			recovery_pass_count = EXCLUDED.recovery_pass_count,
			updated_at = now()`

	for _, r := range records {
		var lastChange *time.Time
		if !r.LastTierChange.IsZero() {
			lastChange = &r.LastTierChange
		}
		_, err := s.pool.Exec(ctx, query,
			r.Symbol, string(r.Tier), r.ConsecutiveWins, r.ConsecutiveLosses,
			r.TotalTrades, r.TotalWins, r.TotalPnL, r.TotalWinPnL, r.TotalLossPnL,
			lastChange, r.RecoveryPassCount,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert rotation record %s: %w", r.Symbol, err)
		}
	}
	return nil
}

// LoadRotationRecords reads every persisted rotation row.
func (s *Store) LoadRotationRecords(ctx context.Context) (map[string]*rotation.Record, error) {
	query := `
		SELECT symbol, tier, consecutive_wins, consecutive_losses, total_trades,
			total_wins, total_pnl, total_win_pnl, total_loss_pnl,
			last_tier_change, recovery_pass_count
		FROM ticker_rotation`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rotation records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*rotation.Record)
	for rows.Next() {
		var r rotation.Record
		var tier string
		var lastChange *time.Time
		if err := rows.Scan(&r.Symbol, &tier, &r.ConsecutiveWins, &r.ConsecutiveLosses,
			&r.TotalTrades, &r.TotalWins, &r.TotalPnL, &r.TotalWinPnL, &r.TotalLossPnL,
			&lastChange, &r.RecoveryPassCount); err != nil {
			return nil, fmt.Errorf("failed to scan rotation record: %w", err)
		}
		r.Tier = rotation.Tier(tier)
		if lastChange != nil {
			r.LastTierChange = *lastChange
		}
		out[r.Symbol] = &r
	}
	return out, rows.Err()
}

// ReplacePositionMetadata swaps the whole position_metadata table for the
// current tracked set, in one transaction. The monitor owns the full set, so
// replace semantics keep the table from accumulating stale rows.
func (s *Store) ReplacePositionMetadata(ctx context.Context, positions map[string]*monitor.Metadata) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin metadata replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM position_metadata`); err != nil {
		return fmt.Errorf("failed to clear position metadata: %w", err)
	}

	for symbol, md := range positions {
		data, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", symbol, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO position_metadata (symbol, metadata, updated_at) VALUES ($1, $2, now())`,
			symbol, data)
		if err != nil {
			return fmt.Errorf("failed to insert metadata for %s: %w", symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit metadata replace: %w", err)
	}
	return nil
}

// LoadPositionMetadata reads all persisted position metadata.
func (s *Store) LoadPositionMetadata(ctx context.Context) (map[string]*monitor.Metadata, error) {
	rows, err := s.pool.Query(ctx, `SELECT symbol, metadata FROM position_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to load position metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*monitor.Metadata)
	for rows.Next() {
		var symbol string
		var data []byte
		if err := rows.Scan(&symbol, &data); err != nil {
			return nil, fmt.Errorf("failed to scan position metadata: %w", err)
		}
		var md monitor.Metadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for %s: %w", symbol, err)
		}
		out[symbol] = &md
	}
	return out, rows.Err()
}

// Trade is one closed-trade journal row.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	ExitKind   string    `json:"exit_kind"`
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
}

// RecordTrade appends a closed trade to the journal.
func (s *Store) RecordTrade(ctx context.Context, t Trade) error {
	query := `
		INSERT INTO trades (symbol, quantity, entry_price, exit_price, pnl, exit_kind, entry_date, exit_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := s.pool.Exec(ctx, query,
		t.Symbol, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.ExitKind, t.EntryDate, t.ExitDate); err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}
