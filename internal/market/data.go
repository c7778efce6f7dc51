package market

import "context"

// Data is the market data collaborator. Implementations fetch daily OHLCV
// history per symbol; the bot only consumes derived indicators.
type Data interface {
	// GetBars returns up to limit daily bars for symbol, oldest first.
	GetBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}
