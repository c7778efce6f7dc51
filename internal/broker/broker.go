// Package broker defines the brokerage collaborator the bot trades through.
// The concrete wire protocol lives behind the Broker interface; everything in
// the decision engines consumes this surface only.
package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Position is a broker-reported open position.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgEntry     float64 `json:"avg_entry"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

// UnrealizedPercent returns the open P&L in percent of entry.
func (p Position) UnrealizedPercent() float64 {
	if p.AvgEntry == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgEntry) / p.AvgEntry * 100
}

// Order is a market order request.
type Order struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	Side          Side    `json:"side"`
	ClientOrderID string  `json:"client_order_id"`
}

// Fill is the broker's acknowledgment of a submitted order.
type Fill struct {
	OrderID     string  `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	Side        Side    `json:"side"`
	AvgPrice    float64 `json:"avg_price"`
	FilledValue float64 `json:"filled_value"`
}

// Broker is the order-submission / account collaborator. All methods may
// fail transiently and are expected to be called through a Guard.
type Broker interface {
	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetCash(ctx context.Context) (float64, error)
	GetPortfolioValue(ctx context.Context) (float64, error)
	SubmitOrder(ctx context.Context, order Order) (*Fill, error)
}

// ClientOrderIDPrefix marks orders submitted by this bot so restarts can
// tell their own fills apart from manual activity in the same account.
const ClientOrderIDPrefix = "swing"

// NewClientOrderID returns a unique client order ID for symbol.
func NewClientOrderID(symbol string) string {
	return fmt.Sprintf("%s-%s-%s", ClientOrderIDPrefix, strings.ToLower(symbol), uuid.NewString()[:8])
}

// IsOwnOrder reports whether a client order ID was generated by this bot.
func IsOwnOrder(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, ClientOrderIDPrefix+"-")
}
