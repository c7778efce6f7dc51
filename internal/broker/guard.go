package broker

import (
	"context"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/circuit"
)

// Guard wraps a Broker with the retry policy and a circuit breaker. All bot
// code talks to the broker through a Guard; a tripped breaker short-circuits
// every call until the cooldown probe succeeds.
type Guard struct {
	inner   Broker
	breaker *circuit.Breaker
	retry   *RetryConfig
	logger  zerolog.Logger
}

// NewGuard wraps inner with retry and breaker protection.
func NewGuard(inner Broker, breaker *circuit.Breaker, retry *RetryConfig, logger zerolog.Logger) *Guard {
	return &Guard{
		inner:   inner,
		breaker: breaker,
		retry:   retry,
		logger:  logger.With().Str("component", "BrokerGuard").Logger(),
	}
}

// Breaker exposes the underlying breaker for status reporting.
func (g *Guard) Breaker() *circuit.Breaker { return g.breaker }

// call runs op through the breaker, retrying retryable failures. Each retry
// round trips the breaker accounting once, so a run of failed calls opens it.
func (g *Guard) call(ctx context.Context, op string, fn func() error) error {
	err := g.breaker.Execute(func() error {
		return Retry(ctx, g.retry, fn)
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("op", op).Msg("broker call failed")
	}
	return err
}

func (g *Guard) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := g.call(ctx, "get_positions", func() error {
		var err error
		out, err = g.inner.GetPositions(ctx)
		return err
	})
	return out, err
}

func (g *Guard) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var out *Position
	err := g.call(ctx, "get_position", func() error {
		var err error
		out, err = g.inner.GetPosition(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guard) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	var out float64
	err := g.call(ctx, "get_last_price", func() error {
		var err error
		out, err = g.inner.GetLastPrice(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guard) GetCash(ctx context.Context) (float64, error) {
	var out float64
	err := g.call(ctx, "get_cash", func() error {
		var err error
		out, err = g.inner.GetCash(ctx)
		return err
	})
	return out, err
}

func (g *Guard) GetPortfolioValue(ctx context.Context) (float64, error) {
	var out float64
	err := g.call(ctx, "get_portfolio_value", func() error {
		var err error
		out, err = g.inner.GetPortfolioValue(ctx)
		return err
	})
	return out, err
}

func (g *Guard) SubmitOrder(ctx context.Context, order Order) (*Fill, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = NewClientOrderID(order.Symbol)
	}
	var out *Fill
	err := g.call(ctx, "submit_order", func() error {
		var err error
		out, err = g.inner.SubmitOrder(ctx, order)
		return err
	})
	if err == nil && out != nil {
		g.logger.Info().
			Str("symbol", order.Symbol).
			Str("side", string(order.Side)).
			Float64("quantity", out.Quantity).
			Float64("avg_price", out.AvgPrice).
			Str("client_order_id", order.ClientOrderID).
			Msg("order filled")
	}
	return out, err
}
