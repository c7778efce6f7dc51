// Package alpaca is the concrete brokerage client. It implements both the
// broker.Broker order/account surface and the market.Data bar feed over the
// Alpaca REST API, classifying HTTP failures into the typed broker errors the
// retry and circuit layers dispatch on.
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"swing-trading-bot/internal/broker"
	"swing-trading-bot/internal/market"
)

const defaultDataURL = "https://data.alpaca.markets"

// Config holds the client connection settings.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	DataURL   string
	DryRun    bool
}

// Client talks to the trading and market-data endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client. In dry-run mode SubmitOrder logs the order and
// fabricates a fill at the last trade price instead of hitting the API.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.DataURL == "" {
		cfg.DataURL = defaultDataURL
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "AlpacaClient").Logger(),
	}
}

type accountResponse struct {
	Cash           float64 `json:"cash,string"`
	PortfolioValue float64 `json:"portfolio_value,string"`
	Equity         float64 `json:"equity,string"`
}

type positionResponse struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty,string"`
	AvgEntry     float64 `json:"avg_entry_price,string"`
	CurrentPrice float64 `json:"current_price,string"`
	MarketValue  float64 `json:"market_value,string"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	FilledQty     float64 `json:"filled_qty,string"`
	FilledAvg     float64 `json:"filled_avg_price,string"`
	Status        string  `json:"status"`
	Side          string  `json:"side"`
}

type barResponse struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsResponse struct {
	Bars          []barResponse `json:"bars"`
	NextPageToken *string       `json:"next_page_token"`
}

type tradeResponse struct {
	Trade struct {
		Price float64 `json:"p"`
	} `json:"trade"`
}

// GetCash returns the account's settled cash.
func (c *Client) GetCash(ctx context.Context) (float64, error) {
	var acct accountResponse
	if err := c.get(ctx, c.cfg.BaseURL+"/v2/account", &acct, "get_cash"); err != nil {
		return 0, err
	}
	return acct.Cash, nil
}

// GetPortfolioValue returns total account equity.
func (c *Client) GetPortfolioValue(ctx context.Context) (float64, error) {
	var acct accountResponse
	if err := c.get(ctx, c.cfg.BaseURL+"/v2/account", &acct, "get_portfolio_value"); err != nil {
		return 0, err
	}
	if acct.Equity > 0 {
		return acct.Equity, nil
	}
	return acct.PortfolioValue, nil
}

// GetPositions returns all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var raw []positionResponse
	if err := c.get(ctx, c.cfg.BaseURL+"/v2/positions", &raw, "get_positions"); err != nil {
		return nil, err
	}
	out := make([]broker.Position, len(raw))
	for i, p := range raw {
		out[i] = broker.Position{
			Symbol:       p.Symbol,
			Quantity:     p.Qty,
			AvgEntry:     p.AvgEntry,
			CurrentPrice: p.CurrentPrice,
			MarketValue:  p.MarketValue,
		}
	}
	return out, nil
}

// GetPosition returns one open position, or nil when none exists.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	var p positionResponse
	err := c.get(ctx, c.cfg.BaseURL+"/v2/positions/"+symbol, &p, "get_position")
	if err != nil {
		// The API reports "no position" as a 404, which classifies fatal.
		var berr *broker.Error
		if errors.As(err, &berr) && berr.Kind == broker.KindFatal && strings.HasPrefix(berr.Err.Error(), "404") {
			return nil, nil
		}
		return nil, err
	}
	return &broker.Position{
		Symbol:       p.Symbol,
		Quantity:     p.Qty,
		AvgEntry:     p.AvgEntry,
		CurrentPrice: p.CurrentPrice,
		MarketValue:  p.MarketValue,
	}, nil
}

// GetLastPrice returns the latest trade price for symbol.
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	var resp tradeResponse
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.cfg.DataURL, symbol)
	if err := c.get(ctx, endpoint, &resp, "get_last_price"); err != nil {
		return 0, err
	}
	return resp.Trade.Price, nil
}

// GetBars returns up to limit daily bars for symbol, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("timeframe", "1Day")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("adjustment", "split")
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.cfg.DataURL, symbol, params.Encode())

	var resp barsResponse
	if err := c.get(ctx, endpoint, &resp, "get_bars"); err != nil {
		return nil, err
	}

	bars := make([]market.Bar, len(resp.Bars))
	for i, b := range resp.Bars {
		bars[i] = market.Bar{
			Date:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return bars, nil
}

// SubmitOrder places a market order and polls briefly for the fill.
func (c *Client) SubmitOrder(ctx context.Context, order broker.Order) (*broker.Fill, error) {
	if order.ClientOrderID == "" {
		order.ClientOrderID = broker.NewClientOrderID(order.Symbol)
	}

	if c.cfg.DryRun {
		return c.dryRunFill(ctx, order)
	}

	payload := map[string]interface{}{
		"symbol":          order.Symbol,
		"qty":             strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"side":            string(order.Side),
		"type":            "market",
		"time_in_force":   "day",
		"client_order_id": order.ClientOrderID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, broker.NewError(broker.KindFatal, "submit_order", err)
	}

	var placed orderResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/orders", body, &placed, "submit_order"); err != nil {
		return nil, err
	}

	// Market orders usually fill immediately; poll a few times before
	// giving up and reporting what we know.
	for i := 0; i < 5 && placed.Status != "filled"; i++ {
		select {
		case <-ctx.Done():
			return nil, broker.NewError(broker.KindTransient, "submit_order", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
		if err := c.get(ctx, c.cfg.BaseURL+"/v2/orders/"+placed.ID, &placed, "poll_order"); err != nil {
			break
		}
	}

	fill := &broker.Fill{
		OrderID:     placed.ID,
		Symbol:      placed.Symbol,
		Quantity:    placed.FilledQty,
		Side:        broker.Side(placed.Side),
		AvgPrice:    placed.FilledAvg,
		FilledValue: placed.FilledQty * placed.FilledAvg,
	}
	if fill.Quantity == 0 {
		fill.Quantity = order.Quantity
	}
	return fill, nil
}

func (c *Client) dryRunFill(ctx context.Context, order broker.Order) (*broker.Fill, error) {
	price, err := c.GetLastPrice(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("quantity", order.Quantity).
		Float64("price", price).
		Msg("dry run: order not submitted")
	return &broker.Fill{
		OrderID:     "dry-" + order.ClientOrderID,
		Symbol:      order.Symbol,
		Quantity:    order.Quantity,
		Side:        order.Side,
		AvgPrice:    price,
		FilledValue: order.Quantity * price,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}, op string) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out, op)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out interface{}, op string) error {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return broker.NewError(broker.KindFatal, op, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return broker.NewError(broker.KindTransient, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return broker.NewError(broker.KindTransient, op, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := fmt.Errorf("%d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return broker.NewError(classifyStatus(resp.StatusCode), op, apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return broker.NewError(broker.KindTransient, op, fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}

// classifyStatus maps HTTP statuses onto the error kinds the retry layer
// dispatches on. Only rate limits and server-side failures are worth
// retrying; everything else in 4xx is a request we should not repeat.
func classifyStatus(status int) broker.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return broker.KindRateLimited
	case status >= 500:
		return broker.KindTransient
	default:
		return broker.KindFatal
	}
}
