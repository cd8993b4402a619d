package fyers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/infra"
	"fyers_desk/pkg/quant"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRestURL is the v3 trading API root.
const DefaultRestURL = "https://api-t1.fyers.in/api/v3"

// DefaultDataURL is the market data API root.
const DefaultDataURL = "https://api-t1.fyers.in/data"

const maxResponseBytes = 4 << 20

// order times in the order book are exchange local
var ist = time.FixedZone("IST", 5*3600+1800)

// TokenSource supplies the current broker access token.
type TokenSource interface {
	AccessToken() (string, bool)
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL           string
	DataURL           string
	ClientID          string
	RequestsPerSecond float64

	// Registerer receives the client's collectors when non-nil.
	Registerer prometheus.Registerer
}

// Client is the broker REST API. It implements domain.Broker.
type Client struct {
	baseURL    string
	dataURL    string
	clientID   string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker
	metrics    *clientMetrics
}

var _ domain.Broker = (*Client)(nil)

// NewClient creates a REST client. A nil httpClient gets a 15s timeout client.
func NewClient(cfg ClientConfig, tokens TokenSource, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRestURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	metrics := newClientMetrics(cfg.Registerer)
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		clientID:   cfg.ClientID,
		tokens:     tokens,
		httpClient: httpClient,
		limiter:    infra.NewRateLimiter(cfg.RequestsPerSecond, int(math.Ceil(cfg.RequestsPerSecond))),
		breaker: infra.NewCircuitBreaker(infra.BreakerConfig{
			Name:      "fyers-rest",
			IsFailure: countsAgainstBreaker,
			OnStateChange: func(_, to infra.BreakerState) {
				metrics.breaker.Set(float64(to))
			},
		}),
		metrics: metrics,
	}
}

// countsAgainstBreaker: only transport and server failures trip the breaker.
func countsAgainstBreaker(err error) bool {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Funds returns the equity margin summary.
func (c *Client) Funds(ctx context.Context) (domain.Funds, error) {
	var resp fundsResponse
	if err := c.do(ctx, "funds", http.MethodGet, c.baseURL+"/funds", nil, &resp); err != nil {
		return domain.Funds{}, err
	}

	var f domain.Funds
	for _, row := range resp.FundLimit {
		v := quant.ToPriceMicros(row.EquityAmount)
		switch row.ID {
		case fundTotal:
			f.Total = v
		case fundUtilized:
			f.Used = v
		case fundAvailable:
			f.Available = v
		}
	}
	return f, nil
}

func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var resp positionsResponse
	if err := c.do(ctx, "positions", http.MethodGet, c.baseURL+"/positions", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Position, 0, len(resp.NetPositions))
	for _, p := range resp.NetPositions {
		symbol, exchange := ParseBrokerSymbol(p.Symbol)
		out = append(out, domain.Position{
			Symbol:      symbol,
			Exchange:    exchange,
			Product:     domain.ProductType(p.ProductType),
			NetQty:      p.NetQty,
			AvgPrice:    quant.ToPriceMicros(p.NetAvg),
			LTP:         quant.ToPriceMicros(p.LTP),
			RealizedPnL: quant.ToPriceMicros(p.Realized).Decimal(),
		})
	}
	return out, nil
}

func (c *Client) Holdings(ctx context.Context) ([]domain.Holding, error) {
	var resp holdingsResponse
	if err := c.do(ctx, "holdings", http.MethodGet, c.baseURL+"/holdings", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Holding, 0, len(resp.Holdings))
	for _, h := range resp.Holdings {
		symbol, exchange := ParseBrokerSymbol(h.Symbol)
		out = append(out, domain.Holding{
			Symbol:    symbol,
			Exchange:  exchange,
			Quantity:  h.Quantity,
			CostPrice: quant.ToPriceMicros(h.CostPrice),
			LTP:       quant.ToPriceMicros(h.LTP),
		})
	}
	return out, nil
}

// Orders returns today's order book.
func (c *Client) Orders(ctx context.Context) ([]domain.Order, error) {
	var resp orderBookResponse
	if err := c.do(ctx, "orders", http.MethodGet, c.baseURL+"/orders", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(resp.OrderBook))
	for _, o := range resp.OrderBook {
		symbol, exchange := ParseBrokerSymbol(o.Symbol)
		placed, _ := time.ParseInLocation("02-Jan-2006 15:04:05", o.OrderTime, ist)
		out = append(out, domain.Order{
			ID:           o.ID,
			Symbol:       symbol,
			Exchange:     exchange,
			Action:       domain.ActionFromSide(o.Side),
			Kind:         kindFromWire(o.Type),
			Product:      domain.ProductType(o.ProductType),
			Quantity:     o.Qty,
			FilledQty:    o.FilledQty,
			Price:        quant.ToPriceMicros(o.LimitPrice),
			TriggerPrice: quant.ToPriceMicros(o.StopPrice),
			Status:       statusFromWire(o.Status),
			Message:      o.Message,
			PlacedAt:     placed,
		})
	}
	return out, nil
}

// PlaceOrder submits a day order and returns the broker order id.
// The request is expected to be validated already.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	body := placeOrderBody{
		Symbol:      BrokerSymbol(req.Symbol, req.Exchange),
		Qty:         req.Quantity,
		Type:        kindToWire(req.Kind),
		Side:        req.Action.Side(),
		ProductType: string(req.Product),
		Validity:    "DAY",
	}
	if req.Price != nil {
		body.LimitPrice = req.Price.Float64()
	}
	if req.TriggerPrice != nil {
		body.StopPrice = req.TriggerPrice.Float64()
	}

	var resp orderIDResponse
	if err := c.do(ctx, "place order", http.MethodPost, c.baseURL+"/orders/sync", body, &resp); err != nil {
		return "", err
	}
	slog.Info("Order placed",
		slog.String("order_id", resp.ID),
		slog.String("symbol", body.Symbol),
		slog.String("action", string(req.Action)),
		slog.Int64("qty", req.Quantity))
	return resp.ID, nil
}

func (c *Client) ModifyOrder(ctx context.Context, mod domain.OrderModification) error {
	body := modifyOrderBody{ID: strings.TrimSpace(mod.OrderID), Qty: mod.Quantity}
	if mod.Kind != nil {
		t := kindToWire(*mod.Kind)
		body.Type = &t
	}
	if mod.Price != nil {
		v := mod.Price.Float64()
		body.LimitPrice = &v
	}
	if mod.TriggerPrice != nil {
		v := mod.TriggerPrice.Float64()
		body.StopPrice = &v
	}
	return c.do(ctx, "modify order", http.MethodPatch, c.baseURL+"/orders/sync", body, nil)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"id": strings.TrimSpace(orderID)}
	return c.do(ctx, "cancel order", http.MethodDelete, c.baseURL+"/orders/sync", body, nil)
}

// CloseAllPositions exits every open position at market.
func (c *Client) CloseAllPositions(ctx context.Context) error {
	body := map[string]int{"exit_all": 1}
	return c.do(ctx, "close all positions", http.MethodDelete, c.baseURL+"/positions", body, nil)
}

// do sends one authenticated request through the rate limiter and circuit
// breaker and decodes a successful response into out.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return &domain.AuthError{Kind: domain.AuthExpiredToken, Op: op, Err: domain.ErrNoAccessToken}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, op, method, endpoint, token, body, out)
	})
	c.metrics.observe(op, err)
	if errors.Is(err, infra.ErrCircuitOpen) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", c.clientID+":"+token)
	req.Header.Set("User-Agent", infra.GetUserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode == http.StatusUnauthorized || tokenErrorCodes[env.Code] {
		return &domain.AuthError{
			Kind: domain.AuthExpiredToken,
			Op:   op,
			Err:  &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message},
		}
	}
	if resp.StatusCode >= 300 || decodeErr != nil || env.S != "ok" {
		msg := env.Message
		if decodeErr != nil {
			msg = "undecodable response"
		}
		return fmt.Errorf("%s: %w", op, &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// The broker numbers order types differently from the desk.
func kindToWire(k domain.OrderKind) int {
	switch k {
	case domain.KindLimit:
		return 1
	case domain.KindMarket:
		return 2
	case domain.KindStopMarket:
		return 3
	case domain.KindStop:
		return 4
	}
	return 0
}

func kindFromWire(t int) domain.OrderKind {
	switch t {
	case 1:
		return domain.KindLimit
	case 2:
		return domain.KindMarket
	case 3:
		return domain.KindStopMarket
	case 4:
		return domain.KindStop
	}
	return 0
}

func statusFromWire(code int) domain.OrderStatus {
	s := domain.OrderStatus(code)
	if s < domain.StatusCancelled || s > domain.StatusPending {
		return domain.StatusTransit
	}
	return s
}
