package execution

import (
	"context"
	"log/slog"
	"strings"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/order"

	"golang.org/x/sync/errgroup"
)

// TradingService is the only path from user input to a broker. Requests
// that fail validation never reach the broker.
type TradingService struct {
	broker    domain.Broker
	validator *order.Validator
}

// NewTradingService wraps broker with order validation.
func NewTradingService(broker domain.Broker) *TradingService {
	return &TradingService{broker: broker, validator: order.NewValidator()}
}

// PlaceOrder validates req and submits it. It returns the broker order id.
func (s *TradingService) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := s.validator.Validate(req); err != nil {
		return "", err
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Exchange = strings.ToUpper(strings.TrimSpace(req.Exchange))
	return s.broker.PlaceOrder(ctx, req)
}

func (s *TradingService) ModifyOrder(ctx context.Context, mod domain.OrderModification) error {
	if err := s.validator.ValidateModification(mod); err != nil {
		return err
	}
	mod.OrderID = strings.TrimSpace(mod.OrderID)
	return s.broker.ModifyOrder(ctx, mod)
}

func (s *TradingService) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ValidationErrors{{Field: "order_id", Code: "notblank", Message: "is required"}}
	}
	return s.broker.CancelOrder(ctx, orderID)
}

func (s *TradingService) CloseAllPositions(ctx context.Context) error {
	slog.Warn("Closing all positions")
	return s.broker.CloseAllPositions(ctx)
}

// Portfolio fetches funds, positions, holdings and orders concurrently and
// fails with the first error.
func (s *TradingService) Portfolio(ctx context.Context) (domain.Portfolio, error) {
	var pf domain.Portfolio
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f, err := s.broker.Funds(ctx)
		pf.Funds = f
		return err
	})
	g.Go(func() error {
		p, err := s.broker.Positions(ctx)
		pf.Positions = p
		return err
	})
	g.Go(func() error {
		h, err := s.broker.Holdings(ctx)
		pf.Holdings = h
		return err
	})
	g.Go(func() error {
		o, err := s.broker.Orders(ctx)
		pf.Orders = o
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.Portfolio{}, err
	}
	return pf, nil
}
