package domain

import "context"

// Broker defines the contract for broker account and order calls.
// It abstracts away the difference between paper trading and the real broker.
type Broker interface {
	Funds(ctx context.Context) (Funds, error)
	Positions(ctx context.Context) ([]Position, error)
	Holdings(ctx context.Context) ([]Holding, error)
	Orders(ctx context.Context) ([]Order, error)

	// PlaceOrder submits an order and returns the broker order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	ModifyOrder(ctx context.Context, mod OrderModification) error
	CancelOrder(ctx context.Context, orderID string) error

	// CloseAllPositions squares off every open position.
	CloseAllPositions(ctx context.Context) error
}
