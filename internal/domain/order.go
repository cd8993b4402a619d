package domain

import (
	"fmt"
	"strings"
	"time"

	"fyers_desk/pkg/quant"
)

// OrderKind is the desk's own order type code. The broker wire codes differ
// and are mapped at the REST boundary.
type OrderKind int

const (
	KindMarket     OrderKind = 1
	KindLimit      OrderKind = 2
	KindStop       OrderKind = 3 // stop-limit
	KindStopMarket OrderKind = 4
)

func (k OrderKind) String() string {
	switch k {
	case KindMarket:
		return "MARKET"
	case KindLimit:
		return "LIMIT"
	case KindStop:
		return "STOP"
	case KindStopMarket:
		return "STOP_MARKET"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	return k >= KindMarket && k <= KindStopMarket
}

// ForbidsPrice is true for market orders.
func (k OrderKind) ForbidsPrice() bool {
	return k == KindMarket
}

// RequiresPrice is true for limit and stop-limit orders.
func (k OrderKind) RequiresPrice() bool {
	return k == KindLimit || k == KindStop
}

// RequiresTrigger is true for both stop variants.
func (k OrderKind) RequiresTrigger() bool {
	return k == KindStop || k == KindStopMarket
}

// ParseOrderKind accepts names like "LIMIT", "SL" or "stop-market".
func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "MARKET":
		return KindMarket, nil
	case "LIMIT":
		return KindLimit, nil
	case "STOP", "SL", "STOP_LIMIT":
		return KindStop, nil
	case "STOP_MARKET", "SL_M", "SL_MARKET":
		return KindStopMarket, nil
	}
	return 0, fmt.Errorf("unknown order kind: %q", s)
}

// Action is the order side.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side returns the broker's signed side code.
func (a Action) Side() int {
	if a == ActionSell {
		return -1
	}
	return 1
}

// ActionFromSide maps the broker's side code back to an Action.
func ActionFromSide(side int) Action {
	if side < 0 {
		return ActionSell
	}
	return ActionBuy
}

// ProductType is the broker margin product.
type ProductType string

const (
	ProductCNC      ProductType = "CNC"
	ProductIntraday ProductType = "INTRADAY"
	ProductMargin   ProductType = "MARGIN"
	ProductCO       ProductType = "CO"
	ProductBO       ProductType = "BO"
)

// OrderRequest is a new order as entered by the user.
// Price and TriggerPrice are nil when absent.
type OrderRequest struct {
	Symbol       string             `json:"symbol" validate:"notblank"`
	Exchange     string             `json:"exchange" validate:"notblank"`
	Action       Action             `json:"action" validate:"required,oneof=BUY SELL"`
	Quantity     int64              `json:"quantity" validate:"gt=0"`
	Kind         OrderKind          `json:"kind" validate:"required,oneof=1 2 3 4"`
	Product      ProductType        `json:"product" validate:"required,oneof=CNC INTRADAY MARGIN CO BO"`
	Price        *quant.PriceMicros `json:"price,omitempty"`
	TriggerPrice *quant.PriceMicros `json:"trigger_price,omitempty"`
}

// OrderModification is a partial update of a working order.
// Nil fields are left unchanged.
type OrderModification struct {
	OrderID      string             `json:"order_id" validate:"notblank"`
	Quantity     *int64             `json:"quantity,omitempty"`
	Kind         *OrderKind         `json:"kind,omitempty"`
	Price        *quant.PriceMicros `json:"price,omitempty"`
	TriggerPrice *quant.PriceMicros `json:"trigger_price,omitempty"`
}

// Empty reports whether no optional field is set.
func (m OrderModification) Empty() bool {
	return m.Quantity == nil && m.Kind == nil && m.Price == nil && m.TriggerPrice == nil
}

// OrderStatus uses the broker's numeric status codes.
type OrderStatus int

const (
	StatusCancelled OrderStatus = 1
	StatusTraded    OrderStatus = 2
	StatusRejected  OrderStatus = 3
	StatusTransit   OrderStatus = 4
	StatusCompleted OrderStatus = 5
	StatusPending   OrderStatus = 6
)

func (s OrderStatus) String() string {
	switch s {
	case StatusCancelled:
		return "CANCELLED"
	case StatusTraded, StatusCompleted:
		return "COMPLETED"
	case StatusRejected:
		return "REJECTED"
	case StatusTransit:
		return "PENDING"
	case StatusPending:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// IsOpen checks if the order is still working at the broker.
func (s OrderStatus) IsOpen() bool {
	return s == StatusTransit || s == StatusPending
}

// Order is an entry of the broker order book.
type Order struct {
	ID           string
	Symbol       string
	Exchange     string
	Action       Action
	Kind         OrderKind
	Product      ProductType
	Quantity     int64
	FilledQty    int64
	Price        quant.PriceMicros
	TriggerPrice quant.PriceMicros
	Status       OrderStatus
	Message      string
	PlacedAt     time.Time
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.Status.IsOpen()
}
