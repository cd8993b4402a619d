package domain

import (
	"fyers_desk/pkg/quant"

	"github.com/shopspring/decimal"
)

// Position represents an open intraday or carry-forward position.
type Position struct {
	Symbol      string
	Exchange    string
	Product     ProductType
	NetQty      int64 // Positive for Long, Negative for Short.
	AvgPrice    quant.PriceMicros
	LTP         quant.PriceMicros
	RealizedPnL decimal.Decimal
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.NetQty > 0
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.NetQty < 0
}

// IsFlat reports a closed position still listed by the broker.
func (p *Position) IsFlat() bool {
	return p.NetQty == 0
}

// UnrealizedPnL is marked at the last traded price.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return quant.PnL(p.LTP, p.AvgPrice, p.NetQty)
}

// Holding is a delivery holding in the demat account.
type Holding struct {
	Symbol    string
	Exchange  string
	Quantity  int64
	CostPrice quant.PriceMicros
	LTP       quant.PriceMicros
}

// PnL is (ltp - cost) * qty.
func (h Holding) PnL() decimal.Decimal {
	return quant.PnL(h.LTP, h.CostPrice, h.Quantity)
}

// PnLPercent is relative to the cost price; zero when cost is unknown.
func (h Holding) PnLPercent() decimal.Decimal {
	return quant.ChangePercent(h.LTP, h.CostPrice)
}

// MarketValue is ltp * qty.
func (h Holding) MarketValue() decimal.Decimal {
	return h.LTP.Decimal().Mul(decimal.NewFromInt(h.Quantity))
}

// Funds is the trading account margin summary.
type Funds struct {
	Total     quant.PriceMicros
	Available quant.PriceMicros
	Used      quant.PriceMicros
}

// Portfolio bundles one consistent fetch of the account.
type Portfolio struct {
	Funds     Funds
	Positions []Position
	Holdings  []Holding
	Orders    []Order
}
