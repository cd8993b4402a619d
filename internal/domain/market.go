package domain

import (
	"time"

	"fyers_desk/pkg/quant"
)

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price    quant.PriceMicros
	Quantity int64
	Orders   int
}

// MarketDepth is the visible order book of one instrument, best prices first.
type MarketDepth struct {
	Symbol       string
	Exchange     string
	LTP          quant.PriceMicros
	Bids         []DepthLevel
	Asks         []DepthLevel
	TotalBuyQty  int64
	TotalSellQty int64
}

// Spread is best ask minus best bid, zero when either side is empty.
func (d MarketDepth) Spread() quant.PriceMicros {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return 0
	}
	return d.Asks[0].Price - d.Bids[0].Price
}

// Candle is one OHLCV bar starting at Time.
type Candle struct {
	Time   time.Time
	Open   quant.PriceMicros
	High   quant.PriceMicros
	Low    quant.PriceMicros
	Close  quant.PriceMicros
	Volume int64
}
