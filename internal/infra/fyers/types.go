package fyers

import (
	"bytes"
	"fmt"
	"strconv"
)

// envelope is the status block every REST response carries.
type envelope struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIError is a non-auth broker rejection or server failure.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fyers: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Temporary reports server side failures that may succeed on retry.
func (e *APIError) Temporary() bool { return e.Status >= 500 }

// broker codes for a missing, invalid or expired access token
var tokenErrorCodes = map[int]bool{
	-8:  true,
	-15: true,
	-16: true,
	-17: true,
}

type fundsResponse struct {
	FundLimit []struct {
		ID           int     `json:"id"`
		Title        string  `json:"title"`
		EquityAmount float64 `json:"equityAmount"`
	} `json:"fund_limit"`
}

// fund_limit row ids
const (
	fundTotal     = 1
	fundUtilized  = 2
	fundAvailable = 10
)

type positionsResponse struct {
	NetPositions []struct {
		Symbol      string  `json:"symbol"`
		NetQty      int64   `json:"netQty"`
		NetAvg      float64 `json:"netAvg"`
		LTP         float64 `json:"ltp"`
		Realized    float64 `json:"realized_profit"`
		ProductType string  `json:"productType"`
	} `json:"netPositions"`
}

type holdingsResponse struct {
	Holdings []struct {
		Symbol    string  `json:"symbol"`
		Quantity  int64   `json:"quantity"`
		CostPrice float64 `json:"costPrice"`
		LTP       float64 `json:"ltp"`
	} `json:"holdings"`
}

type orderBookResponse struct {
	OrderBook []struct {
		ID          string  `json:"id"`
		Symbol      string  `json:"symbol"`
		Side        int     `json:"side"`
		Type        int     `json:"type"`
		ProductType string  `json:"productType"`
		Qty         int64   `json:"qty"`
		FilledQty   int64   `json:"filledQty"`
		LimitPrice  float64 `json:"limitPrice"`
		StopPrice   float64 `json:"stopPrice"`
		Status      int     `json:"status"`
		Message     string  `json:"message"`
		OrderTime   string  `json:"orderDateTime"`
	} `json:"orderBook"`
}

type placeOrderBody struct {
	Symbol       string  `json:"symbol"`
	Qty          int64   `json:"qty"`
	Type         int     `json:"type"`
	Side         int     `json:"side"`
	ProductType  string  `json:"productType"`
	LimitPrice   float64 `json:"limitPrice"`
	StopPrice    float64 `json:"stopPrice"`
	Validity     string  `json:"validity"`
	DisclosedQty int64   `json:"disclosedQty"`
	OfflineOrder bool    `json:"offlineOrder"`
}

type modifyOrderBody struct {
	ID         string   `json:"id"`
	Type       *int     `json:"type,omitempty"`
	Qty        *int64   `json:"qty,omitempty"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
	StopPrice  *float64 `json:"stopPrice,omitempty"`
}

type orderIDResponse struct {
	ID string `json:"id"`
}

type quotesResponse struct {
	D []struct {
		N string `json:"n"`
		S string `json:"s"`
		V struct {
			LTP       float64      `json:"lp"`
			Open      float64      `json:"open_price"`
			High      float64      `json:"high_price"`
			Low       float64      `json:"low_price"`
			PrevClose float64      `json:"prev_close_price"`
			Volume    int64        `json:"volume"`
			Bid       float64      `json:"bid"`
			Ask       float64      `json:"ask"`
			TT        epochSeconds `json:"tt"`
			Errmsg    string       `json:"errmsg"`
		} `json:"v"`
	} `json:"d"`
}

// epochSeconds accepts the timestamp as a JSON number or a quoted number.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*e = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("epoch seconds %q: %w", b, err)
	}
	*e = epochSeconds(v)
	return nil
}

type depthResponse struct {
	D map[string]struct {
		TotalBuy  int64      `json:"totalbuyqty"`
		TotalSell int64      `json:"totalsellqty"`
		Bids      []depthRow `json:"bids"`
		Asks      []depthRow `json:"ask"`
		LTP       float64    `json:"ltp"`
	} `json:"d"`
}

type depthRow struct {
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	Orders int     `json:"ord"`
}

// each candle is [epoch, open, high, low, close, volume]
type historyResponse struct {
	Candles [][]float64 `json:"candles"`
}

// feed frames

type feedRequest struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

type feedMessage struct {
	Type    string  `json:"type"`
	Symbol  string  `json:"symbol"`
	LTP     float64 `json:"ltp"`
	Open    float64 `json:"open_price"`
	High    float64 `json:"high_price"`
	Low     float64 `json:"low_price"`
	Close   float64 `json:"prev_close_price"`
	Volume  int64   `json:"vol_traded_today"`
	Bid     float64 `json:"bid_price"`
	Ask     float64 `json:"ask_price"`
	FeedTS  int64   `json:"exch_feed_time"`
	Message string  `json:"message"`
	Code    int     `json:"code"`
}
