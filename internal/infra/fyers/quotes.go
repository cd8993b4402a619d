package fyers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/marketdata"
	"fyers_desk/pkg/quant"
)

// maxQuoteSymbols is the broker's limit per quotes call.
const maxQuoteSymbols = 50

// Quotes polls the latest quote of every pair. Pairs the broker cannot
// quote are logged and left out of the result.
func (c *Client) Quotes(ctx context.Context, pairs []marketdata.Pair) ([]marketdata.Update, error) {
	out := make([]marketdata.Update, 0, len(pairs))
	for start := 0; start < len(pairs); start += maxQuoteSymbols {
		end := min(start+maxQuoteSymbols, len(pairs))
		tickers := make([]string, 0, end-start)
		for _, p := range pairs[start:end] {
			tickers = append(tickers, BrokerSymbol(p.Symbol, p.Exchange))
		}

		q := url.Values{"symbols": {strings.Join(tickers, ",")}}
		var resp quotesResponse
		if err := c.do(ctx, "quotes", http.MethodGet, c.dataURL+"/quotes?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		for _, row := range resp.D {
			if row.S != "ok" {
				slog.Warn("Quote unavailable", slog.String("ticker", row.N), slog.String("reason", row.V.Errmsg))
				continue
			}
			symbol, exchange := ParseBrokerSymbol(row.N)
			u := marketdata.Update{
				Symbol:   symbol,
				Exchange: exchange,
				LTP:      quant.ToPriceMicros(row.V.LTP),
				Open:     quant.ToPriceMicros(row.V.Open),
				High:     quant.ToPriceMicros(row.V.High),
				Low:      quant.ToPriceMicros(row.V.Low),
				Close:    quant.ToPriceMicros(row.V.PrevClose),
				Volume:   row.V.Volume,
				Bid:      quant.ToPriceMicros(row.V.Bid),
				Ask:      quant.ToPriceMicros(row.V.Ask),
			}
			if row.V.TT > 0 {
				u.Timestamp = quant.FromUnixSeconds(int64(row.V.TT)).Time()
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// Depth returns the order book of one instrument.
func (c *Client) Depth(ctx context.Context, symbol, exchange string) (domain.MarketDepth, error) {
	ticker := BrokerSymbol(symbol, exchange)
	q := url.Values{"symbol": {ticker}, "ohlcv_flag": {"1"}}

	var resp depthResponse
	if err := c.do(ctx, "depth", http.MethodGet, c.dataURL+"/depth?"+q.Encode(), nil, &resp); err != nil {
		return domain.MarketDepth{}, err
	}
	book, ok := resp.D[ticker]
	if !ok {
		return domain.MarketDepth{}, fmt.Errorf("depth: %w: %s", domain.ErrNotFound, ticker)
	}

	sym, ex := ParseBrokerSymbol(ticker)
	return domain.MarketDepth{
		Symbol:       sym,
		Exchange:     ex,
		LTP:          quant.ToPriceMicros(book.LTP),
		Bids:         depthLevels(book.Bids),
		Asks:         depthLevels(book.Asks),
		TotalBuyQty:  book.TotalBuy,
		TotalSellQty: book.TotalSell,
	}, nil
}

func depthLevels(rows []depthRow) []domain.DepthLevel {
	out := make([]domain.DepthLevel, 0, len(rows))
	for _, r := range rows {
		if r.Price == 0 && r.Volume == 0 {
			continue
		}
		out = append(out, domain.DepthLevel{Price: quant.ToPriceMicros(r.Price), Quantity: r.Volume, Orders: r.Orders})
	}
	return out
}

// resolutions maps desk intervals to broker candle resolutions.
var resolutions = map[string]string{
	"5s": "5S", "10s": "10S", "15s": "15S", "30s": "30S",
	"1m": "1", "2m": "2", "3m": "3", "5m": "5", "10m": "10", "15m": "15", "20m": "20", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240",
	"d": "D", "1d": "D",
}

// History returns candles for [from, to] at interval (5s, 1m, 5m, 15m, 1h, D, ...).
// Dates are exchange-local days; a zero to means today and a zero from means to.
func (c *Client) History(ctx context.Context, symbol, exchange, interval string, from, to time.Time) ([]domain.Candle, error) {
	res, ok := resolutions[strings.ToLower(strings.TrimSpace(interval))]
	if !ok {
		return nil, domain.ValidationErrors{{Field: "interval", Code: "oneof", Message: fmt.Sprintf("unsupported interval %q", interval)}}
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to
	}
	if from.After(to) {
		return nil, domain.ValidationErrors{{Field: "from", Code: "ltefield", Message: "must not be after to"}}
	}

	q := url.Values{
		"symbol":      {BrokerSymbol(symbol, exchange)},
		"resolution":  {res},
		"date_format": {"1"},
		"range_from":  {from.In(ist).Format(time.DateOnly)},
		"range_to":    {to.In(ist).Format(time.DateOnly)},
		"cont_flag":   {"1"},
	}
	var resp historyResponse
	if err := c.do(ctx, "history", http.MethodGet, c.dataURL+"/history?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.Candle{
			Time:   time.Unix(int64(row[0]), 0),
			Open:   quant.ToPriceMicros(row[1]),
			High:   quant.ToPriceMicros(row[2]),
			Low:    quant.ToPriceMicros(row[3]),
			Close:  quant.ToPriceMicros(row[4]),
			Volume: int64(row[5]),
		})
	}
	return out, nil
}
