package fyers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/marketdata"
	"fyers_desk/pkg/quant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Quotes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/quotes", r.URL.Path)
		assert.Equal(t, "APP-100:tok", r.Header.Get("Authorization"))
		assert.Equal(t, "NSE:TCS-EQ,NSE:NIFTY50-INDEX,NSE:NOPE-EQ", r.URL.Query().Get("symbols"))
		writeJSON(w, 200, `{"s":"ok","code":200,"d":[
			{"n":"NSE:TCS-EQ","s":"ok","v":{"lp":3510.5,"open_price":3490,"high_price":3520,"low_price":3480,
			 "prev_close_price":3500,"volume":120345,"bid":3510.4,"ask":3510.6,"tt":"1736742600"}},
			{"n":"NSE:NIFTY50-INDEX","s":"ok","v":{"lp":23500,"prev_close_price":23400,"tt":1736742600}},
			{"n":"NSE:NOPE-EQ","s":"error","v":{"errmsg":"invalid symbol"}}]}`)
	})

	pairs := []marketdata.Pair{
		{Symbol: "TCS", Exchange: "NSE"},
		{Symbol: "NIFTY 50", Exchange: "NSE"},
		{Symbol: "NOPE", Exchange: "NSE"},
	}
	quotes, err := c.Quotes(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	q := quotes[0]
	assert.Equal(t, "TCS", q.Symbol)
	assert.Equal(t, "NSE", q.Exchange)
	assert.Equal(t, quant.ToPriceMicros(3510.5), q.LTP)
	assert.Equal(t, quant.ToPriceMicros(3500), q.Close)
	assert.Equal(t, int64(120345), q.Volume)
	assert.Equal(t, quant.ToPriceMicros(3510.4), q.Bid)
	assert.Equal(t, time.Unix(1736742600, 0), q.Timestamp)

	assert.Equal(t, "NIFTY 50", quotes[1].Symbol)
}

func TestClient_QuotesBatches(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		tickers := strings.Split(r.URL.Query().Get("symbols"), ",")
		assert.LessOrEqual(t, len(tickers), maxQuoteSymbols)
		rows := make([]string, 0, len(tickers))
		for _, tk := range tickers {
			rows = append(rows, fmt.Sprintf(`{"n":%q,"s":"ok","v":{"lp":10}}`, tk))
		}
		writeJSON(w, 200, `{"s":"ok","d":[`+strings.Join(rows, ",")+`]}`)
	})

	pairs := make([]marketdata.Pair, 120)
	for i := range pairs {
		pairs[i] = marketdata.Pair{Symbol: fmt.Sprintf("S%03d", i), Exchange: "NSE"}
	}
	quotes, err := c.Quotes(context.Background(), pairs)
	require.NoError(t, err)
	assert.Len(t, quotes, 120)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_QuotesExpiredToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"s":"error","code":-16,"message":"token expired"}`)
	})
	_, err := c.Quotes(context.Background(), []marketdata.Pair{{Symbol: "TCS", Exchange: "NSE"}})
	assert.True(t, domain.IsAuthKind(err, domain.AuthExpiredToken))
}

func TestClient_Depth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/depth", r.URL.Path)
		assert.Equal(t, "NSE:SBIN-EQ", r.URL.Query().Get("symbol"))
		writeJSON(w, 200, `{"s":"ok","d":{"NSE:SBIN-EQ":{"totalbuyqty":5000,"totalsellqty":4200,"ltp":612.4,
			"bids":[{"price":612.3,"volume":150,"ord":3},{"price":612.2,"volume":90,"ord":2},{"price":0,"volume":0,"ord":0}],
			"ask":[{"price":612.5,"volume":75,"ord":1}]}}}`)
	})

	d, err := c.Depth(context.Background(), "sbin", "nse")
	require.NoError(t, err)
	assert.Equal(t, "SBIN", d.Symbol)
	assert.Len(t, d.Bids, 2, "empty levels are dropped")
	require.Len(t, d.Asks, 1)
	assert.Equal(t, int64(75), d.Asks[0].Quantity)
	assert.Equal(t, 3, d.Bids[0].Orders)
	assert.Equal(t, int64(5000), d.TotalBuyQty)
	assert.Equal(t, quant.ToPriceMicros(0.2), d.Spread())
}

func TestClient_DepthMissingInstrument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"s":"ok","d":{}}`)
	})
	_, err := c.Depth(context.Background(), "SBIN", "NSE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_History(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/history", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "NSE:TCS-EQ", q.Get("symbol"))
		assert.Equal(t, "5", q.Get("resolution"))
		assert.Equal(t, "1", q.Get("date_format"))
		assert.Equal(t, "2025-01-10", q.Get("range_from"))
		assert.Equal(t, "2025-01-13", q.Get("range_to"))
		writeJSON(w, 200, `{"s":"ok","candles":[
			[1736742600,3490,3495.5,3488,3494,12000],
			[1736742900,3494,3501,3493,3500.25,8000],
			[1736743200]]}`)
	})

	from := time.Date(2025, 1, 10, 9, 15, 0, 0, ist)
	to := time.Date(2025, 1, 13, 15, 30, 0, 0, ist)
	candles, err := c.History(context.Background(), "TCS", "NSE", "5m", from, to)
	require.NoError(t, err)
	require.Len(t, candles, 2, "short rows are skipped")
	assert.Equal(t, time.Unix(1736742900, 0), candles[1].Time)
	assert.Equal(t, quant.ToPriceMicros(3500.25), candles[1].Close)
	assert.Equal(t, int64(8000), candles[1].Volume)
}

func TestClient_HistoryRejectsBadInput(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	ctx := context.Background()

	_, err := c.History(ctx, "TCS", "NSE", "7m", time.Time{}, time.Time{})
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("interval", "oneof"))

	now := time.Now()
	_, err = c.History(ctx, "TCS", "NSE", "D", now, now.Add(-48*time.Hour))
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("from", "ltefield"))
	assert.Zero(t, calls.Load())
}
