package fyers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/infra"
	"fyers_desk/internal/marketdata"
	"fyers_desk/pkg/quant"
)

// DefaultFeedURL is the live data socket.
const DefaultFeedURL = "wss://api-t1.fyers.in/socket/v3/dataSock"

// Feed dials the broker data socket. It implements marketdata.Transport.
type Feed struct {
	url      string
	clientID string
	opts     infra.WSOptions
}

var _ marketdata.Transport = (*Feed)(nil)

// NewFeed creates a feed transport.
func NewFeed(url, clientID string, opts infra.WSOptions) *Feed {
	if url == "" {
		url = DefaultFeedURL
	}
	return &Feed{url: url, clientID: clientID, opts: opts}
}

// Dial opens one socket session authorized with token.
func (f *Feed) Dial(ctx context.Context, token string) (marketdata.Stream, error) {
	if token == "" {
		return nil, domain.ErrNoAccessToken
	}
	opts := f.opts
	opts.Header = opts.Header.Clone()
	if opts.Header == nil {
		opts.Header = make(http.Header)
	}
	opts.Header.Set("Authorization", f.clientID+":"+token)

	conn, err := infra.DialWS(ctx, "FYERS_FEED", f.url, opts)
	if err != nil {
		return nil, err
	}

	s := &feedStream{
		conn:    conn,
		updates: make(chan marketdata.Update, 256),
		tickers: make(map[string]marketdata.Pair),
	}
	go s.pump()
	return s, nil
}

type feedStream struct {
	conn    *infra.WSConn
	updates chan marketdata.Update

	mu      sync.RWMutex
	tickers map[string]marketdata.Pair // broker ticker -> desk pair
}

func (s *feedStream) Subscribe(pairs []marketdata.Pair) error {
	tickers := make([]string, 0, len(pairs))
	s.mu.Lock()
	for _, p := range pairs {
		t := BrokerSymbol(p.Symbol, p.Exchange)
		s.tickers[t] = p
		tickers = append(tickers, t)
	}
	s.mu.Unlock()
	return s.conn.WriteJSON(feedRequest{Type: "subscribe", Symbols: tickers})
}

func (s *feedStream) Unsubscribe(pairs []marketdata.Pair) error {
	tickers := make([]string, 0, len(pairs))
	s.mu.Lock()
	for _, p := range pairs {
		t := BrokerSymbol(p.Symbol, p.Exchange)
		delete(s.tickers, t)
		tickers = append(tickers, t)
	}
	s.mu.Unlock()
	return s.conn.WriteJSON(feedRequest{Type: "unsubscribe", Symbols: tickers})
}

func (s *feedStream) Updates() <-chan marketdata.Update { return s.updates }

func (s *feedStream) Err() error { return s.conn.Err() }

func (s *feedStream) Close() error { return s.conn.Close() }

// pump decodes socket frames until the connection ends, then closes updates.
func (s *feedStream) pump() {
	defer close(s.updates)
	for msg := range s.conn.Messages() {
		u, ok := s.decode(msg)
		if !ok {
			continue
		}
		select {
		case s.updates <- u:
		case <-s.conn.Done():
			return
		}
	}
}

func (s *feedStream) decode(msg []byte) (marketdata.Update, bool) {
	var m feedMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Debug("Feed frame ignored", slog.Any("error", err))
		return marketdata.Update{}, false
	}

	switch m.Type {
	case "sf", "if":
	case "error":
		slog.Warn("Feed error frame", slog.Int("code", m.Code), slog.String("message", m.Message))
		return marketdata.Update{}, false
	default:
		return marketdata.Update{}, false
	}

	s.mu.RLock()
	pair, ok := s.tickers[m.Symbol]
	s.mu.RUnlock()
	if !ok {
		symbol, exchange := ParseBrokerSymbol(m.Symbol)
		pair = marketdata.Pair{Symbol: symbol, Exchange: exchange}
	}

	u := marketdata.Update{
		Symbol:   pair.Symbol,
		Exchange: pair.Exchange,
		LTP:      quant.ToPriceMicros(m.LTP),
		Open:     quant.ToPriceMicros(m.Open),
		High:     quant.ToPriceMicros(m.High),
		Low:      quant.ToPriceMicros(m.Low),
		Close:    quant.ToPriceMicros(m.Close),
		Volume:   m.Volume,
		Bid:      quant.ToPriceMicros(m.Bid),
		Ask:      quant.ToPriceMicros(m.Ask),
	}
	if m.FeedTS > 0 {
		u.Timestamp = quant.FromUnixSeconds(m.FeedTS).Time()
	}
	return u, true
}
