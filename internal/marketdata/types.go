// Package marketdata multiplexes one live-price stream to many listeners.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fyers_desk/pkg/quant"

	"github.com/shopspring/decimal"
)

var ErrHubClosed = errors.New("market data hub closed")

// Pair identifies an instrument. Both parts are trimmed and upper-cased.
type Pair struct {
	Symbol   string
	Exchange string
}

// NewPair normalizes symbol and exchange.
func NewPair(symbol, exchange string) (Pair, error) {
	p := Pair{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: strings.ToUpper(strings.TrimSpace(exchange)),
	}
	if p.Symbol == "" || p.Exchange == "" {
		return Pair{}, fmt.Errorf("symbol and exchange are required (got %q/%q)", symbol, exchange)
	}
	return p, nil
}

func (p Pair) String() string { return p.Exchange + ":" + p.Symbol }

// Update is one inbound quote message from the transport.
// Close is the previous session close, used as the change reference.
type Update struct {
	Symbol    string
	Exchange  string
	LTP       quant.PriceMicros
	Open      quant.PriceMicros
	High      quant.PriceMicros
	Low       quant.PriceMicros
	Close     quant.PriceMicros
	Volume    int64
	Bid       quant.PriceMicros
	Ask       quant.PriceMicros
	Timestamp time.Time
}

// QuoteSnapshot is the latest known state of a pair.
type QuoteSnapshot struct {
	Pair
	LTP           quant.PriceMicros
	Open          quant.PriceMicros
	High          quant.PriceMicros
	Low           quant.PriceMicros
	PrevClose     quant.PriceMicros
	Volume        int64
	Bid           quant.PriceMicros
	Ask           quant.PriceMicros
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	ExchangeTime  time.Time
	UpdatedAt     time.Time // local receipt time; zero until the first update
	Stale         bool
}

// HasData reports whether at least one update was received.
func (q QuoteSnapshot) HasData() bool { return !q.UpdatedAt.IsZero() }

// EventKind distinguishes price updates from staleness transitions.
type EventKind int

const (
	EventUpdate EventKind = iota + 1
	EventStale
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "UPDATE"
	case EventStale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}

// QuoteEvent is delivered to listeners.
type QuoteEvent struct {
	Kind     EventKind
	Snapshot QuoteSnapshot
}

// Listener receives events for one pair, in the order they were received.
// It runs on the hub's dispatch goroutine and may call back into the hub.
type Listener func(QuoteEvent)

// SubscriptionHandle identifies one registered listener.
type SubscriptionHandle struct {
	id   uint64
	pair Pair
}

// Pair returns the subscribed pair.
func (h SubscriptionHandle) Pair() Pair { return h.pair }

// ConnState is the hub's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// StatusEvent reports a connection state change.
type StatusEvent struct {
	State   ConnState
	Attempt int   // reconnect attempt, 0 otherwise
	Err     error // cause of a drop or failed attempt
	At      time.Time
}

// TokenSource yields the current broker access token.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Transport opens stream connections to the broker feed.
type Transport interface {
	Dial(ctx context.Context, token string) (Stream, error)
}

// Stream is one live feed connection.
// Updates must be closed when the connection ends, including after Close.
type Stream interface {
	Subscribe(pairs []Pair) error
	Unsubscribe(pairs []Pair) error
	Updates() <-chan Update
	Err() error
	Close() error
}
