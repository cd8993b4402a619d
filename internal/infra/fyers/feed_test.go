package fyers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fyers_desk/internal/infra"
	"fyers_desk/internal/marketdata"
	"fyers_desk/pkg/quant"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDataSocket records subscribe frames and lets the test push quotes.
type fakeDataSocket struct {
	srv      *httptest.Server
	auth     chan string
	requests chan feedRequest
	push     chan string
}

func newFakeDataSocket(t *testing.T) *fakeDataSocket {
	t.Helper()
	f := &fakeDataSocket{
		auth:     make(chan string, 1),
		requests: make(chan feedRequest, 16),
		push:     make(chan string, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		go func() {
			for {
				var req feedRequest
				if err := conn.ReadJSON(&req); err != nil {
					return
				}
				f.requests <- req
			}
		}()
		for msg := range f.push {
			if msg == "" {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(f.push)
		f.srv.Close()
	})
	return f
}

func (f *fakeDataSocket) url() string {
	return strings.Replace(f.srv.URL, "http://", "ws://", 1)
}

func nextRequest(t *testing.T, f *fakeDataSocket) feedRequest {
	t.Helper()
	select {
	case req := <-f.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request received")
		return feedRequest{}
	}
}

func nextUpdate(t *testing.T, s marketdata.Stream) marketdata.Update {
	t.Helper()
	select {
	case u, ok := <-s.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return marketdata.Update{}
	}
}

func TestFeed_DialAuthorizes(t *testing.T) {
	sock := newFakeDataSocket(t)
	feed := NewFeed(sock.url(), "APP-100", infra.WSOptions{})

	s, err := feed.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "APP-100:tok", <-sock.auth)
}

func TestFeed_DialWithoutToken(t *testing.T) {
	feed := NewFeed("ws://127.0.0.1:1", "APP-100", infra.WSOptions{})
	_, err := feed.Dial(context.Background(), "")
	assert.Error(t, err)
}

func TestFeed_SubscribeAndDecode(t *testing.T) {
	sock := newFakeDataSocket(t)
	feed := NewFeed(sock.url(), "APP-100", infra.WSOptions{})
	s, err := feed.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Subscribe([]marketdata.Pair{{Symbol: "TCS", Exchange: "NSE"}, {Symbol: "NIFTY 50", Exchange: "NSE"}}))
	req := nextRequest(t, sock)
	assert.Equal(t, "subscribe", req.Type)
	assert.Equal(t, []string{"NSE:TCS-EQ", "NSE:NIFTY50-INDEX"}, req.Symbols)

	quote, _ := json.Marshal(feedMessage{
		Type: "sf", Symbol: "NSE:TCS-EQ", LTP: 3521.4, Open: 3500, High: 3530, Low: 3490,
		Close: 3480, Volume: 120034, Bid: 3521.3, Ask: 3521.5, FeedTS: 1736742912,
	})
	sock.push <- `{"type":"ack","message":"subscribed"}`
	sock.push <- string(quote)
	sock.push <- `{"type":"if","symbol":"NSE:NIFTY50-INDEX","ltp":23456.7}`

	u := nextUpdate(t, s)
	assert.Equal(t, "TCS", u.Symbol)
	assert.Equal(t, "NSE", u.Exchange)
	assert.Equal(t, quant.ToPriceMicros(3521.4), u.LTP)
	assert.Equal(t, quant.ToPriceMicros(3480), u.Close)
	assert.Equal(t, int64(120034), u.Volume)
	assert.Equal(t, int64(1736742912), u.Timestamp.Unix())

	idx := nextUpdate(t, s)
	assert.Equal(t, "NIFTY 50", idx.Symbol)
	assert.Equal(t, quant.ToPriceMicros(23456.7), idx.LTP)

	require.NoError(t, s.Unsubscribe([]marketdata.Pair{{Symbol: "TCS", Exchange: "NSE"}}))
	req = nextRequest(t, sock)
	assert.Equal(t, "unsubscribe", req.Type)
	assert.Equal(t, []string{"NSE:TCS-EQ"}, req.Symbols)
}

func TestFeed_RemoteCloseEndsStream(t *testing.T) {
	sock := newFakeDataSocket(t)
	feed := NewFeed(sock.url(), "APP-100", infra.WSOptions{})
	s, err := feed.Dial(context.Background(), "tok")
	require.NoError(t, err)
	defer s.Close()

	sock.push <- "" // server hangs up

	select {
	case _, ok := <-s.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates not closed after remote close")
	}
	assert.Error(t, s.Err())
}

func TestFeed_LocalCloseIsClean(t *testing.T) {
	sock := newFakeDataSocket(t)
	feed := NewFeed(sock.url(), "APP-100", infra.WSOptions{})
	s, err := feed.Dial(context.Background(), "tok")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.Updates():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, s.Err())
	assert.Error(t, s.Subscribe([]marketdata.Pair{{Symbol: "TCS", Exchange: "NSE"}}))
}
