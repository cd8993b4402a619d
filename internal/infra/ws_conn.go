package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWSClosed is returned by writes after Close or a read failure.
var ErrWSClosed = errors.New("ws closed")

// WSOptions tunes a WSConn. Zero values get defaults.
type WSOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	Buffer           int
}

func (o WSOptions) withDefaults() WSOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	return o
}

// WSConn is a single websocket session: read pump, keepalive pings and
// serialized writes. It never reconnects; its owner decides what happens
// after Messages is closed.
type WSConn struct {
	id   string
	conn *websocket.Conn
	opts WSOptions

	writeMu sync.Mutex
	msgs    chan []byte
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// DialWS opens url and starts the read and ping loops.
func DialWS(ctx context.Context, id, url string, opts WSOptions) (*WSConn, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	header := opts.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("User-Agent", GetUserAgent())

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", id, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", id, err)
	}

	c := &WSConn{
		id:   id,
		conn: conn,
		opts: opts,
		msgs: make(chan []byte, opts.Buffer),
		done: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	slog.Info("WS Connected", "id", id)
	return c, nil
}

// Messages delivers inbound frames in order. It is closed when the
// connection ends for any reason.
func (c *WSConn) Messages() <-chan []byte { return c.msgs }

// Done is closed once the connection is shutting down.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended; nil after a local Close.
func (c *WSConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WSConn) readLoop() {
	defer c.wg.Done()
	defer close(c.msgs)

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("WS Read error", "id", c.id, "err", err)
				c.fail(err)
			}
			return
		}

		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WSConn) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS Ping error", "id", c.id, "err", err)
				c.fail(err)
				return
			}
		}
	}
}

// Write sends one frame.
func (c *WSConn) Write(msgType int, data []byte) error {
	select {
	case <-c.done:
		return ErrWSClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(msgType, data)
}

// WriteJSON marshals v and sends it as a text frame.
func (c *WSConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(websocket.TextMessage, data)
}

func (c *WSConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.shutdown()
}

func (c *WSConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Close ends the session and waits for the loops to exit.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown()
	c.wg.Wait()
	return nil
}
