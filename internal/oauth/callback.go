package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCallbackTimeout bounds how long Wait blocks for the browser redirect.
const DefaultCallbackTimeout = 120 * time.Second

var ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")

const successPage = `<html><body><h3>Login complete</h3><p>You can close this window and return to the app.</p></body></html>`

type callbackResult struct {
	code string
	err  error
}

// CallbackServer receives the broker redirect on the loopback interface.
type CallbackServer struct {
	addr    string
	path    string
	state   string
	timeout time.Duration

	engine *gin.Engine
	srv    *http.Server
	ln     net.Listener

	result chan callbackResult
	once   sync.Once
}

// NewCallbackServer listens on the host and path of redirectURI.
// A zero timeout means DefaultCallbackTimeout.
func NewCallbackServer(redirectURI, state string, timeout time.Duration) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redirect uri has no host: %q", redirectURI)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	c := &CallbackServer{
		addr:    u.Host,
		path:    path,
		state:   state,
		timeout: timeout,
		engine:  gin.New(),
		result:  make(chan callbackResult, 1),
	}
	c.engine.Use(gin.Recovery())
	c.engine.GET(path, c.handleCallback)
	return c, nil
}

// Handler exposes the router.
func (c *CallbackServer) Handler() http.Handler { return c.engine }

// Start binds the listener and serves in the background.
func (c *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}
	c.ln = ln
	c.srv = &http.Server{Handler: c.engine, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Callback server failed", slog.Any("error", err))
			c.deliver(callbackResult{err: err})
		}
	}()
	slog.Info("Waiting for broker login redirect", slog.String("addr", ln.Addr().String()), slog.String("path", c.path))
	return nil
}

// Addr returns the bound address once started.
func (c *CallbackServer) Addr() string {
	if c.ln == nil {
		return c.addr
	}
	return c.ln.Addr().String()
}

// Wait blocks until a code arrives, the redirect reports an error,
// ctx is done or the timeout elapses.
func (c *CallbackServer) Wait(ctx context.Context) (string, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-c.result:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrCallbackTimeout
	}
}

// Shutdown stops the listener.
func (c *CallbackServer) Shutdown(ctx context.Context) error {
	if c.srv == nil {
		return nil
	}
	return c.srv.Shutdown(ctx)
}

func (c *CallbackServer) deliver(r callbackResult) {
	c.once.Do(func() { c.result <- r })
}

func (c *CallbackServer) handleCallback(ctx *gin.Context) {
	if c.state != "" && ctx.Query("state") != c.state {
		slog.Warn("Callback with unexpected state rejected")
		ctx.String(http.StatusBadRequest, "state mismatch")
		return
	}

	if e := ctx.Query("error"); e != "" {
		desc := ctx.Query("error_description")
		c.deliver(callbackResult{err: fmt.Errorf("authorization denied: %s %s", e, desc)})
		ctx.String(http.StatusBadRequest, "authorization failed: %s", e)
		return
	}

	code := ctx.Query("auth_code")
	if code == "" {
		code = ctx.Query("code")
	}
	if code == "" {
		ctx.String(http.StatusBadRequest, "missing authorization code")
		return
	}

	c.deliver(callbackResult{code: code})
	ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(successPage))
}
