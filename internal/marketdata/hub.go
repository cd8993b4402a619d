package marketdata

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/infra"
	"fyers_desk/pkg/quant"
)

// errSuperseded means a connect attempt lost to Disconnect or a newer Connect.
var errSuperseded = errors.New("connect attempt superseded")

// Config holds the timing parameters. All values are required.
type Config struct {
	StaleThreshold    time.Duration
	StalePollInterval time.Duration
	Backoff           infra.Backoff
}

func (c Config) validate() error {
	switch {
	case c.StaleThreshold <= 0:
		return errors.New("stale threshold must be positive")
	case c.StalePollInterval <= 0:
		return errors.New("stale poll interval must be positive")
	case c.Backoff.Base <= 0 || c.Backoff.Max < c.Backoff.Base:
		return errors.New("backoff needs base > 0 and max >= base")
	case c.Backoff.Jitter < 0:
		return errors.New("backoff jitter must not be negative")
	}
	return nil
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

type listenerRef struct {
	id uint64
	fn Listener
}

type entry struct {
	listeners  []listenerRef
	snap       QuoteSnapshot
	lastUpdate time.Time
}

// Hub keeps one logical stream connection and fans updates out to listeners
// keyed by pair. Subscriptions survive drops and Disconnect; every connect
// re-sends them before the hub reports Connected.
type Hub struct {
	tokens    TokenSource
	transport Transport
	cfg       Config
	metrics   *Metrics

	mu       sync.Mutex
	state    ConnState
	stream   Stream
	epoch    uint64
	cancel   context.CancelFunc // ends the reconnect loop and staleness monitor of the current epoch
	entries  map[Pair]*entry
	handles  map[uint64]Pair
	nextID   uint64
	statusFn []func(StatusEvent)
	closed   bool

	wg       sync.WaitGroup
	dispatch *dispatcher
}

// NewHub creates a disconnected hub.
func NewHub(tokens TokenSource, transport Transport, cfg Config, opts ...Option) (*Hub, error) {
	if tokens == nil || transport == nil {
		return nil, errors.New("marketdata: token source and transport are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("marketdata: %w", err)
	}
	h := &Hub{
		tokens:    tokens,
		transport: transport,
		cfg:       cfg,
		entries:   make(map[Pair]*entry),
		handles:   make(map[uint64]Pair),
		dispatch:  newDispatcher(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h, nil
}

// OnStatus registers a connection status listener.
// It runs on the dispatch goroutine, ordered with quote events.
func (h *Hub) OnStatus(fn func(StatusEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusFn = append(h.statusFn, fn)
}

// Status returns the connection state.
func (h *Hub) Status() ConnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Connect establishes the stream with the current access token and
// re-subscribes every registered pair. It is a no-op while connected or
// reconnecting and fails with domain.ErrConnectInProgress while another
// Connect is running.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	switch h.state {
	case StateConnected, StateReconnecting:
		h.mu.Unlock()
		return nil
	case StateConnecting:
		h.mu.Unlock()
		return domain.ErrConnectInProgress
	}
	if _, ok := h.tokens.AccessToken(); !ok {
		h.mu.Unlock()
		return &domain.ConnectionError{Op: "connect", Err: domain.ErrNoAccessToken}
	}

	h.epoch++
	epoch := h.epoch
	life, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.setStateLocked(StateConnecting, 0, nil)
	h.mu.Unlock()

	dialCtx, stopDial := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(life, stopDial)
	err := h.establish(dialCtx, epoch, life, true)
	stopAfter()
	stopDial()

	if err != nil {
		h.mu.Lock()
		if h.epoch == epoch {
			h.cancel = nil
			h.setStateLocked(StateDisconnected, 0, err)
		}
		h.mu.Unlock()
		cancel()
		return &domain.ConnectionError{Op: "connect", Err: err}
	}
	return nil
}

// establish dials, then under the table lock re-subscribes every pair and
// commits the stream, unless epoch has moved on. The first establish of an
// epoch also starts its staleness monitor.
func (h *Hub) establish(ctx context.Context, epoch uint64, life context.Context, first bool) error {
	token, ok := h.tokens.AccessToken()
	if !ok {
		return domain.ErrNoAccessToken
	}

	stream, err := h.transport.Dial(ctx, token)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed || h.epoch != epoch {
		h.mu.Unlock()
		stream.Close()
		return errSuperseded
	}
	if pairs := h.pairsLocked(); len(pairs) > 0 {
		if err := stream.Subscribe(pairs); err != nil {
			h.mu.Unlock()
			stream.Close()
			return fmt.Errorf("resubscribe %d pairs: %w", len(pairs), err)
		}
	}
	h.stream = stream
	h.setStateLocked(StateConnected, 0, nil)
	h.wg.Add(1)
	go h.readLoop(stream, epoch, life)
	if first {
		h.wg.Add(1)
		go h.monitorStaleness(life)
	}
	h.mu.Unlock()

	slog.Info("Market data stream connected", slog.Int("pairs", len(h.Pairs())))
	return nil
}

func (h *Hub) readLoop(stream Stream, epoch uint64, life context.Context) {
	defer h.wg.Done()
	for u := range stream.Updates() {
		h.applyUpdate(stream, u)
	}
	h.onDrop(stream, epoch, life)
}

func (h *Hub) onDrop(stream Stream, epoch uint64, life context.Context) {
	cause := stream.Err()
	if cause == nil {
		cause = errors.New("stream closed")
	}

	h.mu.Lock()
	if h.epoch != epoch || h.stream != stream {
		h.mu.Unlock()
		return
	}
	h.stream = nil
	h.setStateLocked(StateReconnecting, 0, cause)
	h.wg.Add(1)
	go h.reconnectLoop(epoch, life)
	h.mu.Unlock()

	slog.Warn("Market data stream dropped", slog.Any("error", cause))
	stream.Close()
}

func (h *Hub) reconnectLoop(epoch uint64, life context.Context) {
	defer h.wg.Done()

	for attempt := 0; ; attempt++ {
		delay := h.cfg.Backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		h.mu.Lock()
		if h.epoch != epoch {
			h.mu.Unlock()
			return
		}
		h.setStateLocked(StateReconnecting, attempt+1, nil)
		h.mu.Unlock()
		h.metrics.Reconnects.Inc()

		err := h.establish(life, epoch, life, false)
		if err == nil {
			slog.Info("Market data stream reconnected", slog.Int("attempt", attempt+1))
			return
		}
		if errors.Is(err, errSuperseded) || life.Err() != nil {
			return
		}
		slog.Warn("Market data reconnect failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("next_delay", h.cfg.Backoff.Delay(attempt+1)),
			slog.Any("error", err))
	}
}

// Disconnect tears down the stream and cancels any pending reconnect.
// Registered subscriptions are kept for the next Connect.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	if h.state == StateDisconnected {
		h.mu.Unlock()
		return
	}
	h.epoch++
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	stream := h.stream
	h.stream = nil
	h.setStateLocked(StateDisconnected, 0, nil)
	h.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	slog.Info("Market data stream disconnected")
}

// Close disconnects, waits for background work and stops delivery.
// Marking the hub closed first makes a racing Connect fail before it commits.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.Disconnect()
	h.wg.Wait()
	h.dispatch.close()
}

// Subscribe registers listener for (symbol, exchange). Only the first
// listener of a pair causes a network-level subscribe. A listener joining a
// pair that already has data first receives the current snapshot.
func (h *Hub) Subscribe(symbol, exchange string, listener Listener) (SubscriptionHandle, error) {
	pair, err := NewPair(symbol, exchange)
	if err != nil {
		return SubscriptionHandle{}, err
	}
	if listener == nil {
		return SubscriptionHandle{}, errors.New("listener is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return SubscriptionHandle{}, ErrHubClosed
	}

	e, ok := h.entries[pair]
	if !ok {
		e = &entry{snap: QuoteSnapshot{Pair: pair}, lastUpdate: time.Now()}
		h.entries[pair] = e
		h.metrics.ActivePairs.Inc()
		if h.state == StateConnected && h.stream != nil {
			// a failing send means the stream is dying; the reconnect resubscribes
			if err := h.stream.Subscribe([]Pair{pair}); err != nil {
				slog.Warn("Stream subscribe failed", slog.String("pair", pair.String()), slog.Any("error", err))
			}
		}
	}

	h.nextID++
	id := h.nextID
	e.listeners = append(e.listeners, listenerRef{id: id, fn: listener})
	h.handles[id] = pair

	if e.snap.HasData() || e.snap.Stale {
		kind := EventUpdate
		if e.snap.Stale {
			kind = EventStale
		}
		h.enqueueLocked(pair, QuoteEvent{Kind: kind, Snapshot: e.snap}, id)
	}
	return SubscriptionHandle{id: id, pair: pair}, nil
}

// Unsubscribe removes exactly the listener behind handle. Removing the last
// listener of a pair sends a network-level unsubscribe and drops the entry.
func (h *Hub) Unsubscribe(handle SubscriptionHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	pair, ok := h.handles[handle.id]
	if !ok {
		return domain.ErrUnknownSubscription
	}
	delete(h.handles, handle.id)

	e := h.entries[pair]
	e.listeners = slices.DeleteFunc(e.listeners, func(l listenerRef) bool { return l.id == handle.id })
	if len(e.listeners) > 0 {
		return nil
	}

	delete(h.entries, pair)
	h.metrics.ActivePairs.Dec()
	if h.state == StateConnected && h.stream != nil {
		if err := h.stream.Unsubscribe([]Pair{pair}); err != nil {
			slog.Warn("Stream unsubscribe failed", slog.String("pair", pair.String()), slog.Any("error", err))
		}
	}
	return nil
}

// Snapshot returns the latest quote of a subscribed pair.
func (h *Hub) Snapshot(symbol, exchange string) (QuoteSnapshot, bool) {
	pair, err := NewPair(symbol, exchange)
	if err != nil {
		return QuoteSnapshot{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[pair]
	if !ok {
		return QuoteSnapshot{}, false
	}
	return e.snap, true
}

// Pairs lists subscribed pairs in a stable order.
func (h *Hub) Pairs() []Pair {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pairsLocked()
}

func (h *Hub) pairsLocked() []Pair {
	out := make([]Pair, 0, len(h.entries))
	for p := range h.entries {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Pair) int {
		if c := cmp.Compare(a.Exchange, b.Exchange); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})
	return out
}

func (h *Hub) applyUpdate(stream Stream, u Update) {
	pair, err := NewPair(u.Symbol, u.Exchange)
	if err != nil {
		slog.Debug("Dropping update without instrument", slog.Any("error", err))
		return
	}
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream != stream {
		return
	}
	e, ok := h.entries[pair]
	if !ok {
		return
	}
	h.applyLocked(pair, e, u, now)
}

// Seed fills subscribed pairs that have not received any data yet from
// polled quotes, e.g. a REST snapshot taken before the first stream tick.
// Pairs that already have data keep it. It returns the number of pairs filled.
func (h *Hub) Seed(quotes []Update) int {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, u := range quotes {
		pair, err := NewPair(u.Symbol, u.Exchange)
		if err != nil {
			continue
		}
		e, ok := h.entries[pair]
		if !ok || e.snap.HasData() {
			continue
		}
		h.applyLocked(pair, e, u, now)
		n++
	}
	return n
}

func (h *Hub) applyLocked(pair Pair, e *entry, u Update, now time.Time) {
	s := &e.snap
	s.LTP, s.Open, s.High, s.Low, s.PrevClose = u.LTP, u.Open, u.High, u.Low, u.Close
	s.Volume, s.Bid, s.Ask = u.Volume, u.Bid, u.Ask
	s.ExchangeTime = u.Timestamp
	s.UpdatedAt = now
	s.Stale = false
	if u.Close > 0 {
		s.Change = (u.LTP - u.Close).Decimal()
		s.ChangePercent = quant.ChangePercent(u.LTP, u.Close)
	}
	e.lastUpdate = now

	h.metrics.Updates.Inc()
	h.enqueueLocked(pair, QuoteEvent{Kind: EventUpdate, Snapshot: *s}, 0)
}

func (h *Hub) monitorStaleness(life context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.StalePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-life.Done():
			return
		case <-ticker.C:
			h.checkStale(time.Now())
		}
	}
}

// checkStale flags every entry whose last update is older than the threshold.
func (h *Hub) checkStale(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for pair, e := range h.entries {
		if e.snap.Stale || now.Sub(e.lastUpdate) <= h.cfg.StaleThreshold {
			continue
		}
		e.snap.Stale = true
		h.metrics.StaleTransitions.Inc()
		slog.Debug("Quote stale", slog.String("pair", pair.String()), slog.Duration("age", now.Sub(e.lastUpdate)))
		h.enqueueLocked(pair, QuoteEvent{Kind: EventStale, Snapshot: e.snap}, 0)
	}
}

// enqueueLocked queues ev for the pair's current listeners, or only target
// when non-zero. Recipients are fixed now; a listener removed before
// delivery is skipped and one added later never sees ev.
func (h *Hub) enqueueLocked(pair Pair, ev QuoteEvent, target uint64) {
	var ids []uint64
	if target != 0 {
		ids = []uint64{target}
	} else if e, ok := h.entries[pair]; ok {
		for _, l := range e.listeners {
			ids = append(ids, l.id)
		}
	}
	if len(ids) == 0 {
		return
	}

	h.dispatch.push(func() {
		h.mu.Lock()
		var fns []Listener
		if e, ok := h.entries[pair]; ok {
			for _, l := range e.listeners {
				if slices.Contains(ids, l.id) {
					fns = append(fns, l.fn)
				}
			}
		}
		h.mu.Unlock()

		for _, fn := range fns {
			h.dispatch.safeCall(func() { fn(ev) })
		}
	})
}

func (h *Hub) setStateLocked(state ConnState, attempt int, cause error) {
	h.state = state
	if state == StateConnected {
		h.metrics.Connected.Set(1)
	} else {
		h.metrics.Connected.Set(0)
	}

	ev := StatusEvent{State: state, Attempt: attempt, Err: cause, At: time.Now()}
	fns := slices.Clone(h.statusFn)
	if len(fns) == 0 {
		return
	}
	h.dispatch.push(func() {
		for _, fn := range fns {
			fn(ev)
		}
	})
}
