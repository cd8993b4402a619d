package marketdata

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"fyers_desk/internal/infra"
)

type staticToken string

func (s staticToken) AccessToken() (string, bool) { return string(s), s != "" }

type fakeStream struct {
	mu      sync.Mutex
	subs    [][]Pair
	unsubs  [][]Pair
	updates chan Update
	closed  bool
	err     error
	subErr  error
}

func newFakeStream() *fakeStream {
	return &fakeStream{updates: make(chan Update, 1024)}
}

func (s *fakeStream) Subscribe(pairs []Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return s.subErr
	}
	s.subs = append(s.subs, slices.Clone(pairs))
	return nil
}

func (s *fakeStream) Unsubscribe(pairs []Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, slices.Clone(pairs))
	return nil
}

func (s *fakeStream) Updates() <-chan Update { return s.updates }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
	return nil
}

func (s *fakeStream) send(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.updates <- u
	}
}

// drop simulates an unexpected remote disconnect.
func (s *fakeStream) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

func (s *fakeStream) subscribeCalls() [][]Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subs)
}

func (s *fakeStream) unsubscribeCalls() [][]Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.unsubs)
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
	failing bool
	gate    chan struct{} // when set, Dial blocks until it is closed
}

func (t *fakeTransport) Dial(ctx context.Context, token string) (Stream, error) {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failing {
		return nil, errors.New("dial refused")
	}
	s := newFakeStream()
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTransport) setFailing(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing = v
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) streamCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *fakeTransport) latest() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []QuoteEvent
}

func (r *recorder) listen(ev QuoteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []QuoteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) last() (QuoteEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return QuoteEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func testConfig() Config {
	return Config{
		StaleThreshold:    time.Hour,
		StalePollInterval: 10 * time.Millisecond,
		Backoff:           infra.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}
}

func newTestHub(t *testing.T, tokens TokenSource, cfg Config) (*Hub, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	h, err := NewHub(tokens, tr, cfg)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(h.Close)
	return h, tr
}
