package marketdata

import (
	"log/slog"
	"sync"
)

// dispatcher runs queued deliveries one at a time in FIFO order.
// The queue is unbounded so producers holding the table lock never block.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	if !d.closed {
		d.items = append(d.items, fn)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.items) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.items) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.items[0]
		d.items[0] = nil
		d.items = d.items[1:]
		d.mu.Unlock()

		d.safeCall(fn)
	}
}

func (d *dispatcher) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Market data listener panic recovered", slog.Any("panic", r))
		}
	}()
	fn()
}

// close drains what is queued, then stops.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
