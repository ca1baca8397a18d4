package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherClosed is returned when scheduling on a closed dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// HandlerFunc is invoked, at least once, when a scheduled check is due.
type HandlerFunc = func(ctx context.Context, sessionID string, fingerprint uint64)

// Dispatcher delivers delayed lifecycle checks.
type Dispatcher interface {
	Schedule(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error
	Listen(handler HandlerFunc)
}

// LocalDispatcher delivers checks from in-process timers. Pending checks
// do not survive a restart; use a durable dispatcher when that matters.
type LocalDispatcher struct {
	mu      sync.Mutex
	handler HandlerFunc
	timers  map[uint64]*time.Timer
	nextID  uint64
	closed  bool
	timeout time.Duration
}

// NewLocalDispatcher creates a timer based dispatcher. Each delivery runs
// with a context bounded by timeout.
func NewLocalDispatcher(timeout time.Duration) *LocalDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LocalDispatcher{timers: make(map[uint64]*time.Timer), timeout: timeout}
}

// Listen binds the delivery handler
func (d *LocalDispatcher) Listen(handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Schedule arms a timer firing after delay
func (d *LocalDispatcher) Schedule(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	id := d.nextID
	d.nextID++
	d.timers[id] = time.AfterFunc(delay, func() { d.fire(id, sessionID, fingerprint) })
	return nil
}

func (d *LocalDispatcher) fire(id uint64, sessionID string, fingerprint uint64) {
	d.mu.Lock()
	delete(d.timers, id)
	handler, closed := d.handler, d.closed
	d.mu.Unlock()
	if closed || handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	handler(ctx, sessionID, fingerprint)
}

// Pending reports how many timers are armed.
func (d *LocalDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close stops every armed timer.
func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	return nil
}
