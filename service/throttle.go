package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle runs at most one call per interval. A call arriving inside the
// window replaces any pending one and is run when the window closes, so the
// latest value is never lost.
type Throttle struct {
	interval time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	stopped bool
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Do runs fn now if the window is open, otherwise schedules it as the trailing call
func (t *Throttle) Do(fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	if t.pending == nil && t.limiter.Allow() {
		t.mu.Unlock()
		fn()
		return
	}

	t.pending = fn
	if t.timer == nil {
		delay := t.limiter.Reserve().Delay()
		t.timer = time.AfterFunc(delay, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttle) flush() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	stopped := t.stopped
	t.mu.Unlock()

	if fn != nil && !stopped {
		fn()
	}
}

// Cancel drops a pending trailing call without closing the throttle
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

// Stop drops any pending call; later calls to Do are ignored
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
