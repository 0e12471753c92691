package retrieval

import (
	"sync"
	"time"
)

// debouncer is a cancel-and-reschedule single-flight task. A call landing
// within window of the previous resolved call supersedes any still-pending
// call (its timer is stopped and rescheduled); every superseded waiter
// receives the final result once the window of quiescence elapses. A call
// arriving outside the window runs immediately.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration

	timer        *time.Timer
	waiters      []chan Result
	pendingReq   Request
	lastResolved time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// run schedules compute for req and returns a channel delivering exactly
// one Result.
func (d *debouncer) run(req Request, compute func(Request) Result) <-chan Result {
	ch := make(chan Result, 1)

	d.mu.Lock()
	now := time.Now()
	quiescent := d.timer == nil &&
		(d.lastResolved.IsZero() || now.Sub(d.lastResolved) >= d.window)
	if quiescent {
		d.mu.Unlock()
		res := compute(req)
		d.mu.Lock()
		d.lastResolved = time.Now()
		d.mu.Unlock()
		ch <- res
		return ch
	}

	// Supersede the pending call: newest request wins, all waiters share
	// the final result.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingReq = req
	d.waiters = append(d.waiters, ch)
	d.timer = time.AfterFunc(d.window, func() { d.fire(compute) })
	d.mu.Unlock()
	return ch
}

func (d *debouncer) fire(compute func(Request) Result) {
	d.mu.Lock()
	waiters := d.waiters
	req := d.pendingReq
	d.waiters = nil
	d.timer = nil
	d.mu.Unlock()

	res := compute(req)

	d.mu.Lock()
	d.lastResolved = time.Now()
	d.mu.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
}

// cancel stops any pending timer and resolves outstanding waiters with an
// empty result. Used on shutdown.
func (d *debouncer) cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, ch := range waiters {
		ch <- Result{}
	}
}
