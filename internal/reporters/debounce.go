package reporters

import (
	"sync"
	"time"
)

type debounceState int

const (
	debounceIdle debounceState = iota
	debouncePending
	debounceDisposed
)

// debouncer coalesces rapid triggers into a single flush after a quiet
// window. A window of zero flushes immediately on every trigger. The state
// machine (idle | pending | disposed) makes flush-on-dispose and idempotent
// double dispose structural rather than incidental.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	state  debounceState
	timer  *time.Timer
	flush  func()
}

func newDebouncer(window time.Duration, flush func()) *debouncer {
	return &debouncer{window: window, flush: flush}
}

// Trigger requests a flush. With a positive window, triggers arriving while
// one is already pending collapse into the scheduled flush.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	if d.state == debounceDisposed {
		d.mu.Unlock()
		return
	}
	if d.window <= 0 {
		d.mu.Unlock()
		d.flush()
		return
	}
	if d.state == debouncePending {
		d.mu.Unlock()
		return
	}
	d.state = debouncePending
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.state != debouncePending {
			d.mu.Unlock()
			return
		}
		d.state = debounceIdle
		d.timer = nil
		d.mu.Unlock()
		d.flush()
	})
	d.mu.Unlock()
}

// Cancel drops any pending flush without firing it.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == debouncePending && d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.state = debounceIdle
	}
}

// Dispose cancels the timer, flushes a pending payload exactly once, and
// makes every later Trigger/Dispose a no-op. No callback fires after Dispose
// returns.
func (d *debouncer) Dispose() {
	d.mu.Lock()
	if d.state == debounceDisposed {
		d.mu.Unlock()
		return
	}
	pending := d.state == debouncePending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.state = debounceDisposed
	d.mu.Unlock()

	if pending {
		d.flush()
	}
}
