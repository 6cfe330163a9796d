// Package timer implements the per-question countdown of a round.
package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultInterval = time.Second

// Timer counts whole seconds down to zero. At most one tick goroutine is
// live at a time; Start supersedes any previous countdown.
type Timer struct {
	mu         sync.Mutex
	interval   time.Duration
	generation uint64
	remaining  int
	running    bool
	quit       chan struct{}

	active atomic.Int32
}

// New returns a timer ticking every interval (one second when zero).
func New(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Timer{interval: interval}
}

// Start begins a countdown of total seconds. onTick receives the remaining
// seconds after every decrement, onExpire fires once when zero is reached.
// Callbacks run on the timer goroutine without the timer lock held; a tick
// that was already past the generation check when Stop ran can still land,
// so owners keep their own sequence guard.
func (t *Timer) Start(total int, onTick func(remaining int), onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.generation++
	t.remaining = total
	t.running = true
	t.quit = make(chan struct{})

	if total <= 0 {
		t.running = false
		gen := t.generation
		t.active.Add(1)
		go func() {
			defer t.active.Add(-1)
			if t.current(gen) && onExpire != nil {
				onExpire()
			}
		}()
		return
	}

	t.active.Add(1)
	go t.run(t.generation, t.quit, onTick, onExpire)
}

// Stop cancels the countdown without firing onExpire. It does not wait for
// the goroutine to exit, so it is safe to call from inside a callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.generation++
}

func (t *Timer) stopLocked() {
	if t.quit != nil {
		close(t.quit)
		t.quit = nil
	}
	t.running = false
}

// Remaining reports the seconds left on the current countdown.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Active is the number of tick goroutines still alive.
func (t *Timer) Active() int {
	return int(t.active.Load())
}

func (t *Timer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation == gen
}

func (t *Timer) run(gen uint64, quit <-chan struct{}, onTick func(int), onExpire func()) {
	defer t.active.Add(-1)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			return
		}
		t.remaining--
		left := t.remaining
		expired := left <= 0
		if expired {
			t.remaining = 0
			t.running = false
			t.quit = nil
		}
		t.mu.Unlock()

		if onTick != nil {
			onTick(left)
		}
		if expired {
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}
