package souqly

import (
	"sync"
	"time"
)

// DefaultTypingIdle is the idle window after which a typing burst is
// considered finished.
const DefaultTypingIdle = 2 * time.Second

// Debounced turns a stream of discrete activity signals into clean
// start/stop edges: the first signal emits the start edge immediately,
// every further signal resets the idle timer, and the stop edge fires once
// the window elapses with no signal. Every typing-indicator instance in
// the app reuses this instead of scattering per-screen timers.
type Debounced struct {
	mu      sync.Mutex
	idle    time.Duration
	onStart func()
	onStop  func()
	active  bool
	timer   *time.Timer
}

// NewDebounced creates a debounced edge emitter. idle <= 0 falls back to
// DefaultTypingIdle. Either callback may be nil.
func NewDebounced(idle time.Duration, onStart, onStop func()) *Debounced {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &Debounced{idle: idle, onStart: onStart, onStop: onStop}
}

// Signal records activity. On the idle→active transition the start edge is
// emitted before returning; otherwise the idle timer is pushed out.
func (d *Debounced) Signal() {
	d.mu.Lock()
	wasActive := d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, d.expire)
	d.mu.Unlock()

	if !wasActive && d.onStart != nil {
		d.onStart()
	}
}

// Clear ends the burst immediately, bypassing the timer. Used when the
// input becomes empty. Emits the stop edge only if a burst was active.
func (d *Debounced) Clear() {
	d.mu.Lock()
	wasActive := d.active
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if wasActive && d.onStop != nil {
		d.onStop()
	}
}

// Cancel discards any active burst without emitting the stop edge. Used on
// teardown when the counterpart no longer cares.
func (d *Debounced) Cancel() {
	d.mu.Lock()
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}

// Active reports whether a burst is in progress.
func (d *Debounced) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debounced) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	if d.onStop != nil {
		d.onStop()
	}
}
