package souqly

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultStaleTypingExpiry clears a counterpart's typing flag when no
// refresh signal arrives for this long. The server emits only edge events,
// so a lost typing:stop would otherwise pin "typing…" forever.
const DefaultStaleTypingExpiry = 5 * time.Second

// PresenceState is the derived per-counterpart UI state.
type PresenceState struct {
	Online bool
	Typing bool
}

type presenceRecord struct {
	online       bool
	typing       bool
	lastTypingAt time.Time
	expire       *time.Timer
}

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker derives online/offline and typing/idle state per
// counterpart from discrete signal events. Presence is purely edge-driven;
// typing additionally carries a receiver-side expiry as insurance against
// a dropped stop edge.
type PresenceTracker struct {
	mu          sync.Mutex
	log         *log.Logger
	staleExpiry time.Duration // 0 disables receiver-side expiry
	records     map[string]*presenceRecord
}

// PresenceOption configures a PresenceTracker.
type PresenceOption func(*PresenceTracker)

// WithStaleTypingExpiry overrides the receiver-side typing expiry.
// A zero duration disables it, trusting senders to always emit the stop edge.
func WithStaleTypingExpiry(d time.Duration) PresenceOption {
	return func(t *PresenceTracker) { t.staleExpiry = d }
}

// WithPresenceLogger routes diagnostics to the given logger.
func WithPresenceLogger(l *log.Logger) PresenceOption {
	return func(t *PresenceTracker) { t.log = l }
}

// NewPresenceTracker creates a tracker with the default stale-typing expiry.
func NewPresenceTracker(opts ...PresenceOption) *PresenceTracker {
	t := &PresenceTracker{
		log:         log.New(io.Discard, "", 0),
		staleExpiry: DefaultStaleTypingExpiry,
		records:     make(map[string]*presenceRecord),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnPresenceSignal applies a user:online / user:offline edge.
// Going offline also clears the typing flag.
func (t *PresenceTracker) OnPresenceSignal(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(userID)
	rec.online = online
	if !online {
		t.clearTypingLocked(rec)
	}
}

// OnTypingSignal applies a typing:indicator edge from a counterpart.
func (t *PresenceTracker) OnTypingSignal(userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(userID)
	if !typing {
		t.clearTypingLocked(rec)
		return
	}

	rec.typing = true
	rec.lastTypingAt = time.Now()
	if t.staleExpiry <= 0 {
		return
	}
	if rec.expire != nil {
		rec.expire.Stop()
	}
	rec.expire = time.AfterFunc(t.staleExpiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if r, ok := t.records[userID]; ok && r.typing {
			r.typing = false
			r.expire = nil
			t.log.Printf("typing state for %s expired without stop signal", userID)
		}
	})
}

// State returns the derived state for a counterpart. Unknown users read as
// offline and idle.
func (t *PresenceTracker) State(userID string) PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		return PresenceState{}
	}
	return PresenceState{Online: rec.online, Typing: rec.typing}
}

// Attach subscribes the tracker to a dispatcher's presence and typing
// events. The returned function detaches it; calling it twice is a no-op.
func (t *PresenceTracker) Attach(d *Dispatcher) (detach func()) {
	unsubs := []func(){
		d.Subscribe(EventUserOnline, nil, func(ev Event) {
			t.OnPresenceSignal(ev.Payload.(PresencePayload).UserID, true)
		}),
		d.Subscribe(EventUserOffline, nil, func(ev Event) {
			t.OnPresenceSignal(ev.Payload.(PresencePayload).UserID, false)
		}),
		d.Subscribe(EventTypingIndicator, nil, func(ev Event) {
			p := ev.Payload.(TypingIndicatorPayload)
			t.OnTypingSignal(p.UserID, p.IsTyping)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (t *PresenceTracker) record(userID string) *presenceRecord {
	rec, ok := t.records[userID]
	if !ok {
		rec = &presenceRecord{}
		t.records[userID] = rec
	}
	return rec
}

func (t *PresenceTracker) clearTypingLocked(rec *presenceRecord) {
	rec.typing = false
	if rec.expire != nil {
		rec.expire.Stop()
		rec.expire = nil
	}
}

// ============================================================================
// Local typing
// ============================================================================

// TypingSender emits typing:indicator commands for the local user as they
// type in a room, with the standard 2-second idle debounce: start on the
// empty→non-empty transition, refresh on each keystroke, stop on idle or
// when the input empties.
type TypingSender struct {
	deb *Debounced
}

// NewTypingSender creates a typing sender for one room. idle <= 0 uses
// DefaultTypingIdle. Send failures are ignored: a missed indicator is
// cosmetic and the next edge corrects it.
func NewTypingSender(sender CommandSender, room Room, idle time.Duration) *TypingSender {
	emit := func(isTyping bool) {
		_ = sender.SendCommand(context.Background(), &Command{
			Type: CmdTypingIndicator,
			Payload: map[string]any{
				"room":     room.String(),
				"isTyping": isTyping,
			},
		})
	}
	return &TypingSender{
		deb: NewDebounced(idle, func() { emit(true) }, func() { emit(false) }),
	}
}

// Input reports the current input contents after a keystroke.
func (ts *TypingSender) Input(text string) {
	if text == "" {
		ts.deb.Clear()
		return
	}
	ts.deb.Signal()
}

// Close stops the debouncer, emitting the stop edge if a burst was active
// so the counterpart does not see a stuck indicator.
func (ts *TypingSender) Close() {
	ts.deb.Clear()
}
