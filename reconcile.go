package souqly

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Entities
// ============================================================================

// EntityState tracks an entity's confirmation lifecycle.
type EntityState string

const (
	StatePending   EntityState = "pending"
	StateConfirmed EntityState = "confirmed"
	StateFailed    EntityState = "failed"
)

// Entity is any domain object subject to real-time sync: a message,
// comment, review, order status update or application event. A pending
// entity carries only LocalID; a confirmed one carries ConfirmedID.
type Entity struct {
	ConfirmedID string
	LocalID     string
	AuthorID    string
	Content     string
	CreatedAt   time.Time
	State       EntityState
	// Payload keeps the original domain fields so a failed send can be
	// retried with the exact data the user produced.
	Payload map[string]any
}

// ListOrder is the display-order convention of a timeline.
type ListOrder int

const (
	// OrderChronological appends new entries at the end (chat style).
	OrderChronological ListOrder = iota
	// OrderNewestFirst prepends new entries at the head (feed style).
	OrderNewestFirst
)

// ReconcileOutcome reports what ReconcilePush did with a confirmed entity.
type ReconcileOutcome int

const (
	// OutcomeDuplicate means the confirmed id was already present.
	OutcomeDuplicate ReconcileOutcome = iota
	// OutcomeReplaced means a pending entity matched by fingerprint and was
	// confirmed in place.
	OutcomeReplaced
	// OutcomeInserted means the entity was new and inserted by the list's
	// ordering rule.
	OutcomeInserted
)

// DefaultFingerprintTolerance is the coarse time window inside which a
// pending entity's local timestamp may differ from the server timestamp of
// its confirmation and still count as the same entity.
const DefaultFingerprintTolerance = 10 * time.Second

// ============================================================================
// Timeline
// ============================================================================

// fingerprint indexes pending entities by author and normalized content.
// Time proximity is checked against the candidates, not baked into the key,
// so a confirmation landing near a window edge still matches.
type fingerprint struct {
	authorID    string
	contentHash uint64
}

// Timeline is an ordered list of entities with O(1) reconciliation lookups.
// Entities live in stable arena slots; display order is a separate sequence
// of slot ids, so replacing a pending entity with its confirmation keeps
// its position without shifting neighbors.
//
// Both confirmation paths (the HTTP response and the push event) converge
// here: whichever arrives first wins, the second is a no-op. That makes the
// final state independent of the response/push race.
type Timeline struct {
	mu        sync.Mutex
	order     ListOrder
	tolerance time.Duration
	now       func() time.Time

	slots []*Entity
	seq   []int // display order of slot ids
	free  []int

	byConfirmed map[string]int
	byLocal     map[string]int
	byPrint     map[fingerprint][]int // pending slots only
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithTolerance overrides the fingerprint time window.
func WithTolerance(d time.Duration) TimelineOption {
	return func(t *Timeline) { t.tolerance = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *Timeline) { t.now = now }
}

// NewTimeline creates a timeline with the given display order.
func NewTimeline(order ListOrder, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		order:       order,
		tolerance:   DefaultFingerprintTolerance,
		now:         time.Now,
		byConfirmed: make(map[string]int),
		byLocal:     make(map[string]int),
		byPrint:     make(map[fingerprint][]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreatePending inserts a locally-created entity for immediate display.
// It assigns a LocalID, sets State to pending, and places the entity per
// the timeline's ordering rule. The returned copy is what the caller shows.
func (t *Timeline) CreatePending(e Entity) Entity {
	e.LocalID = "temp-" + uuid.NewString()
	e.ConfirmedID = ""
	e.State = StatePending
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.alloc(&e)
	t.insert(slot)
	t.byLocal[e.LocalID] = slot
	fp := t.fingerprintOf(&e)
	t.byPrint[fp] = append(t.byPrint[fp], slot)
	return e
}

// ConfirmByResponse replaces the pending entity matching localID with the
// server-confirmed entity. If no such pending entity exists (a push event
// already reconciled it), the duplicate confirmation is discarded.
func (t *Timeline) ConfirmByResponse(localID string, confirmed Entity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.byLocal[localID]
	if !ok {
		return false
	}

	// The push may have already inserted this confirmed id without matching
	// the pending fingerprint (e.g. the content was edited server-side).
	// Keep the pushed copy and drop the stranded pending entry.
	if confirmed.ConfirmedID != "" {
		if _, exists := t.byConfirmed[confirmed.ConfirmedID]; exists {
			t.drop(slot)
			return true
		}
	}

	t.confirmSlot(slot, confirmed)
	return true
}

// ReconcilePush applies a confirmed entity arriving over the push channel,
// which may race ahead of the HTTP response for the same user action.
func (t *Timeline) ReconcilePush(confirmed Entity) ReconcileOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if confirmed.ConfirmedID != "" {
		if _, exists := t.byConfirmed[confirmed.ConfirmedID]; exists {
			return OutcomeDuplicate
		}
	}

	if slot, ok := t.matchPending(&confirmed); ok {
		t.confirmSlot(slot, confirmed)
		return OutcomeReplaced
	}

	// Not ours: another participant's entity, inserted by ordering rule.
	confirmed.State = StateConfirmed
	confirmed.LocalID = ""
	s := t.alloc(&confirmed)
	t.insert(s)
	if confirmed.ConfirmedID != "" {
		t.byConfirmed[confirmed.ConfirmedID] = s
	}
	return OutcomeInserted
}

// ExpirePending transitions the entity matching localID to failed and
// removes it from the visible list. The failed entity is returned so the
// caller can surface the error and offer a retry with the original payload.
func (t *Timeline) ExpirePending(localID string) (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.byLocal[localID]
	if !ok {
		return Entity{}, false
	}
	failed := *t.slots[slot]
	failed.State = StateFailed
	t.drop(slot)
	return failed, true
}

// Entries returns the visible entities in display order.
func (t *Timeline) Entries() []Entity {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entity, 0, len(t.seq))
	for _, slot := range t.seq {
		out = append(out, *t.slots[slot])
	}
	return out
}

// Len returns the number of visible entities.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seq)
}

// PendingCount returns the number of unconfirmed entities.
func (t *Timeline) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byLocal)
}

// ============================================================================
// Internals
// ============================================================================

func (t *Timeline) alloc(e *Entity) int {
	cp := *e
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[slot] = &cp
		return slot
	}
	t.slots = append(t.slots, &cp)
	return len(t.slots) - 1
}

func (t *Timeline) insert(slot int) {
	if t.order == OrderNewestFirst {
		t.seq = append([]int{slot}, t.seq...)
		return
	}
	t.seq = append(t.seq, slot)
}

// confirmSlot replaces a pending slot's contents in place, keeping its
// display position, and moves it from the pending to the confirmed indexes.
func (t *Timeline) confirmSlot(slot int, confirmed Entity) {
	old := t.slots[slot]
	t.unindexPending(slot, old)

	confirmed.State = StateConfirmed
	confirmed.LocalID = ""
	t.slots[slot] = &confirmed
	if confirmed.ConfirmedID != "" {
		t.byConfirmed[confirmed.ConfirmedID] = slot
	}
}

// matchPending scans the fingerprint bucket for a pending entity by the
// same author with the same normalized content whose local timestamp is
// within the tolerance window of the server timestamp.
func (t *Timeline) matchPending(confirmed *Entity) (int, bool) {
	fp := t.fingerprintOf(confirmed)
	for _, slot := range t.byPrint[fp] {
		pending := t.slots[slot]
		if absDuration(pending.CreatedAt.Sub(confirmed.CreatedAt)) < t.tolerance {
			return slot, true
		}
	}
	return 0, false
}

func (t *Timeline) drop(slot int) {
	e := t.slots[slot]
	t.unindexPending(slot, e)
	if e.ConfirmedID != "" {
		delete(t.byConfirmed, e.ConfirmedID)
	}
	for i, s := range t.seq {
		if s == slot {
			t.seq = append(t.seq[:i], t.seq[i+1:]...)
			break
		}
	}
	t.slots[slot] = nil
	t.free = append(t.free, slot)
}

func (t *Timeline) unindexPending(slot int, e *Entity) {
	if e.LocalID == "" {
		return
	}
	delete(t.byLocal, e.LocalID)
	fp := t.fingerprintOf(e)
	bucket := t.byPrint[fp]
	for i, s := range bucket {
		if s == slot {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.byPrint, fp)
	} else {
		t.byPrint[fp] = bucket
	}
}

func (t *Timeline) fingerprintOf(e *Entity) fingerprint {
	h := fnv.New64a()
	h.Write([]byte(normalizeContent(e.Content)))
	return fingerprint{authorID: e.AuthorID, contentHash: h.Sum64()}
}

// normalizeContent collapses whitespace so trivial formatting differences
// between the local copy and the server echo do not break the match.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
