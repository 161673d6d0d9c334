package souqly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreatePendingAssignsLocalID(t *testing.T) {
	tl := NewTimeline(OrderChronological)

	e := tl.CreatePending(Entity{AuthorID: "u1", Content: "hello"})

	assert.Contains(t, e.LocalID, "temp-")
	assert.Empty(t, e.ConfirmedID)
	assert.Equal(t, StatePending, e.State)
	assert.Equal(t, 1, tl.Len())
	assert.Equal(t, 1, tl.PendingCount())
}

func TestConfirmByResponseReplacesInPlace(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	tl.CreatePending(Entity{AuthorID: "u1", Content: "first"})
	pending := tl.CreatePending(Entity{AuthorID: "u1", Content: "second"})
	tl.CreatePending(Entity{AuthorID: "u1", Content: "third"})

	ok := tl.ConfirmByResponse(pending.LocalID, Entity{
		ConfirmedID: "m42", AuthorID: "u1", Content: "second", CreatedAt: now,
	})
	require.True(t, ok)

	entries := tl.Entries()
	require.Len(t, entries, 3)
	// Position preserved: the confirmed entity stays in the middle.
	assert.Equal(t, "m42", entries[1].ConfirmedID)
	assert.Equal(t, StateConfirmed, entries[1].State)
	assert.Empty(t, entries[1].LocalID)
	assert.Equal(t, 2, tl.PendingCount())
}

// Whichever confirmation path runs first wins; the other is a no-op. The
// final timeline must be identical either way.
func TestConfirmationOrderIndependence(t *testing.T) {
	now := time.Now()
	confirmed := Entity{ConfirmedID: "m99", AuthorID: "u1", Content: "hi there", CreatedAt: now}

	// Response first, push second.
	a := NewTimeline(OrderChronological, WithClock(fixedClock(now)))
	pa := a.CreatePending(Entity{AuthorID: "u1", Content: "hi there"})
	require.True(t, a.ConfirmByResponse(pa.LocalID, confirmed))
	assert.Equal(t, OutcomeDuplicate, a.ReconcilePush(confirmed))

	// Push first, response second.
	b := NewTimeline(OrderChronological, WithClock(fixedClock(now)))
	pb := b.CreatePending(Entity{AuthorID: "u1", Content: "hi there"})
	assert.Equal(t, OutcomeReplaced, b.ReconcilePush(confirmed))
	assert.False(t, b.ConfirmByResponse(pb.LocalID, confirmed))

	ea, eb := a.Entries(), b.Entries()
	require.Len(t, ea, 1)
	require.Len(t, eb, 1)
	assert.Equal(t, ea[0].ConfirmedID, eb[0].ConfirmedID)
	assert.Equal(t, ea[0].State, eb[0].State)
	assert.Zero(t, a.PendingCount())
	assert.Zero(t, b.PendingCount())
}

func TestDuplicatePushKeepsOneEntity(t *testing.T) {
	tl := NewTimeline(OrderChronological)
	confirmed := Entity{ConfirmedID: "m7", AuthorID: "u2", Content: "yo", CreatedAt: time.Now()}

	assert.Equal(t, OutcomeInserted, tl.ReconcilePush(confirmed))
	assert.Equal(t, OutcomeDuplicate, tl.ReconcilePush(confirmed))
	assert.Equal(t, OutcomeDuplicate, tl.ReconcilePush(confirmed))

	assert.Equal(t, 1, tl.Len())
}

func TestPushFromOtherAuthorInsertsDirectly(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	tl.CreatePending(Entity{AuthorID: "u1", Content: "same words"})

	// Same content, different author: no fingerprint match.
	outcome := tl.ReconcilePush(Entity{
		ConfirmedID: "m8", AuthorID: "u2", Content: "same words", CreatedAt: now,
	})
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, 2, tl.Len())
	assert.Equal(t, 1, tl.PendingCount())
}

func TestFingerprintToleranceWindow(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological,
		WithClock(fixedClock(now)), WithTolerance(10*time.Second))

	tl.CreatePending(Entity{AuthorID: "u1", Content: "ping"})

	// Outside the window: treated as a distinct entity.
	outcome := tl.ReconcilePush(Entity{
		ConfirmedID: "m1", AuthorID: "u1", Content: "ping",
		CreatedAt: now.Add(11 * time.Second),
	})
	assert.Equal(t, OutcomeInserted, outcome)

	// Inside the window: matches the remaining pending entity.
	tl2 := NewTimeline(OrderChronological,
		WithClock(fixedClock(now)), WithTolerance(10*time.Second))
	tl2.CreatePending(Entity{AuthorID: "u1", Content: "ping"})
	outcome = tl2.ReconcilePush(Entity{
		ConfirmedID: "m2", AuthorID: "u1", Content: "ping",
		CreatedAt: now.Add(9 * time.Second),
	})
	assert.Equal(t, OutcomeReplaced, outcome)
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	tl.CreatePending(Entity{AuthorID: "u1", Content: "hello   world"})

	outcome := tl.ReconcilePush(Entity{
		ConfirmedID: "m3", AuthorID: "u1", Content: "hello world", CreatedAt: now,
	})
	assert.Equal(t, OutcomeReplaced, outcome)
}

func TestExpirePendingRemovesOnlyMatch(t *testing.T) {
	tl := NewTimeline(OrderChronological)

	keep := tl.CreatePending(Entity{AuthorID: "u1", Content: "keep me"})
	expire := tl.CreatePending(Entity{
		AuthorID: "u1", Content: "lose me",
		Payload: map[string]any{"content": "lose me"},
	})

	failed, ok := tl.ExpirePending(expire.LocalID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, failed.State)
	// Original payload retained for retry.
	assert.Equal(t, "lose me", failed.Payload["content"])

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, keep.LocalID, entries[0].LocalID)

	_, ok = tl.ExpirePending(expire.LocalID)
	assert.False(t, ok)
}

func TestExpireAfterConfirmIsNoOp(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	p := tl.CreatePending(Entity{AuthorID: "u1", Content: "made it"})
	require.True(t, tl.ConfirmByResponse(p.LocalID, Entity{
		ConfirmedID: "m5", AuthorID: "u1", Content: "made it", CreatedAt: now,
	}))

	_, ok := tl.ExpirePending(p.LocalID)
	assert.False(t, ok)
	assert.Equal(t, 1, tl.Len())
}

func TestNewestFirstOrderPrepends(t *testing.T) {
	tl := NewTimeline(OrderNewestFirst)

	tl.ReconcilePush(Entity{ConfirmedID: "c1", AuthorID: "u2", Content: "old", CreatedAt: time.Now()})
	tl.ReconcilePush(Entity{ConfirmedID: "c2", AuthorID: "u2", Content: "new", CreatedAt: time.Now()})

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "c2", entries[0].ConfirmedID)
	assert.Equal(t, "c1", entries[1].ConfirmedID)
}

// Regression for the temp-1 / m99 race: the push event for the user's own
// send arrives before the HTTP response. The push must replace the pending
// entry in place and the late response must not duplicate it.
func TestOwnPushBeatsResponse(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	p := tl.CreatePending(Entity{AuthorID: "u1", Content: "race me"})

	outcome := tl.ReconcilePush(Entity{
		ConfirmedID: "m99", AuthorID: "u1", Content: "race me", CreatedAt: now.Add(time.Second),
	})
	assert.Equal(t, OutcomeReplaced, outcome)

	// Late HTTP response for the same send.
	assert.False(t, tl.ConfirmByResponse(p.LocalID, Entity{
		ConfirmedID: "m99", AuthorID: "u1", Content: "race me", CreatedAt: now.Add(time.Second),
	}))

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "m99", entries[0].ConfirmedID)
	assert.Equal(t, StateConfirmed, entries[0].State)
}

// The push can insert the confirmed id without matching the pending
// fingerprint (server rewrote the content). The response must then drop
// the stranded pending entry instead of creating a sibling.
func TestResponseDropsStrandedPending(t *testing.T) {
	now := time.Now()
	tl := NewTimeline(OrderChronological, WithClock(fixedClock(now)))

	p := tl.CreatePending(Entity{AuthorID: "u1", Content: "original text"})

	assert.Equal(t, OutcomeInserted, tl.ReconcilePush(Entity{
		ConfirmedID: "m10", AuthorID: "u1", Content: "[filtered]", CreatedAt: now,
	}))
	assert.Equal(t, 2, tl.Len())

	assert.True(t, tl.ConfirmByResponse(p.LocalID, Entity{
		ConfirmedID: "m10", AuthorID: "u1", Content: "[filtered]", CreatedAt: now,
	}))
	assert.Equal(t, 1, tl.Len())
	assert.Zero(t, tl.PendingCount())
}
