package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/store"
)

func TestTimerTickCountsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c")
	tm := NewTimer(h.eng, code)

	assert.False(t, tm.Tick(h.ctx))
	assert.False(t, tm.Tick(h.ctx))
	assert.Equal(t, 28, h.timer(t))
	assert.Equal(t, 0, h.round(t))
}

func TestTimerExpiryForcesAdvanceAndResets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c")
	tm := NewTimer(h.eng, code)
	require.NoError(t, store.Set(h.ctx, h.store, store.TimerPath(code), 1))

	assert.False(t, tm.Tick(h.ctx))

	assert.Equal(t, 1, h.round(t))
	assert.Equal(t, 30, h.timer(t))
	assert.Equal(t, 1, h.events.count(events.TypeRoundAdvanced))
}

func TestTimerStopsWhenGameEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b")
	tm := NewTimer(h.eng, code)
	require.NoError(t, store.Set(h.ctx, h.store, store.TimerPath(code), 1))

	assert.False(t, tm.Tick(h.ctx))
	require.NoError(t, store.Set(h.ctx, h.store, store.TimerPath(code), 1))
	assert.False(t, tm.Tick(h.ctx))

	assert.True(t, h.view(t).Finished())
	assert.True(t, tm.Tick(h.ctx))
}

func TestManualRoomHasNoTimerLoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, manual(), "a", "b")

	assert.True(t, NewTimer(h.eng, code).Tick(h.ctx))
	assert.Nil(t, h.view(t).Room.Timer)
}

func TestSubmissionsShortenTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c", "d")
	tm := NewTimer(h.eng, code)
	tm.ObserveSubmissions(h.ctx, h.view(t))

	h.submit(t, "a", "p-a")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 27, h.timer(t))
	assert.Equal(t, 1, h.events.count(events.TypeTimerPenalty))

	// same view again must not shorten twice
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 27, h.timer(t))

	h.submit(t, "b", "p-b")
	h.submit(t, "c", "p-c")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	// 27 -> 24 -> 21
	assert.Equal(t, 21, h.timer(t))
}

func TestTimerNeverShortenedBelowFloor(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c")
	tm := NewTimer(h.eng, code)
	tm.ObserveSubmissions(h.ctx, h.view(t))

	require.NoError(t, store.Set(h.ctx, h.store, store.TimerPath(code), 11))
	h.submit(t, "a", "p-a")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 10, h.timer(t))

	h.submit(t, "b", "p-b")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 10, h.timer(t))
}

func TestTimerBaselineResetsEachRound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b")
	tm := NewTimer(h.eng, code)
	tm.ObserveSubmissions(h.ctx, h.view(t))

	h.submit(t, "a", "p-a")
	h.submit(t, "b", "p-b")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	h.advanceTo(t, 1)
	assert.Equal(t, 30, h.timer(t))

	h.submit(t, "a", "d-a")
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 27, h.timer(t))
}

func TestFailedShorteningIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c")
	tm := NewTimer(h.eng, code)
	tm.ObserveSubmissions(h.ctx, h.view(t))

	h.submit(t, "a", "p-a")
	h.faults.failUpdates(store.TimerPath(code), 1)
	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 30, h.timer(t))

	tm.ObserveSubmissions(h.ctx, h.view(t))
	assert.Equal(t, 27, h.timer(t))
	assert.Equal(t, 1, h.events.count(events.TypeTimerPenalty))
}

func TestShorteningRetriesAgainstConcurrentTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t, dynamic(30), "a", "b", "c")
	tm := NewTimer(h.eng, code)
	tm.ObserveSubmissions(h.ctx, h.view(t))
	h.submit(t, "a", "p-a")

	var once sync.Once
	h.faults.beforeUpdate = func(writes map[string][]byte) {
		if _, ok := writes[store.TimerPath(code)]; !ok {
			return
		}
		once.Do(func() {
			// another host ticks between the read and the guarded write
			require.NoError(t, store.Set(h.ctx, h.store, store.TimerPath(code), 29))
		})
	}
	tm.ObserveSubmissions(h.ctx, h.view(t))

	// 29 - 10% = 26.1
	assert.Equal(t, 26, h.timer(t))
}
