package presence

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/artphone/go/internal/models"
)

func TestMemorySetStampsTransitionsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	tr := NewMemory(clock)

	var updates []Update
	unsubscribe, err := tr.Subscribe(ctx, "ABCD", func(u Update) { updates = append(updates, u) })
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, tr.Set(ctx, "ABCD", "p1", models.PresenceOnline))
	joined := clock.Now()

	clock.Advance(5 * time.Second)
	require.NoError(t, tr.Set(ctx, "ABCD", "p1", models.PresenceOnline))

	snap, err := tr.Snapshot(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, joined, snap["p1"].LastChanged)
	assert.Len(t, updates, 1)

	require.NoError(t, tr.Set(ctx, "ABCD", "p1", models.PresenceOffline))
	require.Len(t, updates, 2)
	assert.Equal(t, models.PresenceOffline, updates[1].Presence.State)
	assert.Equal(t, clock.Now(), updates[1].Presence.LastChanged)
}

func TestMemoryRoomsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := NewMemory(clockwork.NewFakeClock())

	var calls int
	unsubscribe, err := tr.Subscribe(ctx, "WXYZ", func(Update) { calls++ })
	require.NoError(t, err)

	require.NoError(t, tr.Set(ctx, "ABCD", "p1", models.PresenceOnline))
	assert.Zero(t, calls)

	snap, err := tr.Snapshot(ctx, "WXYZ")
	require.NoError(t, err)
	assert.Empty(t, snap)

	unsubscribe()
	unsubscribe()
	require.NoError(t, tr.Set(ctx, "WXYZ", "p2", models.PresenceOnline))
	assert.Zero(t, calls)
}

func TestRedisKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "presence:room:ABCD", roomKey("ABCD"))
	assert.Equal(t, "presence:room:ABCD:changes", changesChannel("ABCD"))
}
