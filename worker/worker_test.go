package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cortex/stats"
)

func newTestRegistry(t *testing.T) (*Registry, *stats.Counters, *time.Time) {
	t.Helper()
	counters := stats.NewCounters()
	r := NewRegistry(counters, zaptest.NewLogger(t).Sugar())
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	return r, counters, &now
}

func TestRegistry_Heartbeat(t *testing.T) {
	r, counters, now := newTestRegistry(t)

	w, added := r.Heartbeat("a")
	assert.True(t, added)
	assert.Equal(t, *now, w.RegisteredAt)
	assert.Equal(t, int64(1), counters.RunningWorkers())

	*now = now.Add(5 * time.Second)
	w, added = r.Heartbeat("a")
	assert.False(t, added)
	assert.Equal(t, *now, w.LastSeen)
	assert.Equal(t, int64(1), counters.RunningWorkers())

	r.Heartbeat("b")
	assert.Equal(t, int64(2), counters.RunningWorkers())
	assert.Len(t, r.List(), 2)
}

func TestRegistry_Remove(t *testing.T) {
	r, counters, _ := newTestRegistry(t)
	r.Heartbeat("a")

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, int64(0), counters.RunningWorkers())

	err := r.Remove("a")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
	assert.Equal(t, int64(0), counters.RunningWorkers())
}

func TestRegistry_Reap(t *testing.T) {
	r, counters, now := newTestRegistry(t)
	r.Heartbeat("old")
	r.Heartbeat("older")

	*now = now.Add(20 * time.Second)
	r.Heartbeat("fresh")

	*now = now.Add(15 * time.Second)
	reaped := r.Reap(30 * time.Second)
	assert.Equal(t, []string{"old", "older"}, reaped)
	assert.Equal(t, int64(1), counters.RunningWorkers())

	workers := r.List()
	require.Len(t, workers, 1)
	assert.Equal(t, "fresh", workers[0].Name)

	assert.Empty(t, r.Reap(30*time.Second))
}
