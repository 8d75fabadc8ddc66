package manager

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cortex/stats"
	"cortex/task"
)

func newTestManager(t *testing.T) (*Manager, *stats.Counters) {
	t.Helper()
	counters := stats.NewCounters()
	m := New(counters, zaptest.NewLogger(t).Sugar())
	base := time.Unix(1_700_000_000, 0)
	var tick int64
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m, counters
}

func TestManager_QueueFIFO(t *testing.T) {
	m, counters := newTestManager(t)

	first := m.AddJob("resize", json.RawMessage(`{"w":100}`))
	second := m.AddJob("encode", nil)
	assert.Equal(t, task.Pending, first.State)
	assert.Equal(t, int64(2), counters.QueuedJobs())

	j, err := m.NextJob("worker-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, j.ID)
	assert.Equal(t, task.Scheduled, j.State)
	assert.Equal(t, "worker-a", j.Worker)
	assert.JSONEq(t, `{"w":100}`, string(j.Payload))
	assert.Equal(t, int64(1), counters.QueuedJobs())

	j, err = m.NextJob("worker-b")
	require.NoError(t, err)
	assert.Equal(t, second.ID, j.ID)
	assert.Equal(t, int64(0), counters.QueuedJobs())

	_, err = m.NextJob("worker-a")
	assert.ErrorIs(t, err, ErrNoWork)
	assert.Equal(t, int64(0), counters.QueuedJobs())
}

func TestManager_UpdateJobLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	added := m.AddJob("resize", nil)

	_, err := m.UpdateJob(added.ID, task.Running, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending job cannot run before it is scheduled")

	_, err = m.NextJob("worker-a")
	require.NoError(t, err)

	j, err := m.UpdateJob(added.ID, task.Running, "")
	require.NoError(t, err)
	assert.False(t, j.StartTime.IsZero())

	j, err = m.UpdateJob(added.ID, task.Completed, "done")
	require.NoError(t, err)
	assert.Equal(t, task.Completed, j.State)
	assert.Equal(t, "done", j.Message)
	assert.True(t, j.FinishTime.After(j.StartTime))
	assert.Empty(t, m.WorkerJobMap)
	assert.Empty(t, m.JobWorkerMap)

	_, err = m.UpdateJob(added.ID, task.Failed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.UpdateJob(uuid.New(), task.Running, "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_ReleaseWorker(t *testing.T) {
	m, _ := newTestManager(t)
	a := m.AddJob("a", nil)
	b := m.AddJob("b", nil)
	c := m.AddJob("c", nil)

	for _, w := range []string{"lost", "lost", "alive"} {
		_, err := m.NextJob(w)
		require.NoError(t, err)
	}
	_, err := m.UpdateJob(b.ID, task.Running, "")
	require.NoError(t, err)

	assert.Equal(t, 2, m.ReleaseWorker("lost"))
	assert.Equal(t, 0, m.ReleaseWorker("lost"))
	assert.Equal(t, 0, m.ReleaseWorker("unknown"))

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		j, err := m.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, task.Failed, j.State)
		assert.Equal(t, "worker lost lost", j.Message)
	}
	j, err := m.GetJob(c.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Scheduled, j.State)
}

func TestManager_GetJobsReturnsCopies(t *testing.T) {
	m, _ := newTestManager(t)
	first := m.AddJob("a", nil)
	m.AddJob("b", nil)

	jobs := m.GetJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)

	jobs[0].State = task.Completed
	j, err := m.GetJob(first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Pending, j.State)
}

func TestManager_ConcurrentSubmitAndPull(t *testing.T) {
	counters := stats.NewCounters()
	m := New(counters, zaptest.NewLogger(t).Sugar())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AddJob("job", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), counters.QueuedJobs())

	var pulled sync.Map
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := m.NextJob("w")
				if err != nil {
					return
				}
				_, dup := pulled.LoadOrStore(j.ID, true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), counters.QueuedJobs())
	assert.Len(t, m.GetJobs(), 50)
}

func TestManager_QueuedJobCannotBeMovedByUpdate(t *testing.T) {
	m, counters := newTestManager(t)
	added := m.AddJob("resize", nil)

	for _, state := range []task.State{task.Scheduled, task.Running, task.Failed, task.Completed} {
		_, err := m.UpdateJob(added.ID, state, "")
		assert.ErrorIs(t, err, ErrInvalidTransition, state.String())
	}
	assert.Equal(t, int64(1), counters.QueuedJobs())

	j, err := m.GetJob(added.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Pending, j.State)

	j, err = m.NextJob("w1")
	require.NoError(t, err)
	assert.Equal(t, added.ID, j.ID)
	assert.Equal(t, task.Scheduled, j.State)
	assert.Equal(t, int64(0), counters.QueuedJobs())

	j, err = m.UpdateJob(added.ID, task.Failed, "crashed")
	require.NoError(t, err)
	assert.Equal(t, task.Failed, j.State)

	_, err = m.NextJob("w2")
	assert.ErrorIs(t, err, ErrNoWork, "a failed job is never handed out again")
	assert.Equal(t, int64(0), counters.QueuedJobs())
}
