package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startRunner runs r in the background and stops it when the test ends.
func startRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNew_RejectsInvalidSchedules(t *testing.T) {
	job := func(context.Context) {}

	_, err := New("nil-job", 0, time.Second, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	_, err = New("zero-interval", 0, 0, job, nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	_, err = New("delay-too-long", time.Minute, time.Second, job, nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))

	r, err := New("ok", 15*time.Second, 60*time.Second, job, nil)
	require.NoError(t, err)
	assert.Less(t, r.Delay, r.Interval)
}

func TestRunner_RunsRepeatedly(t *testing.T) {
	var runs atomic.Int32
	r, err := New("count", 0, 5*time.Millisecond, func(context.Context) { runs.Add(1) }, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

func TestRunner_NeverOverlaps(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	job := func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(6 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}

	r, err := New("slow", 0, 2*time.Millisecond, job, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	startRunner(t, r)

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestRunner_StopsDuringInitialDelay(t *testing.T) {
	var runs atomic.Int32
	r, err := New("delayed", time.Hour, 2*time.Hour, func(context.Context) { runs.Add(1) }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, r.Start(ctx))
	assert.Equal(t, int32(0), runs.Load())
}

func TestRunner_SurvivesPanickingJob(t *testing.T) {
	var runs atomic.Int32
	r, err := New("panics", 0, 2*time.Millisecond, func(context.Context) {
		runs.Add(1)
		panic("boom")
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	startRunner(t, r)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
}
