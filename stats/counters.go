package stats

import "sync/atomic"

// Counters tracks the load reported by the job server: how many workers are
// alive and how many jobs are waiting for one. Reporters update them from
// any goroutine; readers never take a lock.
type Counters struct {
	runningWorkers atomic.Int64
	queuedJobs     atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RunningWorkers int64
	QueuedJobs     int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) RunningWorkers() int64 {
	return c.runningWorkers.Load()
}

func (c *Counters) QueuedJobs() int64 {
	return c.queuedJobs.Load()
}

// AddRunningWorkers adjusts the worker count by delta and returns the new value.
func (c *Counters) AddRunningWorkers(delta int64) int64 {
	return c.runningWorkers.Add(delta)
}

// AddQueuedJobs adjusts the queued job count by delta and returns the new value.
func (c *Counters) AddQueuedJobs(delta int64) int64 {
	return c.queuedJobs.Add(delta)
}

func (c *Counters) SetRunningWorkers(n int64) {
	c.runningWorkers.Store(n)
}

func (c *Counters) SetQueuedJobs(n int64) {
	c.queuedJobs.Store(n)
}

// Snapshot reads both counters. The two loads are independent, so the pair
// may straddle a concurrent update.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RunningWorkers: c.runningWorkers.Load(),
		QueuedJobs:     c.queuedJobs.Load(),
	}
}
