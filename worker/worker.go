package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"cortex/stats"
	"cortex/store"
)

// 1. Track the workers processing jobs through their heartbeats
// 2. Forget workers that deregister or stop sending heartbeats
// 3. Keep the running worker counter the balancer scores on up to date

var ErrWorkerNotFound = errors.New("worker not found")

// Worker is a job-processing worker known to the server.
type Worker struct {
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Registry holds the live workers. Every add or removal is reflected in the
// RunningWorkers counter.
type Registry struct {
	mu       sync.Mutex
	Db       store.Store[*Worker]
	counters *stats.Counters
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewRegistry(counters *stats.Counters, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		Db:       store.NewInMemoryStore[*Worker](),
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

// Heartbeat records that worker name is alive. It reports whether the worker
// was not known before.
func (r *Registry) Heartbeat(name string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, err := r.Db.Get(name)
	if err == nil {
		w.LastSeen = now
		c := *w
		return &c, false
	}

	w = &Worker{Name: name, RegisteredAt: now, LastSeen: now}
	_ = r.Db.Put(name, w)
	running := r.counters.AddRunningWorkers(1)
	r.logger.Infow("Worker registered", zap.String("worker", name), zap.Int64("running", running))

	c := *w
	return &c, true
}

// Remove deregisters worker name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Db.Delete(name); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	running := r.counters.AddRunningWorkers(-1)
	r.logger.Infow("Worker deregistered", zap.String("worker", name), zap.Int64("running", running))
	return nil
}

// Reap removes every worker whose last heartbeat is older than ttl and
// returns their names.
func (r *Registry) Reap(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers, err := r.Db.List()
	if err != nil {
		r.logger.Errorw("Error listing workers", zap.Error(err))
		return nil
	}

	deadline := r.now().Add(-ttl)
	var reaped []string
	for _, w := range workers {
		if !w.LastSeen.Before(deadline) {
			continue
		}
		if err := r.Db.Delete(w.Name); err != nil {
			continue
		}
		reaped = append(reaped, w.Name)
	}
	sort.Strings(reaped)

	if len(reaped) > 0 {
		running := r.counters.AddRunningWorkers(-int64(len(reaped)))
		r.logger.Warnw("Reaped workers with expired heartbeat",
			zap.Strings("workers", reaped), zap.Duration("ttl", ttl), zap.Int64("running", running))
	}
	return reaped
}

// List returns a copy of every worker sorted by name.
func (r *Registry) List() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers, err := r.Db.List()
	if err != nil {
		r.logger.Errorw("Error listing workers", zap.Error(err))
		return nil
	}

	out := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
