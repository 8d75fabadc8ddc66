package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortex/stats"
	"cortex/store"
	"cortex/task"
)

// 1. Accept jobs submitted by clients
// 2. Hand pending jobs to workers asking for work
// 3. Keep track of jobs, their states, and the worker they run on
// 4. Keep the queued job counter the balancer scores on up to date

var (
	ErrNoWork            = errors.New("no job in the queue")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Job is a unit of work processed by a worker.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       task.State      `json:"state"`
	Worker      string          `json:"worker,omitempty"`
	Message     string          `json:"message,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartTime   time.Time       `json:"start_time,omitempty"`
	FinishTime  time.Time       `json:"finish_time,omitempty"`
}

type Manager struct {
	mu           sync.Mutex
	Pending      *queue.Queue
	JobDb        store.Store[*Job]
	WorkerJobMap map[string][]uuid.UUID
	JobWorkerMap map[uuid.UUID]string
	counters     *stats.Counters
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func New(counters *stats.Counters, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		Pending:      queue.New(),
		JobDb:        store.NewInMemoryStore[*Job](),
		WorkerJobMap: make(map[string][]uuid.UUID),
		JobWorkerMap: make(map[uuid.UUID]string),
		counters:     counters,
		logger:       logger,
		now:          time.Now,
	}
}

// AddJob stores a new pending job and puts it on the queue.
func (m *Manager) AddJob(name string, payload json.RawMessage) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := &Job{
		ID:          uuid.New(),
		Name:        name,
		Payload:     payload,
		State:       task.Pending,
		SubmittedAt: m.now(),
	}
	_ = m.JobDb.Put(j.ID.String(), j)
	m.Pending.Enqueue(j.ID)
	queued := m.counters.AddQueuedJobs(1)

	m.logger.Debugw("Added job to pending queue", zap.String("job", j.ID.String()), zap.Int64("queued", queued))
	return snapshot(j)
}

// NextJob pulls the oldest pending job off the queue and schedules it on
// worker. ErrNoWork is returned when the queue is empty.
func (m *Manager) NextJob(worker string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Pending.Len() == 0 {
		return nil, ErrNoWork
	}
	id := m.Pending.Dequeue().(uuid.UUID)
	queued := m.counters.AddQueuedJobs(-1)

	j, err := m.JobDb.Get(id.String())
	if err != nil {
		return nil, fmt.Errorf("pending job %s: %w", id, err)
	}

	j.State = task.Scheduled
	j.Worker = worker
	m.WorkerJobMap[worker] = append(m.WorkerJobMap[worker], j.ID)
	m.JobWorkerMap[j.ID] = worker

	m.logger.Debugw("Pulled job off pending queue",
		zap.String("job", j.ID.String()), zap.String("worker", worker), zap.Int64("queued", queued))
	return snapshot(j), nil
}

// UpdateJob moves job id to state. Only transitions allowed by the task
// state machine are accepted, and a queued job cannot be moved at all:
// NextJob is the only way out of Pending.
func (m *Manager) UpdateJob(id uuid.UUID, state task.State, message string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.JobDb.Get(id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.State == task.Pending {
		return nil, fmt.Errorf("%w: job %s is still queued, only a worker pulling it can schedule it", ErrInvalidTransition, id)
	}
	if !task.ValidStateTransition(j.State, state) {
		return nil, fmt.Errorf("%w: job %s is %s and cannot become %s", ErrInvalidTransition, id, j.State, state)
	}

	m.transition(j, state, message)
	return snapshot(j), nil
}

func (m *Manager) transition(j *Job, state task.State, message string) {
	if j.State == state {
		return
	}
	j.State = state
	j.Message = message

	switch state {
	case task.Running:
		j.StartTime = m.now()
	case task.Completed, task.Failed:
		j.FinishTime = m.now()
		m.unassign(j)
	}
	m.logger.Infow("Job changed state", zap.String("job", j.ID.String()), zap.Stringer("state", state))
}

func (m *Manager) unassign(j *Job) {
	w, ok := m.JobWorkerMap[j.ID]
	if !ok {
		return
	}
	delete(m.JobWorkerMap, j.ID)

	ids := m.WorkerJobMap[w]
	for i, id := range ids {
		if id == j.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.WorkerJobMap, w)
		return
	}
	m.WorkerJobMap[w] = ids
}

// ReleaseWorker fails every unfinished job assigned to worker, which is
// gone. It returns the number of jobs failed.
func (m *Manager) ReleaseWorker(worker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := append([]uuid.UUID(nil), m.WorkerJobMap[worker]...)
	for _, id := range ids {
		j, err := m.JobDb.Get(id.String())
		if err != nil {
			m.logger.Warnw("Assigned job missing from store", zap.String("job", id.String()), zap.Error(err))
			continue
		}
		m.transition(j, task.Failed, fmt.Sprintf("worker %s lost", worker))
	}

	if len(ids) > 0 {
		m.logger.Warnw("Failed jobs of lost worker", zap.String("worker", worker), zap.Int("jobs", len(ids)))
	}
	return len(ids)
}

// GetJob returns a copy of job id.
func (m *Manager) GetJob(id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.JobDb.Get(id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return snapshot(j), nil
}

// GetJobs returns a copy of every job, oldest first.
func (m *Manager) GetJobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.JobDb.List()
	if err != nil {
		m.logger.Errorw("Error getting list of jobs", zap.Error(err))
		return nil
	}

	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, snapshot(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].SubmittedAt.Equal(out[k].SubmittedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].SubmittedAt.Before(out[k].SubmittedAt)
	})
	return out
}

func snapshot(j *Job) *Job {
	c := *j
	return &c
}
