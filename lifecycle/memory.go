package lifecycle

import (
	"context"
	"sync"
)

// MemoryDriver simulates a pool in process. Started containers are running
// immediately and killed containers disappear.
type MemoryDriver struct {
	mu        sync.Mutex
	running   int
	refreshes int
}

func NewMemoryDriver(initial int) *MemoryDriver {
	return &MemoryDriver{running: initial}
}

func (m *MemoryDriver) ListAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *MemoryDriver) ListRunning(ctx context.Context) (int, error) {
	return m.ListAll(ctx)
}

func (m *MemoryDriver) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running += n
	return nil
}

func (m *MemoryDriver) Kill(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running -= min(n, m.running)
	return nil
}

func (m *MemoryDriver) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

// Refreshes returns how many times Refresh was called.
func (m *MemoryDriver) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}
