package balancer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"cortex/config"
	"cortex/stats"
)

// fakeDriver is a scripted lifecycle driver that records every command.
type fakeDriver struct {
	mu sync.Mutex

	all     int
	running int

	allErr     error
	runningErr error
	startErr   error
	killErr    error
	refreshErr error

	// hang, when set, blocks ListAll until it is closed, ignoring ctx.
	hang chan struct{}
	// mutationDelay slows Start and Kill so overlaps become observable.
	mutationDelay time.Duration

	calls     []string
	started   []int
	killed    []int
	refreshes int

	inFlight    int
	maxInFlight int
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDriver) ListAll(ctx context.Context) (int, error) {
	f.record("list all")
	if f.hang != nil {
		<-f.hang
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all, f.allErr
}

func (f *fakeDriver) ListRunning(ctx context.Context) (int, error) {
	f.record("list running")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.runningErr
}

func (f *fakeDriver) mutate(call string, n int, err error, apply func()) error {
	f.record(call)

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.mutationDelay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err != nil {
		return err
	}
	apply()
	return nil
}

func (f *fakeDriver) Start(ctx context.Context, n int) error {
	return f.mutate("start", n, f.startErr, func() {
		f.started = append(f.started, n)
		f.all += n
		f.running += n
	})
}

func (f *fakeDriver) Kill(ctx context.Context, n int) error {
	return f.mutate("kill", n, f.killErr, func() {
		f.killed = append(f.killed, n)
		f.all -= n
		f.running -= n
	})
}

func (f *fakeDriver) Refresh(ctx context.Context) error {
	f.record("refresh")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeDriver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) Started() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.started...)
}

func (f *fakeDriver) Killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}

func testConfig() config.BalancerConfig {
	return config.BalancerConfig{
		ToleranceThreshold:   5,
		MinContainers:        2,
		MaxContainers:        10,
		MaxBootsPerCycle:     3,
		MaxShutdownsPerCycle: 3,
		InitialDelay:         0,
		Interval:             time.Hour,
		DriverTimeout:        time.Second,
	}
}

type testBalancer struct {
	*Balancer
	driver   *fakeDriver
	counters *stats.Counters
	reader   *sdkmetric.ManualReader
}

func newTestBalancer(t *testing.T, cfg config.BalancerConfig, driver *fakeDriver) *testBalancer {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	counters := stats.NewCounters()

	b, err := New(cfg, counters, driver, zaptest.NewLogger(t).Sugar(), WithMeterProvider(mp))
	require.NoError(t, err)

	return &testBalancer{Balancer: b, driver: driver, counters: counters, reader: reader}
}

func (tb *testBalancer) setLoad(queued, workers int64) {
	tb.counters.SetQueuedJobs(queued)
	tb.counters.SetRunningWorkers(workers)
}

// gauge returns the last recorded value of the named gauge.
func (tb *testBalancer) gauge(t *testing.T, name string) (int64, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, tb.reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(g.DataPoints) == 0 {
				return 0, false
			}
			return g.DataPoints[0].Value, true
		}
	}
	return 0, false
}
