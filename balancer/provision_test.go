package balancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvision_DisabledIsNoOp(t *testing.T) {
	tb := newTestBalancer(t, testConfig(), &fakeDriver{all: 0})

	assert.Equal(t, 0, tb.Provision(context.Background()))
	tb.TriggerProvision()

	assert.Empty(t, tb.driver.Calls())
	assert.Len(t, tb.provisions, 0)
}

func TestProvision_TopsUpToMax(t *testing.T) {
	cfg := testConfig()
	cfg.AllowProvision = true
	cfg.MaxContainers = 5
	cfg.MaxBootsPerCycle = 1
	tb := newTestBalancer(t, cfg, &fakeDriver{all: 2})

	n := tb.Provision(context.Background())

	assert.Equal(t, 3, n, "provisioning ignores the per-cycle boot cap")
	assert.Equal(t, []int{3}, tb.driver.Started())
	assert.Equal(t, []string{"refresh", "list all", "start"}, tb.driver.Calls())
}

func TestProvision_AtOrAboveMax(t *testing.T) {
	cfg := testConfig()
	cfg.AllowProvision = true
	cfg.MaxContainers = 5

	for _, current := range []int{5, 7} {
		tb := newTestBalancer(t, cfg, &fakeDriver{all: current})
		assert.Equal(t, 0, tb.Provision(context.Background()))
		assert.Empty(t, tb.driver.Started())
	}
}

func TestProvision_BypassesScore(t *testing.T) {
	cfg := testConfig()
	cfg.AllowProvision = true
	tb := newTestBalancer(t, cfg, &fakeDriver{all: 0})
	tb.setLoad(0, 100)

	assert.Equal(t, 10, tb.Provision(context.Background()))
	_, scored := tb.gauge(t, metricScore)
	assert.False(t, scored)
}

func TestProvision_DriverFailures(t *testing.T) {
	boom := errors.New("boom")
	cfg := testConfig()
	cfg.AllowProvision = true

	for _, driver := range []*fakeDriver{
		{refreshErr: boom},
		{allErr: boom},
		{startErr: boom},
	} {
		tb := newTestBalancer(t, cfg, driver)
		assert.Equal(t, 0, tb.Provision(context.Background()))
		assert.Empty(t, driver.Started())
	}
}

func TestTriggerProvision_CoalescesPendingRequests(t *testing.T) {
	cfg := testConfig()
	cfg.AllowProvision = true
	tb := newTestBalancer(t, cfg, &fakeDriver{all: 2})

	tb.TriggerProvision()
	tb.TriggerProvision()
	tb.TriggerProvision()

	assert.Len(t, tb.provisions, 1)
	assert.Empty(t, tb.driver.Calls(), "trigger never runs the provision on the caller")
}

func TestTriggerProvision_RunsOnBalancerGoroutine(t *testing.T) {
	cfg := testConfig()
	cfg.AllowProvision = true
	cfg.InitialDelay = 30 * time.Minute
	cfg.MaxContainers = 6
	tb := newTestBalancer(t, cfg, &fakeDriver{all: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx) }()

	tb.TriggerProvision()
	require.Eventually(t, func() bool { return len(tb.driver.Started()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []int{4}, tb.driver.Started())

	cancel()
	require.NoError(t, <-done)
}
