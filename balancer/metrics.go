package balancer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "cortex/balancer"

const (
	metricScore   = "elastic_balancer.balance.score"
	metricKilled  = "elastic_balancer.balance.containers.killed"
	metricStarted = "elastic_balancer.balance.containers.started"
)

type balancerMetrics struct {
	score   metric.Int64Gauge
	killed  metric.Int64Gauge
	started metric.Int64Gauge
}

func newMetrics(mp metric.MeterProvider) *balancerMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scopeName)

	return &balancerMetrics{
		score: must(meter.Int64Gauge(metricScore,
			metric.WithDescription("Signed balance score of the last cycle; negative shrinks, positive grows"),
		)),
		killed: must(meter.Int64Gauge(metricKilled,
			metric.WithDescription("Containers killed by the last shrinking cycle"),
			metric.WithUnit("{container}"),
		)),
		started: must(meter.Int64Gauge(metricStarted,
			metric.WithDescription("Containers started by the last growing cycle"),
			metric.WithUnit("{container}"),
		)),
	}
}

func (m *balancerMetrics) recordScore(ctx context.Context, score int) {
	if m == nil {
		return
	}
	m.score.Record(ctx, int64(score))
}

func (m *balancerMetrics) recordKilled(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.killed.Record(ctx, int64(n))
}

func (m *balancerMetrics) recordStarted(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.started.Record(ctx, int64(n))
}

func must[T any](t T, err error) T {
	if err != nil {
		panic(err)
	}
	return t
}
