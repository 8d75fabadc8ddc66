package balancer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Driver is the container lifecycle contract the balancer scales through.
// Implementations must be safe to call from the balancer's goroutines.
type Driver interface {
	// ListAll counts every container registered for the pool, in any state.
	ListAll(ctx context.Context) (int, error)
	// ListRunning counts the pool containers that are running.
	ListRunning(ctx context.Context) (int, error)
	// Start boots n new containers. n <= 0 is a no-op.
	Start(ctx context.Context, n int) error
	// Kill stops n running containers. n <= 0 is a no-op.
	Kill(ctx context.Context, n int) error
	// Refresh forces the inventory to be reloaded before the next list call.
	Refresh(ctx context.Context) error
}

var ErrDriverTimeout = errors.New("lifecycle driver call timed out")

// DriverError wraps a failed or timed out lifecycle driver call.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("lifecycle driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

type result[T any] struct {
	value T
	err   error
}

// callDriver runs fn with a per-call timeout. The call runs on its own
// goroutine so a driver that ignores its context still cannot stall the
// cycle past the timeout; such a call is abandoned, not cancelled.
func callDriver[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, &DriverError{Op: op, Err: r.err}
		}
		return r.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, &DriverError{Op: op, Err: fmt.Errorf("%w after %v", ErrDriverTimeout, timeout)}
		}
		return zero, &DriverError{Op: op, Err: ctx.Err()}
	}
}

func (b *Balancer) listAll(ctx context.Context) (int, error) {
	return callDriver(ctx, b.cfg.DriverTimeout, "list all", b.driver.ListAll)
}

func (b *Balancer) listRunning(ctx context.Context) (int, error) {
	return callDriver(ctx, b.cfg.DriverTimeout, "list running", b.driver.ListRunning)
}

func (b *Balancer) refresh(ctx context.Context) error {
	_, err := callDriver(ctx, b.cfg.DriverTimeout, "refresh", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.driver.Refresh(ctx)
	})
	return err
}

func (b *Balancer) start(ctx context.Context, n int) error {
	_, err := callDriver(ctx, b.cfg.DriverTimeout, "start", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.driver.Start(ctx, n)
	})
	return err
}

func (b *Balancer) kill(ctx context.Context, n int) error {
	_, err := callDriver(ctx, b.cfg.DriverTimeout, "kill", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.driver.Kill(ctx, n)
	})
	return err
}
