package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/core"
	"github.com/quotaguard/quotaguard/provider"
)

// DispatchFunc performs the actual remote call. The core never dials
// out itself; transport is entirely the collaborator's concern.
type DispatchFunc func(ctx context.Context) (*provider.Response, error)

// Coordinator orchestrates one logical call end to end: admission,
// dispatch, cost reconciliation, failure classification, and the
// backoff/retry loop.
type Coordinator struct {
	Limiter  *Limiter
	Strategy Strategy
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Execute runs the full request lifecycle for key. rules may be nil, in
// which case the adapter's default rules for the key's resource apply;
// a key unknown to both is an error. On a retryable failure the
// concurrency slot is released before backing off and reacquired on the
// next attempt, so waiters on the same key are not starved by a
// sleeping retrier.
//
// Terminal failures propagate wrapped in RetryExhaustedError; the
// underlying dispatch error stays reachable through errors.Is/As.
func (c *Coordinator) Execute(ctx context.Context, key core.Key, adapter provider.Adapter, req *provider.Request, rules []core.RateLimitRule, dispatch DispatchFunc) (*provider.Response, error) {
	if c.Limiter == nil || c.Strategy == nil {
		return nil, fmt.Errorf("coordinator is not wired")
	}
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required for %s", key)
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch func is required for %s", key)
	}

	if len(rules) == 0 {
		rules = adapter.DefaultRules(key.Resource)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules for %s: supply explicit rules", key)
	}

	estimated := adapter.EstimateCost(req)
	started := c.now()
	attempt := 0
	for {
		adm, err := c.Limiter.Acquire(ctx, key, estimated, rules)
		if err != nil {
			return nil, err
		}

		c.logger().Debug("dispatching",
			zap.String("key", key.String()),
			zap.Int("attempt", attempt),
			zap.Float64("estimated_cost", estimated))

		resp, err := dispatch(ctx)
		if err == nil {
			c.Limiter.Reconcile(ctx, adm, adapter.ActualCost(resp))
			c.Limiter.Release(ctx, adm)
			return resp, nil
		}

		info := adapter.ClassifyFailure(err)
		c.Limiter.Release(ctx, adm)

		if !c.Strategy.ShouldRetry(attempt, info) {
			elapsed := c.now().Sub(started)
			c.logger().Debug("giving up",
				zap.String("key", key.String()),
				zap.Int("attempts", attempt+1),
				zap.Duration("elapsed", elapsed),
				zap.String("category", string(info.Category)),
				zap.Error(err))
			return nil, &core.RetryExhaustedError{
				Attempts: attempt + 1,
				Elapsed:  elapsed,
				Category: info.Category,
				Err:      err,
			}
		}

		delay := c.Strategy.Delay(attempt, info)
		c.logger().Debug("backing off",
			zap.String("key", key.String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("category", string(info.Category)),
			zap.Bool("server_suggested", info.SuggestedDelay != nil))

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		attempt++
	}
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
