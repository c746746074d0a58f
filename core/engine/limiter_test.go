package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotaguard/quotaguard/core"
)

var testKey = core.Key{Provider: "anthropic", Resource: "claude-3-5-haiku"}

func countRule(limit float64, window time.Duration) core.RateLimitRule {
	return core.RateLimitRule{Kind: core.RuleCount, Limit: limit, Window: window, SafetyMargin: 1.0}
}

func costRule(limit float64, window time.Duration, margin float64) core.RateLimitRule {
	return core.RateLimitRule{Kind: core.RuleCost, Limit: limit, Window: window, SafetyMargin: margin}
}

func concurrencyRule(limit float64) core.RateLimitRule {
	return core.RateLimitRule{Kind: core.RuleConcurrency, Limit: limit, SafetyMargin: 1.0}
}

func TestAcquireAdmitsWithinCountLimit(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{countRule(3, time.Second)}

	for i := 0; i < 3; i++ {
		adm, err := limiter.Acquire(context.Background(), testKey, 1, rules)
		require.NoError(t, err)
		require.NotNil(t, adm)
	}
}

func TestFourthCallWaitsForOldestEntryExpiry(t *testing.T) {
	limiter := &Limiter{}
	window := 150 * time.Millisecond
	rules := []core.RateLimitRule{countRule(3, window)}

	for i := 0; i < 3; i++ {
		_, err := limiter.Acquire(context.Background(), testKey, 1, rules)
		require.NoError(t, err)
	}

	started := time.Now()
	adm, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	elapsed := time.Since(started)
	require.NoError(t, err)
	require.NotNil(t, adm)

	// Admitted only once the first entry aged out, within jitter slack.
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, window+200*time.Millisecond)
}

func TestUnsatisfiableCostFailsFast(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{costRule(100, time.Minute, 1.0)}

	started := time.Now()
	_, err := limiter.Acquire(context.Background(), testKey, 500, rules)
	require.Less(t, time.Since(started), 100*time.Millisecond, "must not loop")

	var unsat *core.UnsatisfiableRequestError
	require.ErrorAs(t, err, &unsat)
	require.Equal(t, float64(500), unsat.Cost)
}

func TestLargeCostAdmitsUnderConcurrencyRule(t *testing.T) {
	limiter := &Limiter{}
	// One call occupies one slot no matter how many tokens it spends,
	// so a 500-token estimate must pass a 5-slot rule.
	rules := []core.RateLimitRule{
		costRule(100000, time.Minute, 0.9),
		concurrencyRule(5),
	}

	adm, err := limiter.Acquire(context.Background(), testKey, 500, rules)
	require.NoError(t, err)
	require.NotNil(t, adm)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, 1, usage.InFlight)
	require.Equal(t, float64(500), usage.Rules[0].Used)
}

func TestSubUnitConcurrencyLimitFailsFast(t *testing.T) {
	limiter := &Limiter{}
	// A slot limit below one call can never admit anything.
	rules := []core.RateLimitRule{{Kind: core.RuleConcurrency, Limit: 1, SafetyMargin: 0.5}}

	started := time.Now()
	_, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.Less(t, time.Since(started), 100*time.Millisecond, "must not loop")

	var unsat *core.UnsatisfiableRequestError
	require.ErrorAs(t, err, &unsat)
	require.Equal(t, float64(1), unsat.Cost)
}

func TestSafetyMarginBlocksSecondCaller(t *testing.T) {
	limiter := &Limiter{MaxWait: 50 * time.Millisecond}
	// Effective cap is 90: one cost-60 call fits, a second does not.
	rules := []core.RateLimitRule{costRule(100, time.Minute, 0.9)}

	_, err := limiter.Acquire(context.Background(), testKey, 60, rules)
	require.NoError(t, err)

	_, err = limiter.Acquire(context.Background(), testKey, 60, rules)
	var timeout *core.AdmissionTimeoutError
	require.ErrorAs(t, err, &timeout)
}

func TestCountRuleChargesOneRegardlessOfCost(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{countRule(2, time.Minute)}

	_, err := limiter.Acquire(context.Background(), testKey, 5000, rules)
	require.NoError(t, err)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, float64(1), usage.Rules[0].Used)
}

func TestReconcileReplacesProvisionalCost(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{costRule(1000, time.Minute, 1.0)}

	adm, err := limiter.Acquire(context.Background(), testKey, 100, rules)
	require.NoError(t, err)

	limiter.Reconcile(context.Background(), adm, 250)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, float64(250), usage.Rules[0].Used)
	require.Equal(t, 1, usage.Rules[0].Entries)
}

func TestSkippedReconcileKeepsEstimate(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{costRule(1000, time.Minute, 1.0)}

	_, err := limiter.Acquire(context.Background(), testKey, 100, rules)
	require.NoError(t, err)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, float64(100), usage.Rules[0].Used)
}

func TestReconcileAfterExpiryAddsFreshEntry(t *testing.T) {
	limiter := &Limiter{}
	window := 30 * time.Millisecond
	rules := []core.RateLimitRule{costRule(1000, window, 1.0)}

	adm, err := limiter.Acquire(context.Background(), testKey, 100, rules)
	require.NoError(t, err)

	time.Sleep(window + 10*time.Millisecond)
	// Expired entries are pruned on the next check.
	_, err = limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)

	limiter.Reconcile(context.Background(), adm, 250)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	// The fresh entry carries the actual cost alongside the second call.
	require.Equal(t, float64(251), usage.Rules[0].Used)
}

func TestReleaseIsIdempotentPerAdmission(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{concurrencyRule(2)}

	first, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)
	second, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		limiter.Release(context.Background(), first)
	}

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, 1, usage.InFlight, "triple release must decrement once")

	limiter.Release(context.Background(), second)
	usage, err = limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.Equal(t, 0, usage.InFlight)
}

func TestConcurrencySlotBlocksUntilReleased(t *testing.T) {
	limiter := &Limiter{PollInterval: 5 * time.Millisecond}
	rules := []core.RateLimitRule{concurrencyRule(1)}

	adm, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		limiter.Release(context.Background(), adm)
		close(released)
	}()

	started := time.Now()
	next, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
	<-released
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	limiter := &Limiter{}
	rules := []core.RateLimitRule{countRule(1, time.Minute)}

	_, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx, testKey, 1, rules)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMaxWaitYieldsAdmissionTimeout(t *testing.T) {
	limiter := &Limiter{MaxWait: 40 * time.Millisecond}
	rules := []core.RateLimitRule{countRule(1, time.Minute)}

	_, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.NoError(t, err)

	_, err = limiter.Acquire(context.Background(), testKey, 1, rules)
	var timeout *core.AdmissionTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, testKey, timeout.Key)
}

func TestWindowInvariantUnderConcurrentAcquires(t *testing.T) {
	limiter := &Limiter{MaxWait: 500 * time.Millisecond}
	rules := []core.RateLimitRule{costRule(100, time.Minute, 0.9)}

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.Acquire(context.Background(), testKey, 30, rules); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Effective cap 90 admits exactly three cost-30 calls.
	require.Equal(t, 3, admitted)

	usage, err := limiter.Snapshot(context.Background(), testKey, rules)
	require.NoError(t, err)
	require.LessOrEqual(t, usage.Rules[0].Used, 90.0)
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, key string) (*core.KeyState, error) {
	return nil, errors.New("backing store unreachable")
}

func (failingStore) Save(ctx context.Context, key string, state *core.KeyState) error {
	return errors.New("backing store unreachable")
}

func TestUnreachableStoreFailsAcquire(t *testing.T) {
	limiter := &Limiter{Store: failingStore{}}
	rules := []core.RateLimitRule{countRule(3, time.Second)}

	// Fail closed: never admit when window state cannot be determined.
	_, err := limiter.Acquire(context.Background(), testKey, 1, rules)
	require.Error(t, err)
	require.Contains(t, err.Error(), "backing store unreachable")
}
