package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotaguard/quotaguard/core"
)

func transient() core.FailureInfo {
	return core.FailureInfo{Retryable: true, Category: core.Transient}
}

func TestFibonacciDelaySequence(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "fibonacci",
		MaxDelay:   100 * time.Second,
		MaxRetries: 10,
		BaseDelay:  time.Second,
	})
	require.NoError(t, err)

	want := []time.Duration{1, 1, 2, 3, 5, 8, 13}
	for attempt, multiple := range want {
		require.Equal(t, multiple*time.Second, strategy.Delay(attempt, transient()),
			"attempt %d", attempt)
	}
}

func TestFibonacciCapsAtMaxDelay(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "fibonacci",
		MaxDelay:   10 * time.Second,
		MaxRetries: 30,
		BaseDelay:  time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, strategy.Delay(20, transient()))
}

func TestFibonacciHugeAttemptSaturatesAtCap(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "fibonacci",
		MaxDelay:   5 * time.Minute,
		MaxRetries: 100,
		BaseDelay:  time.Second,
	})
	require.NoError(t, err)

	// fib(80)*1s does not fit in int64 nanoseconds; the delay must pin
	// to the cap instead of wrapping negative and collapsing to zero.
	for _, attempt := range []int{50, 80, 200} {
		require.Equal(t, 5*time.Minute, strategy.Delay(attempt, transient()),
			"attempt %d", attempt)
	}
}

func TestExponentialDelay(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "exponential",
		MaxDelay:   time.Minute,
		MaxRetries: 10,
		BaseDelay:  time.Second,
		Multiplier: 2,
	})
	require.NoError(t, err)

	require.Equal(t, time.Second, strategy.Delay(0, transient()))
	require.Equal(t, 2*time.Second, strategy.Delay(1, transient()))
	require.Equal(t, 8*time.Second, strategy.Delay(3, transient()))
	require.Equal(t, time.Minute, strategy.Delay(10, transient()))
}

func TestLinearDelay(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "linear",
		MaxDelay:   time.Minute,
		MaxRetries: 5,
		Step:       2 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, 2*time.Second, strategy.Delay(0, transient()))
	require.Equal(t, 4*time.Second, strategy.Delay(1, transient()))
	require.Equal(t, 10*time.Second, strategy.Delay(4, transient()))
}

func TestMonotonicEscalationWithoutJitter(t *testing.T) {
	for _, name := range []string{"fibonacci", "exponential"} {
		strategy, err := NewStrategy(StrategyConfig{
			Strategy:   name,
			MaxDelay:   time.Hour,
			MaxRetries: 20,
			BaseDelay:  time.Second,
		})
		require.NoError(t, err)

		prev := strategy.Delay(0, transient())
		for attempt := 1; attempt < 15; attempt++ {
			next := strategy.Delay(attempt, transient())
			require.GreaterOrEqual(t, next, prev, "%s attempt %d", name, attempt)
			prev = next
		}
	}
}

func TestSuggestedDelayOutranksFormula(t *testing.T) {
	suggested := 30 * time.Second
	info := core.FailureInfo{
		Retryable:      true,
		Category:       core.QuotaExceeded,
		SuggestedDelay: &suggested,
	}

	for _, name := range []string{"fibonacci", "exponential", "linear"} {
		strategy, err := NewStrategy(StrategyConfig{
			Strategy:   name,
			MaxDelay:   10 * time.Second, // below the suggestion: override still wins
			MaxRetries: 10,
			BaseDelay:  time.Second,
			Step:       time.Second,
			Jitter:     true,
		})
		require.NoError(t, err)
		require.Equal(t, suggested, strategy.Delay(5, info), name)
	}
}

func TestInsaneSuggestedDelayIgnored(t *testing.T) {
	suggested := 2 * time.Hour
	info := core.FailureInfo{Retryable: true, Category: core.QuotaExceeded, SuggestedDelay: &suggested}

	strategy, err := NewStrategy(StrategyConfig{
		Strategy:   "linear",
		MaxDelay:   time.Minute,
		MaxRetries: 5,
		Step:       time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, time.Second, strategy.Delay(0, info))
}

func TestShouldRetryRespectsBudgetAndCategory(t *testing.T) {
	strategy, err := NewStrategy(StrategyConfig{Strategy: "linear", MaxRetries: 10})
	require.NoError(t, err)

	require.True(t, strategy.ShouldRetry(0, transient()))
	require.True(t, strategy.ShouldRetry(9, core.FailureInfo{Retryable: true, Category: core.QuotaExceeded}))
	require.False(t, strategy.ShouldRetry(10, transient()))

	// Exhausted and fatal never retry, even with budget left.
	require.False(t, strategy.ShouldRetry(0, core.FailureInfo{Category: core.QuotaExhausted}))
	require.False(t, strategy.ShouldRetry(0, core.FailureInfo{Category: core.Fatal}))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 10 * time.Second
	cases := []struct {
		jitter  JitterType
		low     time.Duration
		high    time.Duration
	}{
		{JitterEqual, base / 2, base},
		{JitterFull, 0, base},
		{JitterDecorrelated, time.Second, base},
	}

	for _, tc := range cases {
		strategy, err := NewStrategy(StrategyConfig{
			Strategy:   "linear",
			MaxDelay:   time.Minute,
			MaxRetries: 5,
			Step:       base,
			BaseDelay:  time.Second,
			Jitter:     true,
			JitterType: tc.jitter,
		})
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			d := strategy.Delay(0, transient())
			require.GreaterOrEqual(t, d, tc.low, string(tc.jitter))
			require.LessOrEqual(t, d, tc.high, string(tc.jitter))
		}
	}
}

func TestNewStrategyRejectsUnknownNames(t *testing.T) {
	_, err := NewStrategy(StrategyConfig{Strategy: "quadratic"})
	require.Error(t, err)

	_, err = NewStrategy(StrategyConfig{Strategy: "linear", Jitter: true, JitterType: "bogus"})
	require.Error(t, err)
}
