package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEffectiveLimitAppliesMargin(t *testing.T) {
	rule := RateLimitRule{Kind: RuleCost, Limit: 100, Window: time.Minute, SafetyMargin: 0.9}
	require.Equal(t, 90.0, rule.EffectiveLimit())

	// Out-of-range margins behave as if unset.
	rule.SafetyMargin = 0
	require.Equal(t, 100.0, rule.EffectiveLimit())
	rule.SafetyMargin = 1.5
	require.Equal(t, 100.0, rule.EffectiveLimit())
}

func TestRuleValidate(t *testing.T) {
	require.NoError(t, RateLimitRule{Kind: RuleCount, Limit: 10, Window: time.Second, SafetyMargin: 1}.Validate())
	require.NoError(t, RateLimitRule{Kind: RuleConcurrency, Limit: 5}.Validate())
	// Margin 0 is the unset form and enforces at the raw limit.
	unset := RateLimitRule{Kind: RuleCost, Limit: 100, Window: time.Second}
	require.NoError(t, unset.Validate())
	require.Equal(t, 100.0, unset.EffectiveLimit())
	require.Error(t, RateLimitRule{Kind: RuleCost, Limit: 100, Window: time.Second, SafetyMargin: -0.1}.Validate())

	require.Error(t, RateLimitRule{Kind: RuleCount, Limit: 10}.Validate(), "windowless count rule")
	require.Error(t, RateLimitRule{Kind: RuleCost, Limit: 0, Window: time.Second}.Validate())
	require.Error(t, RateLimitRule{Kind: "burst", Limit: 1, Window: time.Second}.Validate())
	require.Error(t, RateLimitRule{Kind: RuleCost, Limit: 1, Window: time.Second, SafetyMargin: 2}.Validate())
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key{Provider: "anthropic", Resource: "claude-3-5-haiku"}
	require.Equal(t, "anthropic:claude-3-5-haiku", key.String())

	parsed, err := ParseKey("anthropic:claude-3-5-haiku")
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = ParseKey("no-separator")
	require.Error(t, err)
	_, err = ParseKey(":missing-provider")
	require.Error(t, err)
}

func TestRetryExhaustedErrorUnwraps(t *testing.T) {
	cause := errors.New("upstream said no")
	err := &RetryExhaustedError{Attempts: 4, Elapsed: 3 * time.Second, Category: QuotaExceeded, Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "4 attempt(s)")
	require.Contains(t, err.Error(), string(QuotaExceeded))
}
