package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotaguard/quotaguard/core"
)

func TestNewAnthropicRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropic(Config{})
	require.Error(t, err)

	adapter, err := NewAnthropic(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "anthropic", adapter.Name())
}

func TestEstimateCostFromBodySize(t *testing.T) {
	adapter, err := NewAnthropic(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	body := strings.Repeat("a", 300)
	cost := adapter.EstimateCost(&Request{Body: []byte(body)})
	require.Equal(t, float64(300/estimateCharsPerToken+messageOverheadTokens), cost)
}

func TestEstimateCostIncludesMaxTokens(t *testing.T) {
	adapter, err := NewAnthropic(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	cost := adapter.EstimateCost(&Request{
		Body:     []byte(strings.Repeat("a", 30)),
		Metadata: map[string]string{"max_tokens": "1024"},
	})
	require.Equal(t, float64(30/estimateCharsPerToken+messageOverheadTokens+1024), cost)
}

func TestActualCostPrefersUsageBlock(t *testing.T) {
	adapter, err := NewAnthropic(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	resp := &Response{
		Body:  []byte(strings.Repeat("a", 3000)),
		Usage: &Usage{PromptTokens: 120, CompletionTokens: 80, TotalTokens: 200},
	}
	require.Equal(t, float64(200), adapter.ActualCost(resp))

	// Without a usage block, fall back to the size heuristic.
	resp.Usage = nil
	require.Equal(t, float64(1000), adapter.ActualCost(resp))
}

func TestDefaultRulesFromPresets(t *testing.T) {
	adapter, err := NewAnthropic(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	rules := adapter.DefaultRules("claude-3-5-haiku")
	require.NotEmpty(t, rules)

	kinds := map[core.RuleKind]bool{}
	for _, rule := range rules {
		require.NoError(t, rule.Validate())
		kinds[rule.Kind] = true
	}
	require.True(t, kinds[core.RuleCount])
	require.True(t, kinds[core.RuleCost])
	require.True(t, kinds[core.RuleConcurrency])
}

func TestDefaultRulesFallBackToProviderDefault(t *testing.T) {
	adapter, err := NewOpenAI(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	unknown := adapter.DefaultRules("some-future-model")
	fallback := adapter.DefaultRules("default")
	require.Equal(t, fallback, unknown)
	require.NotEmpty(t, unknown)
}
