package provider

import (
	"fmt"
	"strconv"

	"github.com/quotaguard/quotaguard/core"
)

// estimateCharsPerToken is the character-count heuristic used when no
// tokenizer output is available. Anthropic-family models average a bit
// over three characters per token, so dividing by three overestimates
// slightly, which errs toward under-admission.
const estimateCharsPerToken = 3

// messageOverheadTokens covers per-message framing the body bytes do not
// show.
const messageOverheadTokens = 4

// AnthropicAdapter estimates and reconciles token costs for the
// Anthropic Messages API.
type AnthropicAdapter struct {
	apiKey string
}

// NewAnthropic builds the adapter. The key is held only to satisfy the
// capability probe at bootstrap; the adapter itself never dials out.
func NewAnthropic(cfg Config) (Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	return &AnthropicAdapter{apiKey: cfg.APIKey}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// EstimateCost predicts prompt plus completion tokens from the request
// body size and the declared max_tokens, when present.
func (a *AnthropicAdapter) EstimateCost(req *Request) float64 {
	if req == nil {
		return 0
	}
	cost := float64(len(req.Body)/estimateCharsPerToken + messageOverheadTokens)
	if raw, ok := req.Metadata["max_tokens"]; ok {
		if maxTokens, err := strconv.Atoi(raw); err == nil && maxTokens > 0 {
			cost += float64(maxTokens)
		}
	}
	return cost
}

// ActualCost prefers the provider-reported usage block and falls back to
// the body-size heuristic when the response carries none.
func (a *AnthropicAdapter) ActualCost(resp *Response) float64 {
	if resp == nil {
		return 0
	}
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return float64(resp.Usage.TotalTokens)
	}
	return float64(len(resp.Body) / estimateCharsPerToken)
}

func (a *AnthropicAdapter) ClassifyFailure(err error) core.FailureInfo {
	return classifyHTTP(err)
}

func (a *AnthropicAdapter) DefaultRules(resource string) []core.RateLimitRule {
	return defaultRules("anthropic", resource)
}
