package provider

import (
	"fmt"
	"strconv"

	"github.com/quotaguard/quotaguard/core"
)

// OpenAIAdapter estimates and reconciles token costs for the OpenAI
// Chat Completions API.
type OpenAIAdapter struct {
	apiKey string
}

// NewOpenAI builds the adapter.
func NewOpenAI(cfg Config) (Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	return &OpenAIAdapter{apiKey: cfg.APIKey}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) EstimateCost(req *Request) float64 {
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

func (a *OpenAIAdapter) ActualCost(resp *Response) float64 {
	if resp == nil {
		return 0
	}
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return float64(resp.Usage.TotalTokens)
	}
	return float64(len(resp.Body) / estimateCharsPerToken)
}

func (a *OpenAIAdapter) ClassifyFailure(err error) core.FailureInfo {
	return classifyHTTP(err)
}

func (a *OpenAIAdapter) DefaultRules(resource string) []core.RateLimitRule {
	return defaultRules("openai", resource)
}
