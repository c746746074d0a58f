// Package provider defines the capability interface that isolates the
// admission-control core from any specific remote service, plus the
// registry through which adapters are supplied, and the builtin adapters
// for the providers QuotaGuard ships with.
package provider

import (
	"fmt"
	"time"

	"github.com/quotaguard/quotaguard/core"
)

// Request is a provider-agnostic description of an outbound call. The
// core never dispatches it; adapters only read it to estimate cost.
type Request struct {
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     []byte
	Model    string
	Metadata map[string]string
}

// Usage carries token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider-agnostic view of a completed call, carrying
// just enough for cost reconciliation.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Usage      *Usage
}

// HTTPError is the error shape adapters classify. Dispatch collaborators
// should return it for non-2xx responses. Raw must never contain
// credentials.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter *time.Duration
	Raw        []byte
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// Adapter translates between one provider's request/response/error
// shapes and the core's provider-agnostic cost and failure model. All
// methods are pure with respect to core state; they may compute locally
// (e.g. a cached tokenizer) but must never block on I/O.
type Adapter interface {
	// Name returns the provider identifier this adapter serves.
	Name() string
	// EstimateCost predicts the cost units a request will consume.
	EstimateCost(req *Request) float64
	// ActualCost extracts the true cost from a completed response.
	ActualCost(resp *Response) float64
	// ClassifyFailure maps a dispatch error to the failure taxonomy.
	// Unknown errors classify as Fatal: retrying an unrecognized
	// failure risks amplifying load on a struggling service.
	ClassifyFailure(err error) core.FailureInfo
	// DefaultRules returns the adapter's built-in rules for a resource,
	// or nil when the resource is unknown and the caller must supply
	// explicit rules.
	DefaultRules(resource string) []core.RateLimitRule
}
