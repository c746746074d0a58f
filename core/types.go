// Package core defines the shared domain types for QuotaGuard:
// rate limit rules, usage entries, admission keys, and the failure
// taxonomy consumed by backoff strategies.
package core

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind selects what a rate limit rule counts.
type RuleKind string

const (
	// RuleCount limits the number of requests per window.
	RuleCount RuleKind = "count"
	// RuleCost limits the summed cost units (e.g. tokens) per window.
	RuleCost RuleKind = "cost"
	// RuleConcurrency limits in-flight requests; it has no window.
	RuleConcurrency RuleKind = "concurrency"
)

// RateLimitRule describes one quota applied to a key. Multiple rules may
// guard the same key, e.g. a count rule and a cost rule together.
type RateLimitRule struct {
	Kind         RuleKind
	Limit        float64
	Window       time.Duration
	SafetyMargin float64
}

// EffectiveLimit returns the enforcement ceiling: Limit scaled by the
// safety margin. Margins outside (0,1] are treated as 1, matching how
// limits behave when no margin is configured.
func (r RateLimitRule) EffectiveLimit() float64 {
	margin := r.SafetyMargin
	if margin <= 0 || margin > 1 {
		margin = 1
	}
	return r.Limit * margin
}

// Validate reports configuration defects in a rule.
func (r RateLimitRule) Validate() error {
	switch r.Kind {
	case RuleCount, RuleCost:
		if r.Window <= 0 {
			return fmt.Errorf("%s rule requires a positive window", r.Kind)
		}
	case RuleConcurrency:
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("%s rule requires a positive limit", r.Kind)
	}
	// A zero margin means unset and enforces at the raw limit, matching
	// EffectiveLimit.
	if r.SafetyMargin < 0 || r.SafetyMargin > 1 {
		return fmt.Errorf("%s rule safety margin %v outside [0,1]", r.Kind, r.SafetyMargin)
	}
	return nil
}

// UsageEntry records one admitted unit of work inside a sliding window.
// The ID addresses the provisional entry during reconciliation.
type UsageEntry struct {
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
	Cost float64   `json:"cost"`
}

// Key identifies the quota state a request draws from.
type Key struct {
	Provider string
	Resource string
}

// String renders the canonical provider:resource form used for store
// addressing and logging.
func (k Key) String() string {
	return k.Provider + ":" + k.Resource
}

// ParseKey splits a canonical provider:resource string.
func ParseKey(s string) (Key, error) {
	provider, resource, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(resource) == "" {
		return Key{}, fmt.Errorf("invalid key %q: want provider:resource", s)
	}
	return Key{Provider: provider, Resource: resource}, nil
}

// FailureCategory classifies a dispatch failure for retry decisions.
type FailureCategory string

const (
	// Transient failures (server overload, timeouts) may resolve quickly.
	Transient FailureCategory = "transient"
	// QuotaExceeded means a short rolling window is full; waiting helps.
	QuotaExceeded FailureCategory = "quota_exceeded"
	// QuotaExhausted means a long-lived quota (monthly, billing) is empty.
	QuotaExhausted FailureCategory = "quota_exhausted"
	// Fatal failures (auth, malformed request) never benefit from retrying.
	Fatal FailureCategory = "fatal"
)

// FailureInfo is produced by a provider adapter from a raw dispatch error
// and consumed by backoff strategies.
type FailureInfo struct {
	Retryable      bool
	Category       FailureCategory
	SuggestedDelay *time.Duration
}

// KeyState is the serialized form of one key's limiter state, exchanged
// with a StateStore. Windows are indexed by rule position.
type KeyState struct {
	Key       string                  `json:"key"`
	Windows   map[string][]UsageEntry `json:"windows"`
	InFlight  int                     `json:"in_flight"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// RuleUsage summarizes one rule's current consumption for introspection.
type RuleUsage struct {
	Kind      RuleKind      `json:"kind"`
	Limit     float64       `json:"limit"`
	Effective float64       `json:"effective"`
	Window    time.Duration `json:"window"`
	Used      float64       `json:"used"`
	Entries   int           `json:"entries"`
}

// KeyUsage is a point-in-time snapshot of one key across its rules.
type KeyUsage struct {
	Key      Key         `json:"key"`
	Rules    []RuleUsage `json:"rules"`
	InFlight int         `json:"in_flight"`
}
