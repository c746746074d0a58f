package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/quotaguard/quotaguard/core"
)

// exhaustedHints mark a 429 as a drained long-lived quota rather than a
// full rolling window. These do not recover within a retry budget.
var exhaustedHints = []string{
	"insufficient_quota",
	"billing",
	"monthly",
	"credit balance",
	"quota exhausted",
}

// classifyHTTP maps a dispatch error onto the failure taxonomy. Unknown
// errors classify as Fatal so an unrecognized failure is never retried.
func classifyHTTP(err error) core.FailureInfo {
	if err == nil {
		return core.FailureInfo{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.FailureInfo{Retryable: true, Category: core.Transient}
	}

	var herr *HTTPError
	if errors.As(err, &herr) && herr != nil {
		switch {
		case herr.StatusCode == 429:
			info := core.FailureInfo{Retryable: true, Category: core.QuotaExceeded, SuggestedDelay: herr.RetryAfter}
			if isExhausted(herr) {
				info.Retryable = false
				info.Category = core.QuotaExhausted
				info.SuggestedDelay = nil
			}
			return info
		case herr.StatusCode >= 500 && herr.StatusCode <= 599:
			return core.FailureInfo{Retryable: true, Category: core.Transient, SuggestedDelay: herr.RetryAfter}
		case herr.StatusCode == 401 || herr.StatusCode == 403:
			return core.FailureInfo{Category: core.Fatal}
		case herr.StatusCode >= 400 && herr.StatusCode <= 499:
			return core.FailureInfo{Category: core.Fatal}
		}
	}

	return core.FailureInfo{Category: core.Fatal}
}

func isExhausted(herr *HTTPError) bool {
	body := strings.ToLower(herr.Message + " " + string(herr.Raw))
	for _, hint := range exhaustedHints {
		if strings.Contains(body, hint) {
			return true
		}
	}
	return false
}
