package core

import (
	"fmt"
	"time"
)

// AdmissionTimeoutError reports that a caller waited longer than the
// configured maximum for a slot. No residual state is left behind.
type AdmissionTimeoutError struct {
	Key    Key
	Waited time.Duration
}

func (e *AdmissionTimeoutError) Error() string {
	return fmt.Sprintf("admission timed out for %s after %s", e.Key, e.Waited)
}

// UnsatisfiableRequestError reports a request whose own cost exceeds a
// rule's enforcement ceiling. Waiting can never admit it.
type UnsatisfiableRequestError struct {
	Key  Key
	Cost float64
	Rule RateLimitRule
}

func (e *UnsatisfiableRequestError) Error() string {
	return fmt.Sprintf("cost %v for %s exceeds %s rule ceiling %v",
		e.Cost, e.Key, e.Rule.Kind, e.Rule.EffectiveLimit())
}

// UnknownProviderError reports a registry lookup for an unregistered
// provider id. This is a configuration defect, fatal at startup.
type UnknownProviderError struct {
	ID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q is not registered", e.ID)
}

// RetryExhaustedError wraps the last dispatch error once retries are
// spent or a non-retryable failure occurs, annotated with the attempt
// count and total elapsed time so callers can tell "rate limited, try
// later" apart from "permanently rejected".
type RetryExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Category FailureCategory
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s) over %s (%s): %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Category, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
