package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/quotaguard/quotaguard/core"
)

// maxSuggestedDelay bounds how long a server-provided wait may be before
// we distrust it and fall back to local backoff.
const maxSuggestedDelay = time.Hour

// Strategy maps a retry attempt and its failure context to a wait
// duration and a retry decision. Implementations are stateless and safe
// for concurrent use.
type Strategy interface {
	// Delay returns how long to wait before the next attempt.
	// A sane server-suggested delay always outranks the local formula.
	Delay(attempt int, info core.FailureInfo) time.Duration
	// ShouldRetry reports whether another attempt is worthwhile.
	ShouldRetry(attempt int, info core.FailureInfo) bool
}

// JitterType selects how locally-computed delays are randomized to
// desynchronize callers retrying in lockstep.
type JitterType string

const (
	// JitterEqual scales the delay by uniform(0.5, 1.0).
	JitterEqual JitterType = "equal"
	// JitterFull draws uniform(0, delay).
	JitterFull JitterType = "full"
	// JitterDecorrelated draws uniform(minDelay, delay).
	JitterDecorrelated JitterType = "decorrelated"
)

// StrategyConfig carries the recognized backoff options from the
// configuration collaborator.
type StrategyConfig struct {
	Strategy   string
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     bool
	JitterType JitterType
	BaseDelay  time.Duration
	Multiplier float64
	Step       time.Duration
}

// NewStrategy builds a Strategy from configuration. Unset numeric options
// take conventional defaults; an unknown strategy name is an error.
func NewStrategy(cfg StrategyConfig) (Strategy, error) {
	p := policy{
		maxDelay:   cfg.MaxDelay,
		maxRetries: cfg.MaxRetries,
		minDelay:   cfg.BaseDelay,
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Minute
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if cfg.Jitter {
		jt := cfg.JitterType
		if jt == "" {
			jt = JitterEqual
		}
		switch jt {
		case JitterEqual, JitterFull, JitterDecorrelated:
			p.jitter = jt
		default:
			return nil, fmt.Errorf("unknown jitter type %q", cfg.JitterType)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", "fibonacci":
		base := cfg.BaseDelay
		if base <= 0 {
			base = time.Second
		}
		return &FibonacciBackoff{policy: p, Base: base}, nil
	case "exponential":
		base := cfg.BaseDelay
		if base <= 0 {
			base = time.Second
		}
		multiplier := cfg.Multiplier
		if multiplier <= 1 {
			multiplier = 2
		}
		return &ExponentialBackoff{policy: p, Base: base, Multiplier: multiplier}, nil
	case "linear":
		step := cfg.Step
		if step <= 0 {
			step = time.Second
		}
		return &LinearBackoff{policy: p, Step: step}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", cfg.Strategy)
	}
}

// policy holds the knobs shared by every strategy.
type policy struct {
	maxDelay   time.Duration
	maxRetries int
	jitter     JitterType
	minDelay   time.Duration
}

func (p policy) ShouldRetry(attempt int, info core.FailureInfo) bool {
	if attempt >= p.maxRetries {
		return false
	}
	switch info.Category {
	case core.QuotaExhausted, core.Fatal:
		// An empty monthly quota or a rejected credential will not
		// resolve itself before the retry budget runs out.
		return false
	}
	return true
}

// finish applies the suggested-delay override, the cap, and jitter, in
// that order. The override is returned verbatim: the server knows its
// own reset schedule better than any local formula.
func (p policy) finish(computed time.Duration, info core.FailureInfo) time.Duration {
	if d := info.SuggestedDelay; d != nil && *d >= 0 && *d <= maxSuggestedDelay {
		return *d
	}
	if computed < 0 {
		computed = 0
	}
	if computed > p.maxDelay {
		computed = p.maxDelay
	}
	switch p.jitter {
	case JitterEqual:
		return time.Duration((0.5 + rand.Float64()/2) * float64(computed))
	case JitterFull:
		return time.Duration(rand.Float64() * float64(computed))
	case JitterDecorrelated:
		lo := p.minDelay
		if lo > computed {
			lo = computed
		}
		return lo + time.Duration(rand.Float64()*float64(computed-lo))
	default:
		return computed
	}
}

// FibonacciBackoff escalates gently: Base * fib(attempt), capped. Suited
// to quotas that reset on short rolling windows.
type FibonacciBackoff struct {
	policy
	Base time.Duration
}

func (b *FibonacciBackoff) Delay(attempt int, info core.FailureInfo) time.Duration {
	// fib grows past int64 range around attempt 90; saturate at the cap
	// before multiplying so the product cannot overflow negative.
	d := b.maxDelay
	if f := fib(attempt); b.Base > 0 && f <= int64(b.maxDelay/b.Base) {
		d = time.Duration(f) * b.Base
	}
	return b.finish(d, info)
}

// fib returns the attempt-indexed Fibonacci number with fib(0)=fib(1)=1.
// The sequence is cut off once it can no longer matter against any cap.
func fib(n int) int64 {
	if n < 0 {
		return 1
	}
	if n > 90 {
		n = 90
	}
	a, b := int64(1), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// ExponentialBackoff escalates rapidly: Base * Multiplier^attempt,
// capped. Suited to persistent overload or long quota windows.
type ExponentialBackoff struct {
	policy
	Base       time.Duration
	Multiplier float64
}

func (b *ExponentialBackoff) Delay(attempt int, info core.FailureInfo) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if time.Duration(d) >= b.maxDelay {
			d = float64(b.maxDelay)
			break
		}
	}
	return b.finish(time.Duration(d), info)
}

// LinearBackoff waits Step * (attempt+1), capped. Deterministic; used
// mainly in tests.
type LinearBackoff struct {
	policy
	Step time.Duration
}

func (b *LinearBackoff) Delay(attempt int, info core.FailureInfo) time.Duration {
	return b.finish(time.Duration(attempt+1)*b.Step, info)
}
