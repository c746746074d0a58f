package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quotaguard/quotaguard/core"
)

// ParseWindowKey decodes the window identifier written by the limiter
// back into the rule it was derived from. The safety margin is not part
// of the identifier, so the decoded rule enforces at its raw limit.
func ParseWindowKey(wk string) (core.RateLimitRule, error) {
	parts := strings.SplitN(wk, "/", 3)
	if len(parts) != 3 {
		return core.RateLimitRule{}, fmt.Errorf("malformed window key %q", wk)
	}
	limit, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return core.RateLimitRule{}, fmt.Errorf("window key %q: %w", wk, err)
	}
	window, err := time.ParseDuration(parts[2])
	if err != nil {
		return core.RateLimitRule{}, fmt.Errorf("window key %q: %w", wk, err)
	}
	return core.RateLimitRule{Kind: core.RuleKind(parts[0]), Limit: limit, Window: window}, nil
}

// UsageFromState reconstructs a usage snapshot from persisted state, for
// inspection paths that have the stored windows but not the live rule
// set. Expired entries are pruned against now; malformed window keys are
// skipped.
func UsageFromState(state *core.KeyState, now time.Time) core.KeyUsage {
	if state == nil {
		return core.KeyUsage{}
	}

	usage := core.KeyUsage{InFlight: state.InFlight}
	if key, err := core.ParseKey(state.Key); err == nil {
		usage.Key = key
	}

	wks := make([]string, 0, len(state.Windows))
	for wk := range state.Windows {
		wks = append(wks, wk)
	}
	sort.Strings(wks)

	for _, wk := range wks {
		rule, err := ParseWindowKey(wk)
		if err != nil {
			continue
		}
		entries := pruned(state.Windows[wk], rule.Window, now)
		usage.Rules = append(usage.Rules, core.RuleUsage{
			Kind:      rule.Kind,
			Limit:     rule.Limit,
			Effective: rule.EffectiveLimit(),
			Window:    rule.Window,
			Used:      sumCosts(entries),
			Entries:   len(entries),
		})
	}
	return usage
}
