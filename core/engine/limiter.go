package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/core"
)

const (
	defaultPollInterval = 25 * time.Millisecond
	maxPollInterval     = 2 * time.Second
	sleepJitterFraction = 0.1
)

// StateStore persists per-key limiter state. A nil store keeps state
// in-process only. Implementations live in core/store.
type StateStore interface {
	Load(ctx context.Context, key string) (*core.KeyState, error)
	Save(ctx context.Context, key string, state *core.KeyState) error
}

// Limiter is the admission-control engine. It tracks, per key, one
// sliding window for every count/cost rule plus an in-flight counter for
// concurrency rules, and blocks callers until every rule can admit the
// requested cost.
type Limiter struct {
	// Store, when set, is loaded on first touch of a key and written
	// through after every mutation. A store read failure fails the
	// acquire: admitting under uncertainty defeats the limiter.
	Store StateStore
	// Clock overrides time.Now for tests.
	Clock func() time.Time
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// MaxWait bounds the total time one Acquire may block. Zero means
	// the caller's context is the only bound.
	MaxWait time.Duration
	// PollInterval is the base poll used while waiting on a concurrency
	// slot, whose release time is unknowable in advance.
	PollInterval time.Duration

	mu     sync.RWMutex
	states map[string]*keyState
}

// keyState owns all window and counter state for one key. Its mutex is
// never held across a sleep.
type keyState struct {
	mu       sync.Mutex
	windows  map[string][]core.UsageEntry
	inFlight int
	loaded   bool
}

// Admission is the receipt for one admitted call. It addresses the
// provisional entries for reconciliation and guards the concurrency
// decrement so release is exactly-once regardless of caller mistakes.
type Admission struct {
	Key           core.Key
	EstimatedCost float64
	Rules         []core.RateLimitRule

	entryIDs map[string]string
	hasSlot  bool
	released atomic.Bool
}

// Acquire blocks until every rule can admit estimatedCost for key, then
// atomically records a provisional usage entry in each count/cost window
// and claims a concurrency slot if any concurrency rule applies.
//
// It fails fast with UnsatisfiableRequestError when the cost exceeds a
// rule's ceiling outright, and with AdmissionTimeoutError once MaxWait is
// exceeded. Callers that obtained an Admission must eventually call
// Release, typically via defer, on every path.
func (l *Limiter) Acquire(ctx context.Context, key core.Key, estimatedCost float64, rules []core.RateLimitRule) (*Admission, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules supplied for %s", key)
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule for %s: %w", key, err)
		}
		if ruleCost(rule, estimatedCost) > rule.EffectiveLimit() {
			return nil, &core.UnsatisfiableRequestError{Key: key, Cost: ruleCost(rule, estimatedCost), Rule: rule}
		}
	}

	st, err := l.state(ctx, key)
	if err != nil {
		return nil, err
	}

	started := l.now()
	pollAttempt := 0
	for {
		st.mu.Lock()
		wait, blockedOnSlot := l.check(st, estimatedCost, rules)
		if wait == 0 {
			adm := l.admit(st, key, estimatedCost, rules)
			if err := l.persist(ctx, key, st); err != nil {
				l.rollback(st, adm)
				st.mu.Unlock()
				return nil, fmt.Errorf("persist limiter state for %s: %w", key, err)
			}
			st.mu.Unlock()
			return adm, nil
		}
		st.mu.Unlock()

		if blockedOnSlot {
			wait = slotPoll(l.pollInterval(), pollAttempt)
			pollAttempt++
		}
		// Jitter prevents synchronized wake-ups across waiters.
		wait += time.Duration(rand.Float64() * sleepJitterFraction * float64(wait))

		waited := l.now().Sub(started)
		if l.MaxWait > 0 {
			remaining := l.MaxWait - waited
			if remaining <= 0 {
				return nil, &core.AdmissionTimeoutError{Key: key, Waited: waited}
			}
			if wait > remaining {
				wait = remaining
			}
		}

		l.logger().Debug("admission blocked, waiting",
			zap.String("key", key.String()),
			zap.Duration("wait", wait),
			zap.Bool("concurrency_slot", blockedOnSlot))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Reconcile replaces the provisional cost recorded at admission with the
// true cost observed on the response. It never blocks admission: when a
// provisional entry has already aged out, a fresh entry is added for the
// actual cost, erring toward under-admission of future calls.
func (l *Limiter) Reconcile(ctx context.Context, adm *Admission, actualCost float64) {
	if adm == nil || actualCost < 0 {
		return
	}
	st, err := l.state(ctx, adm.Key)
	if err != nil {
		l.logger().Warn("reconcile skipped, state unavailable",
			zap.String("key", adm.Key.String()), zap.Error(err))
		return
	}

	st.mu.Lock()
	for _, rule := range adm.Rules {
		if rule.Kind != core.RuleCost {
			continue
		}
		wk := windowKey(rule)
		id := adm.entryIDs[wk]
		entries := st.windows[wk]
		found := false
		for i := range entries {
			if entries[i].ID == id {
				entries[i].Cost = actualCost
				found = true
				break
			}
		}
		if !found {
			st.windows[wk] = append(entries, core.UsageEntry{
				ID:   uuid.NewString(),
				At:   l.now(),
				Cost: actualCost,
			})
		}
	}
	if err := l.persist(ctx, adm.Key, st); err != nil {
		l.logger().Warn("reconcile state not persisted",
			zap.String("key", adm.Key.String()), zap.Error(err))
	}
	st.mu.Unlock()
}

// Release frees the concurrency slot claimed by adm. It is idempotent
// per admission: repeated calls never double-decrement, and the counter
// never goes negative.
func (l *Limiter) Release(ctx context.Context, adm *Admission) {
	if adm == nil || !adm.hasSlot {
		return
	}
	if !adm.released.CompareAndSwap(false, true) {
		return
	}
	st, err := l.state(ctx, adm.Key)
	if err != nil {
		l.logger().Warn("release skipped, state unavailable",
			zap.String("key", adm.Key.String()), zap.Error(err))
		return
	}

	st.mu.Lock()
	if st.inFlight > 0 {
		st.inFlight--
	}
	if err := l.persist(ctx, adm.Key, st); err != nil {
		l.logger().Warn("release state not persisted",
			zap.String("key", adm.Key.String()), zap.Error(err))
	}
	st.mu.Unlock()
}

// Snapshot reports current usage for key against the supplied rules.
func (l *Limiter) Snapshot(ctx context.Context, key core.Key, rules []core.RateLimitRule) (core.KeyUsage, error) {
	st, err := l.state(ctx, key)
	if err != nil {
		return core.KeyUsage{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.now()
	usage := core.KeyUsage{Key: key, InFlight: st.inFlight}
	for _, rule := range rules {
		ru := core.RuleUsage{
			Kind:      rule.Kind,
			Limit:     rule.Limit,
			Effective: rule.EffectiveLimit(),
			Window:    rule.Window,
		}
		if rule.Kind == core.RuleConcurrency {
			ru.Used = float64(st.inFlight)
		} else {
			entries := pruned(st.windows[windowKey(rule)], rule.Window, now)
			ru.Entries = len(entries)
			ru.Used = sumCosts(entries)
		}
		usage.Rules = append(usage.Rules, ru)
	}
	return usage, nil
}

// Keys lists every key the limiter has seen, sorted.
func (l *Limiter) Keys() []core.Key {
	l.mu.RLock()
	raw := make([]string, 0, len(l.states))
	for k := range l.states {
		raw = append(raw, k)
	}
	l.mu.RUnlock()

	sort.Strings(raw)
	keys := make([]core.Key, 0, len(raw))
	for _, s := range raw {
		if k, err := core.ParseKey(s); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// check prunes expired entries and reports how long the caller must wait
// before re-checking: zero means admit now. blockedOnSlot is true when
// the only obstacle is a concurrency slot, whose release time cannot be
// computed from window state.
func (l *Limiter) check(st *keyState, estimatedCost float64, rules []core.RateLimitRule) (wait time.Duration, blockedOnSlot bool) {
	now := l.now()
	blockedOnSlot = false
	for _, rule := range rules {
		if rule.Kind == core.RuleConcurrency {
			if float64(st.inFlight)+1 > rule.EffectiveLimit() {
				blockedOnSlot = true
				if wait == 0 {
					wait = l.pollInterval()
				}
			}
			continue
		}

		wk := windowKey(rule)
		entries := pruned(st.windows[wk], rule.Window, now)
		st.windows[wk] = entries
		if sumCosts(entries)+ruleCost(rule, estimatedCost) <= rule.EffectiveLimit() {
			continue
		}
		// Oldest entry expiry is the earliest instant this rule can
		// change; re-checking then is sound even if it is not yet
		// sufficient.
		expiry := entries[0].At.Add(rule.Window).Sub(now)
		if expiry <= 0 {
			expiry = time.Millisecond
		}
		if expiry > wait {
			wait = expiry
			blockedOnSlot = false
		}
	}
	if wait > 0 && !blockedOnSlot {
		// A window wait dominates any concurrency poll.
		return wait, false
	}
	return wait, blockedOnSlot
}

// admit records the provisional entries and claims a slot. Caller holds
// the key lock and has already verified every rule passes.
func (l *Limiter) admit(st *keyState, key core.Key, estimatedCost float64, rules []core.RateLimitRule) *Admission {
	adm := &Admission{
		Key:           key,
		EstimatedCost: estimatedCost,
		Rules:         rules,
		entryIDs:      make(map[string]string, len(rules)),
	}
	now := l.now()
	for _, rule := range rules {
		switch rule.Kind {
		case core.RuleConcurrency:
			if !adm.hasSlot {
				st.inFlight++
				adm.hasSlot = true
			}
		default:
			wk := windowKey(rule)
			entry := core.UsageEntry{ID: uuid.NewString(), At: now, Cost: ruleCost(rule, estimatedCost)}
			st.windows[wk] = append(st.windows[wk], entry)
			adm.entryIDs[wk] = entry.ID
		}
	}
	return adm
}

// rollback undoes admit when the write-through persist fails, so a
// rejected acquire leaves no residual state.
func (l *Limiter) rollback(st *keyState, adm *Admission) {
	for wk, id := range adm.entryIDs {
		entries := st.windows[wk]
		for i := range entries {
			if entries[i].ID == id {
				st.windows[wk] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
	if adm.hasSlot && st.inFlight > 0 {
		st.inFlight--
	}
}

// state returns the keyState for key, creating it lazily and hydrating
// it from the store on first touch.
func (l *Limiter) state(ctx context.Context, key core.Key) (*keyState, error) {
	ks := key.String()

	l.mu.RLock()
	st, ok := l.states[ks]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		if l.states == nil {
			l.states = make(map[string]*keyState)
		}
		st, ok = l.states[ks]
		if !ok {
			st = &keyState{windows: make(map[string][]core.UsageEntry)}
			l.states[ks] = st
		}
		l.mu.Unlock()
	}

	if l.Store == nil {
		return st, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		return st, nil
	}
	saved, err := l.Store.Load(ctx, ks)
	if err != nil {
		return nil, fmt.Errorf("load limiter state for %s: %w", ks, err)
	}
	if saved != nil {
		for wk, entries := range saved.Windows {
			st.windows[wk] = entries
		}
		st.inFlight = saved.InFlight
	}
	st.loaded = true
	return st, nil
}

// persist writes the key state through to the store. Caller holds the
// key lock.
func (l *Limiter) persist(ctx context.Context, key core.Key, st *keyState) error {
	if l.Store == nil {
		return nil
	}
	snap := &core.KeyState{
		Key:       key.String(),
		Windows:   make(map[string][]core.UsageEntry, len(st.windows)),
		InFlight:  st.inFlight,
		UpdatedAt: l.now(),
	}
	for wk, entries := range st.windows {
		snap.Windows[wk] = append([]core.UsageEntry(nil), entries...)
	}
	return l.Store.Save(ctx, key.String(), snap)
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Limiter) logger() *zap.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return zap.NewNop()
}

func (l *Limiter) pollInterval() time.Duration {
	if l.PollInterval > 0 {
		return l.PollInterval
	}
	return defaultPollInterval
}

// slotPoll escalates the concurrency poll exponentially up to a cap.
func slotPoll(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxPollInterval; i++ {
		d *= 2
	}
	if d > maxPollInterval {
		d = maxPollInterval
	}
	return d
}

// ruleCost maps the caller-supplied estimate onto a rule: only cost
// rules charge the estimate. Count rules charge 1 per request and a
// concurrency rule is occupied by exactly one slot per call regardless
// of how expensive the call is.
func ruleCost(rule core.RateLimitRule, estimatedCost float64) float64 {
	if rule.Kind == core.RuleCost {
		return estimatedCost
	}
	return 1
}

func windowKey(rule core.RateLimitRule) string {
	return fmt.Sprintf("%s/%v/%s", rule.Kind, rule.Limit, rule.Window)
}

func pruned(entries []core.UsageEntry, window time.Duration, now time.Time) []core.UsageEntry {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && !entries[i].At.After(cutoff) {
		i++
	}
	return entries[i:]
}

func sumCosts(entries []core.UsageEntry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Cost
	}
	return total
}
