package store

import (
	"context"
	"sort"
	"sync"

	"github.com/quotaguard/quotaguard/core"
)

// Memory keeps limiter state in-process. It is the default store and the
// fake other packages test against.
type Memory struct {
	mu    sync.RWMutex
	state map[string]*core.KeyState
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{state: make(map[string]*core.KeyState)}
}

func (m *Memory) Load(ctx context.Context, key string) (*core.KeyState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	clone := cloneState(st)
	return clone, nil
}

func (m *Memory) Save(ctx context.Context, key string, state *core.KeyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]*core.KeyState)
	}
	m.state[key] = cloneState(state)
	return nil
}

func (m *Memory) List(ctx context.Context, query Query) ([]Entry, error) {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.state))
	for key, st := range m.state {
		if !matches(key, query) {
			continue
		}
		entries = append(entries, Entry{Key: key, State: cloneState(st)})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneState(st *core.KeyState) *core.KeyState {
	if st == nil {
		return nil
	}
	clone := &core.KeyState{
		Key:       st.Key,
		InFlight:  st.InFlight,
		UpdatedAt: st.UpdatedAt,
		Windows:   make(map[string][]core.UsageEntry, len(st.Windows)),
	}
	for wk, entries := range st.Windows {
		clone.Windows[wk] = append([]core.UsageEntry(nil), entries...)
	}
	return clone
}
