package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotaguard/quotaguard/core"
)

func sampleState(key string) *core.KeyState {
	return &core.KeyState{
		Key: key,
		Windows: map[string][]core.UsageEntry{
			"cost/100/1m0s": {
				{ID: "e1", At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Cost: 60},
			},
		},
		InFlight:  2,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	loaded, err := m.Load(ctx, "anthropic:claude")
	require.NoError(t, err)
	require.Nil(t, loaded, "unknown key loads nil without error")

	require.NoError(t, m.Save(ctx, "anthropic:claude", sampleState("anthropic:claude")))

	loaded, err = m.Load(ctx, "anthropic:claude")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.InFlight)
	require.Len(t, loaded.Windows["cost/100/1m0s"], 1)
}

func TestMemoryLoadReturnsIsolatedCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "k", sampleState("k")))

	first, err := m.Load(ctx, "k")
	require.NoError(t, err)
	first.InFlight = 99
	first.Windows["cost/100/1m0s"][0].Cost = 1

	second, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 2, second.InFlight)
	require.Equal(t, 60.0, second.Windows["cost/100/1m0s"][0].Cost)
}

func TestMemoryListWithPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "anthropic:claude", sampleState("anthropic:claude")))
	require.NoError(t, m.Save(ctx, "anthropic:haiku", sampleState("anthropic:haiku")))
	require.NoError(t, m.Save(ctx, "openai:gpt-4o", sampleState("openai:gpt-4o")))

	all, err := m.List(ctx, Query{All: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "anthropic:claude", all[0].Key, "sorted by key")

	anthropic, err := m.List(ctx, Query{Prefix: "anthropic:"})
	require.NoError(t, err)
	require.Len(t, anthropic, 2)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, "k", sampleState("k")))
	require.NoError(t, m.Reset(ctx, "k"))

	loaded, err := m.Load(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, m.Reset(ctx, "never-existed"))
}

func TestOpenSelectsDriver(t *testing.T) {
	st, err := Open(context.Background(), configStore("memory"))
	require.NoError(t, err)
	require.IsType(t, &Memory{}, st)

	_, err = Open(context.Background(), configStore("etcd"))
	require.Error(t, err)
}
