// Package store provides the persistence backends for limiter state:
// in-process memory (default), libsql for durable single-host state, and
// redis for cross-process deployments.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/core"
)

// Store is the persistence contract for per-key limiter state. The
// engine only needs Load and Save; List and Reset serve the admin CLI
// and the introspection server.
type Store interface {
	Load(ctx context.Context, key string) (*core.KeyState, error)
	Save(ctx context.Context, key string, state *core.KeyState) error
	List(ctx context.Context, query Query) ([]Entry, error)
	Reset(ctx context.Context, key string) error
	Close() error
}

// Query filters List results.
type Query struct {
	All    bool
	Prefix string
}

// Entry is one stored key state.
type Entry struct {
	Key   string         `json:"key"`
	State *core.KeyState `json:"state"`
}

// Open builds the store selected by configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "libsql":
		return OpenSQL(ctx, cfg)
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func matches(key string, query Query) bool {
	if query.Prefix != "" {
		return strings.HasPrefix(key, query.Prefix)
	}
	return query.All || query.Prefix == ""
}
