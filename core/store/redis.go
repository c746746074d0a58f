package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/core"
)

const redisKeyPrefix = "quotaguard:state"

// Redis persists limiter state as one JSON document per key with a TTL,
// for deployments where multiple processes share quota state. Writes are
// last-writer-wins; shard keys per process when strict serialization
// across processes is required.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects to the configured redis instance.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, prefix: redisKeyPrefix, ttl: ttl}, nil
}

func (r *Redis) Load(ctx context.Context, key string) (*core.KeyState, error) {
	raw, err := r.rdb.Get(ctx, r.storageKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch limiter state for %s: %w", key, err)
	}

	var state core.KeyState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode limiter state for %s: %w", key, err)
	}
	return &state, nil
}

func (r *Redis) Save(ctx context.Context, key string, state *core.KeyState) error {
	if state == nil {
		return errors.New("limiter state is required")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode limiter state for %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, r.storageKey(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save limiter state for %s: %w", key, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, query Query) ([]Entry, error) {
	pattern := r.prefix + ":*"
	if prefix := strings.TrimSpace(query.Prefix); prefix != "" {
		pattern = r.storageKey(prefix) + "*"
	}

	entries := []Entry{}
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		storageKey := iter.Val()
		raw, err := r.rdb.Get(ctx, storageKey).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("fetch limiter state: %w", err)
		}
		var state core.KeyState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("decode limiter state for %s: %w", storageKey, err)
		}
		entries = append(entries, Entry{
			Key:   strings.TrimPrefix(storageKey, r.prefix+":"),
			State: &state,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan limiter state: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("reset limiter state for %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) storageKey(key string) string {
	return r.prefix + ":" + key
}
