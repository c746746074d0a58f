// Package quotaguard admits outbound requests against concurrently
// tracked quotas before they reach a rate-limited remote service, and
// reconciles actual consumption afterwards. It wires the sliding-window
// limiter, backoff strategies, and provider adapters into one entry
// point; the packages underneath are importable on their own for callers
// that want finer control.
package quotaguard

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/config"
	"github.com/quotaguard/quotaguard/core"
	"github.com/quotaguard/quotaguard/core/engine"
	"github.com/quotaguard/quotaguard/core/store"
	"github.com/quotaguard/quotaguard/provider"
)

// Guard is the top-level admission-control instance. Create one per
// process and share it across goroutines.
type Guard struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *provider.Registry
	limiter  *engine.Limiter
	store    store.Store

	mu         sync.Mutex
	adapters   map[string]provider.Adapter
	strategies map[string]engine.Strategy
	defaultSt  engine.Strategy
}

// New builds a Guard from configuration: it opens the configured state
// store, registers every builtin adapter whose credentials are present,
// and prepares the backoff strategies.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Guard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	defaultStrategy, err := engine.NewStrategy(cfg.Backoff.StrategyConfig())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	providerConfigs := make(map[string]provider.Config, len(cfg.Providers))
	strategies := make(map[string]engine.Strategy, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		providerConfigs[id] = provider.Config{
			APIKey:  pc.ResolveAPIKey(),
			BaseURL: pc.BaseURL,
		}
		if pc.Backoff != nil {
			strategy, err := engine.NewStrategy(pc.Backoff.StrategyConfig())
			if err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("provider %s: %w", id, err)
			}
			strategies[id] = strategy
		}
	}
	if err := provider.Bootstrap(registry, providerConfigs); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Guard{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    st,
		limiter: &engine.Limiter{
			Store:        st,
			Logger:       logger,
			MaxWait:      cfg.Limiter.MaxWait,
			PollInterval: cfg.Limiter.PollInterval,
		},
		adapters:   make(map[string]provider.Adapter),
		strategies: strategies,
		defaultSt:  defaultStrategy,
	}, nil
}

// Execute runs one admitted call against providerID/resource: admission,
// dispatch, reconciliation, and retries are handled here; dispatch only
// performs the transport call.
func (g *Guard) Execute(ctx context.Context, providerID, resource string, req *provider.Request, dispatch engine.DispatchFunc) (*provider.Response, error) {
	adapter, err := g.Adapter(providerID)
	if err != nil {
		return nil, err
	}

	rules, err := g.rulesFor(adapter, providerID, resource)
	if err != nil {
		return nil, err
	}

	coordinator := &engine.Coordinator{
		Limiter:  g.limiter,
		Strategy: g.strategy(providerID),
		Logger:   g.logger,
	}
	key := core.Key{Provider: providerID, Resource: resource}
	return coordinator.Execute(ctx, key, adapter, req, rules, dispatch)
}

// Adapter returns the provider's adapter, creating it on first use.
func (g *Guard) Adapter(providerID string) (provider.Adapter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if adapter, ok := g.adapters[providerID]; ok {
		return adapter, nil
	}

	pc := g.cfg.Providers[providerID]
	adapter, err := g.registry.Create(providerID, provider.Config{
		APIKey:  pc.ResolveAPIKey(),
		BaseURL: pc.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	g.adapters[providerID] = adapter
	return adapter, nil
}

// Registry exposes the adapter registry so integrators can register
// their own providers before first use.
func (g *Guard) Registry() *provider.Registry { return g.registry }

// Limiter exposes the admission engine for direct acquire/release use.
func (g *Guard) Limiter() *engine.Limiter { return g.limiter }

// Usage snapshots current consumption for every key the limiter has
// seen. Keys whose provider is no longer registered are skipped.
func (g *Guard) Usage(ctx context.Context) ([]core.KeyUsage, error) {
	var usages []core.KeyUsage
	for _, key := range g.limiter.Keys() {
		adapter, err := g.Adapter(key.Provider)
		if err != nil {
			continue
		}
		rules, err := g.rulesFor(adapter, key.Provider, key.Resource)
		if err != nil {
			continue
		}
		usage, err := g.limiter.Snapshot(ctx, key, rules)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	return usages, nil
}

// Close releases the state store.
func (g *Guard) Close() error {
	return g.store.Close()
}

// rulesFor resolves the rules guarding providerID/resource: explicit
// configuration wins, then the resource-independent "default" entry,
// then the adapter's built-in presets.
func (g *Guard) rulesFor(adapter provider.Adapter, providerID, resource string) ([]core.RateLimitRule, error) {
	pc := g.cfg.Providers[providerID]
	if ruleConfigs, ok := pc.Resources[resource]; ok {
		return config.Rules(ruleConfigs)
	}
	if ruleConfigs, ok := pc.Resources["default"]; ok {
		return config.Rules(ruleConfigs)
	}
	if rules := adapter.DefaultRules(resource); len(rules) > 0 {
		return rules, nil
	}
	return nil, fmt.Errorf("no rules configured for %s:%s", providerID, resource)
}

func (g *Guard) strategy(providerID string) engine.Strategy {
	if strategy, ok := g.strategies[providerID]; ok {
		return strategy
	}
	return g.defaultSt
}
