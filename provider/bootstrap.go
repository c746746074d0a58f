package provider

// builtinFactories lists the adapters that ship with QuotaGuard.
var builtinFactories = map[string]Factory{
	"anthropic": NewAnthropic,
	"openai":    NewOpenAI,
}

// Bootstrap registers the builtin adapters whose configuration is
// satisfiable: a provider without a credential is simply not registered,
// so a later Create for it fails loudly instead of producing an adapter
// that cannot account costs. The registry itself stays free of
// conditional logic.
func Bootstrap(reg *Registry, configs map[string]Config) error {
	for id, factory := range builtinFactories {
		cfg, ok := configs[id]
		if !ok || cfg.APIKey == "" {
			continue
		}
		if err := reg.Register(id, factory); err != nil {
			return err
		}
	}
	return nil
}
