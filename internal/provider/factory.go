package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

// ProviderConstructor builds a provider from its config entry.
type ProviderConstructor func(pc config.ProviderConfig, opts FactoryOptions) domain.Provider

// FactoryOptions carries what every constructor shares.
type FactoryOptions struct {
	Client *http.Client
	Retry  RetryPolicy
	Logger *slog.Logger
}

// Factory creates and caches providers from config.
type Factory struct {
	cfg          *config.Config
	opts         FactoryOptions
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	retry := DefaultRetryPolicy()
	if cfg.General.MaxRetries > 0 {
		retry.MaxAttempts = cfg.General.MaxRetries
	}
	opts := FactoryOptions{
		Client: SharedHTTPClient(time.Duration(cfg.General.TimeoutSeconds) * time.Second),
		Retry:  retry,
		Logger: logger,
	}
	return NewFactoryWithOptions(cfg, opts)
}

// NewFactoryWithOptions is NewFactory with an explicit client and retry policy.
func NewFactoryWithOptions(cfg *config.Config, opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		opts:         opts,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	delete(f.cache, name)
}

func (f *Factory) registerDefaults() {
	f.constructors[config.ProviderOpenAI] = func(pc config.ProviderConfig, o FactoryOptions) domain.Provider {
		return NewOpenAI(adapterConfig(pc, o))
	}
	f.constructors[config.ProviderZhipu] = func(pc config.ProviderConfig, o FactoryOptions) domain.Provider {
		return NewZhipu(adapterConfig(pc, o))
	}
	f.constructors[config.ProviderDeepSeek] = func(pc config.ProviderConfig, o FactoryOptions) domain.Provider {
		return NewDeepSeek(adapterConfig(pc, o))
	}
}

func adapterConfig(pc config.ProviderConfig, o FactoryOptions) OpenAIConfig {
	return OpenAIConfig{
		APIKey:      pc.APIKey,
		APIBase:     pc.APIBase,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Client:      o.Client,
		Retry:       o.Retry,
		Logger:      o.Logger,
	}
}

// Get returns the provider with the given name. Created providers are cached
// so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Configured() {
		return nil, fmt.Errorf("provider %s has no API key", name)
	}

	ctor, found := f.constructors[name]
	var p domain.Provider
	switch {
	case found:
		p = ctor(pc, f.opts)
	case pc.APIBase != "":
		// Unknown names with a base URL are treated as OpenAI-compatible
		// without tools.
		cfg := adapterConfig(pc, f.opts)
		cfg.Label = name
		p = newCompatible(cfg, false)
	default:
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Configured returns every provider with credentials, in priority order.
func (f *Factory) Configured() []domain.Provider {
	var out []domain.Provider
	for _, name := range f.cfg.ConfiguredProviders() {
		p, err := f.Get(name)
		if err != nil {
			f.opts.Logger.Warn("skipping provider", "provider", name, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// HealthyProvider returns the first configured provider that passes a
// health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for _, p := range f.Configured() {
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
