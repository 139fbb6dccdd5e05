package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

func factoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{
		config.ProviderOpenAI:   {APIKey: ""},
		config.ProviderZhipu:    {APIKey: "z-key"},
		config.ProviderDeepSeek: {APIKey: "d-key"},
	}
	return cfg
}

func testFactory(cfg *config.Config) *Factory {
	return NewFactoryWithOptions(cfg, FactoryOptions{
		Client: http.DefaultClient,
		Retry:  RetryPolicy{MaxAttempts: 1, Sleep: noSleep},
		Logger: testLogger(),
	})
}

// --- Get ---

func TestFactory_Get_CachesInstance(t *testing.T) {
	f := testFactory(factoryConfig())

	p1, err := f.Get(config.ProviderZhipu)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, _ := f.Get(config.ProviderZhipu)
	if p1 != p2 {
		t.Fatal("expected cached instance")
	}
	if p1.Name() != "zhipu" || p1.SupportsTools() {
		t.Fatalf("unexpected provider: %s tools=%v", p1.Name(), p1.SupportsTools())
	}
}

func TestFactory_Get_UnconfiguredOrUnknown(t *testing.T) {
	f := testFactory(factoryConfig())

	if _, err := f.Get(config.ProviderOpenAI); err == nil {
		t.Fatal("expected error for provider without key")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_Get_UnknownNameWithBaseIsCompatible(t *testing.T) {
	cfg := factoryConfig()
	cfg.Providers["moonshot"] = config.ProviderConfig{APIKey: "k", APIBase: "https://example.invalid/v1", Model: "m1"}
	f := testFactory(cfg)

	p, err := f.Get("moonshot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "moonshot" || p.Model() != "m1" || p.SupportsTools() {
		t.Fatalf("unexpected provider: %s %s", p.Name(), p.Model())
	}
}

// --- Configured ---

func TestFactory_Configured_PriorityOrder(t *testing.T) {
	cfg := factoryConfig()
	cfg.General.ProviderPriority = []string{config.ProviderDeepSeek, config.ProviderZhipu}
	f := testFactory(cfg)

	ps := f.Configured()
	if len(ps) != 2 || ps[0].Name() != "deepseek" || ps[1].Name() != "zhipu" {
		names := make([]string, len(ps))
		for i, p := range ps {
			names[i] = p.Name()
		}
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestFactory_RegisterConstructor_Replaces(t *testing.T) {
	f := testFactory(factoryConfig())
	_, _ = f.Get(config.ProviderZhipu)

	f.RegisterConstructor(config.ProviderZhipu, func(pc config.ProviderConfig, o FactoryOptions) domain.Provider {
		cfg := adapterConfig(pc, o)
		cfg.Label = "zhipu-tools"
		return newCompatible(cfg, true)
	})
	p, err := f.Get(config.ProviderZhipu)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "zhipu-tools" || !p.SupportsTools() {
		t.Fatalf("constructor not replaced: %s", p.Name())
	}
}

func TestFactory_HealthyProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer d-key" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := factoryConfig()
	for name, pc := range cfg.Providers {
		pc.APIBase = srv.URL
		cfg.Providers[name] = pc
	}
	f := testFactory(cfg)

	p := f.HealthyProvider(context.Background())
	if p == nil || p.Name() != "deepseek" {
		t.Fatalf("expected deepseek to be healthy, got %v", p)
	}
}
