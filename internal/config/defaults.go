package config

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// providerDefaults are the per-provider endpoints and models used when
// neither the config file nor the environment names them.
var providerDefaults = map[string]ProviderConfig{
	ProviderOpenAI: {
		APIBase:     "https://api.openai-next.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   defaultMaxTokens,
		Temperature: Float(defaultTemperature),
	},
	ProviderZhipu: {
		APIBase:     "https://open.bigmodel.cn/api/paas/v4",
		Model:       "GLM-4-Flash-250414",
		MaxTokens:   defaultMaxTokens,
		Temperature: Float(defaultTemperature),
	},
	ProviderDeepSeek: {
		APIBase:     "https://api.deepseek.com/v1",
		Model:       "deepseek-chat",
		MaxTokens:   defaultMaxTokens,
		Temperature: Float(defaultTemperature),
	},
}

// Float returns a pointer to v, for optional numeric settings.
func Float(v float64) *float64 { return &v }

func Defaults() *Config {
	providers := make(map[string]ProviderConfig, len(providerDefaults))
	for name, pc := range providerDefaults {
		providers[name] = pc
	}
	return &Config{
		General: GeneralConfig{
			LogLevel:         "info",
			ProviderPriority: []string{ProviderOpenAI, ProviderZhipu, ProviderDeepSeek},
			MemoryLimit:      30,
			HistoryTurns:     15,
			TimeoutSeconds:   30,
			MaxRetries:       3,
		},
		Providers: providers,
		Relay: RelayConfig{
			Host:          "localhost",
			Port:          8767,
			Path:          "/ws",
			DefaultChatID: "unknown_chat",
		},
		History: HistoryConfig{
			Backend: "sqlite",
			DBPath:  "dianping_history.db",
			Limit:   50,
		},
		Booking: BookingConfig{
			APIBase:        "http://emagen.323424.xyz/api",
			TimeoutSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// fillProviderDefaults completes partially specified provider entries.
func fillProviderDefaults(cfg *Config) {
	for name, pc := range cfg.Providers {
		def, ok := providerDefaults[name]
		if !ok {
			def = ProviderConfig{MaxTokens: defaultMaxTokens, Temperature: Float(defaultTemperature)}
		}
		if pc.APIBase == "" {
			pc.APIBase = def.APIBase
		}
		if pc.Model == "" {
			pc.Model = def.Model
		}
		if pc.MaxTokens == 0 {
			pc.MaxTokens = def.MaxTokens
		}
		if pc.Temperature == nil {
			pc.Temperature = Float(*def.Temperature)
		}
		cfg.Providers[name] = pc
	}
}
