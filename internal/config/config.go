package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Provider names known to the bridge, in default priority order.
const (
	ProviderOpenAI   = "openai"
	ProviderZhipu    = "zhipu"
	ProviderDeepSeek = "deepseek"
)

// Config is the root configuration for csbridge.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Relay     RelayConfig               `json:"relay"`
	History   HistoryConfig             `json:"history"`
	Booking   BookingConfig             `json:"booking"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel         string   `json:"logLevel"`
	DefaultProvider  string   `json:"defaultProvider,omitempty"`
	ProviderPriority []string `json:"providerPriority"`
	MemoryLimit      int      `json:"memoryLimit"`
	HistoryTurns     int      `json:"historyTurns"`
	TimeoutSeconds   int      `json:"timeoutSeconds"`
	MaxRetries       int      `json:"maxRetries"`
	PromptFile       string   `json:"promptFile,omitempty"` // YAML prompt template; built-in default when empty
	MailFile         string   `json:"mailFile,omitempty"`   // TOML mail settings
}

// ProviderConfig holds credentials and sampling parameters for one provider.
// A provider without an API key is not part of the provider set.
type ProviderConfig struct {
	APIKey      string   `json:"apiKey,omitempty"`
	APIBase     string   `json:"apiBase,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"` // nil takes the default; an explicit 0 is kept
}

// Configured reports whether the provider has credentials.
func (pc ProviderConfig) Configured() bool {
	return strings.TrimSpace(pc.APIKey) != ""
}

type RelayConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Path          string `json:"path"`
	DefaultChatID string `json:"defaultChatId"` // chat for connections without ?chat_id=
}

type HistoryConfig struct {
	Backend       string `json:"backend"` // "sqlite" | "redis"
	DBPath        string `json:"dbPath"`
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty"`
	Limit         int    `json:"limit"`
}

type BookingConfig struct {
	APIBase        string `json:"apiBase"`
	Username       string `json:"username,omitempty"` // account used when the model omits one
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.csbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".csbridge"
	}
	return filepath.Join(home, ".csbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON config file, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// FromEnv builds a config from defaults and the process environment only.
func FromEnv() (*Config, error) {
	return finish(Defaults())
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.PromptFile = ExpandPath(cfg.General.PromptFile)
	cfg.General.MailFile = ExpandPath(cfg.General.MailFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ConfiguredProviders returns the names of providers with credentials, in
// priority order. Providers outside the priority list follow in name order.
func (c *Config) ConfiguredProviders() []string {
	seen := make(map[string]bool, len(c.Providers))
	var out []string
	for _, name := range c.General.ProviderPriority {
		if pc, ok := c.Providers[name]; ok && pc.Configured() && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name, pc := range c.Providers {
		if !seen[name] && pc.Configured() {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MemoryLimit < 1 {
		errs = append(errs, "general.memoryLimit must be >= 1")
	}
	if cfg.General.HistoryTurns < 1 {
		errs = append(errs, "general.historyTurns must be >= 1")
	}
	if cfg.General.TimeoutSeconds < 1 {
		errs = append(errs, "general.timeoutSeconds must be >= 1")
	}
	if cfg.General.MaxRetries < 1 || cfg.General.MaxRetries > 10 {
		errs = append(errs, "general.maxRetries must be between 1 and 10")
	}
	for _, name := range cfg.General.ProviderPriority {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.providerPriority references unknown provider: %s", name))
		}
	}
	if p := cfg.General.DefaultProvider; p != "" {
		if _, ok := cfg.Providers[p]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", p))
		}
	}

	for name, pc := range cfg.Providers {
		if !pc.Configured() {
			continue
		}
		if pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
		if pc.MaxTokens < 1 {
			errs = append(errs, fmt.Sprintf("providers.%s: maxTokens must be >= 1", name))
		}
		if t := pc.Temperature; t != nil && (*t < 0 || *t > 2) {
			errs = append(errs, fmt.Sprintf("providers.%s: temperature must be between 0 and 2", name))
		}
	}

	if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
		errs = append(errs, "relay.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Relay.Path, "/") {
		errs = append(errs, "relay.path must start with /")
	}

	switch cfg.History.Backend {
	case "sqlite":
		if cfg.History.DBPath == "" {
			errs = append(errs, "history.dbPath is required for the sqlite backend")
		}
	case "redis":
		if cfg.History.RedisAddr == "" {
			errs = append(errs, "history.redisAddr is required for the redis backend")
		}
	default:
		errs = append(errs, "history.backend must be one of: sqlite, redis")
	}
	if cfg.History.Limit < 1 {
		errs = append(errs, "history.limit must be >= 1")
	}

	if cfg.Booking.APIBase == "" {
		errs = append(errs, "booking.apiBase is required")
	}
	if cfg.Booking.TimeoutSeconds < 1 {
		errs = append(errs, "booking.timeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
