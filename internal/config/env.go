package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(ExpandPath(p)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment variables on cfg. Provider settings use the
// <NAME>_API_KEY, _MODEL, _BASE_URL, _MAX_TOKENS and _TEMPERATURE variables.
func ApplyEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name := range providerDefaults {
		if _, ok := cfg.Providers[name]; !ok {
			cfg.Providers[name] = ProviderConfig{}
		}
	}
	fillProviderDefaults(cfg)

	for name, pc := range cfg.Providers {
		prefix := strings.ToUpper(name) + "_"
		if v, ok := lookup(prefix + "API_KEY"); ok {
			pc.APIKey = v
		}
		if v, ok := lookup(prefix + "MODEL"); ok {
			pc.Model = v
		}
		if v, ok := lookup(prefix + "BASE_URL"); ok {
			pc.APIBase = strings.TrimRight(v, "/")
		}
		if v, ok := lookupInt(prefix + "MAX_TOKENS"); ok {
			pc.MaxTokens = v
		}
		if v, ok := lookupFloat(prefix + "TEMPERATURE"); ok {
			pc.Temperature = Float(v)
		}
		pc.APIBase = strings.TrimRight(pc.APIBase, "/")
		cfg.Providers[name] = pc
	}

	if v, ok := lookup("DEFAULT_PROVIDER"); ok {
		cfg.General.DefaultProvider = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.General.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("PROMPT_FILE"); ok {
		cfg.General.PromptFile = v
	}
	if v, ok := lookup("MAIL_CONFIG"); ok {
		cfg.General.MailFile = v
	}
	if v, ok := lookupInt("AI_TIMEOUT"); ok {
		cfg.General.TimeoutSeconds = v
	}
	if v, ok := lookupInt("AI_MAX_RETRIES"); ok {
		cfg.General.MaxRetries = v
	}
	if v, ok := lookup("WEBSOCKET_HOST"); ok {
		cfg.Relay.Host = v
	}
	if v, ok := lookupInt("WEBSOCKET_PORT"); ok {
		cfg.Relay.Port = v
	}
	if v, ok := lookup("HISTORY_BACKEND"); ok {
		cfg.History.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("HISTORY_DB_PATH"); ok {
		cfg.History.DBPath = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		cfg.History.RedisAddr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		cfg.History.RedisPassword = v
	}
	if v, ok := lookup("BOOKING_API_BASE"); ok {
		cfg.Booking.APIBase = strings.TrimRight(v, "/")
	}
	if v, ok := lookup("BOOKING_USERNAME"); ok {
		cfg.Booking.Username = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
