package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// MailConfig mirrors the [email] table of mail.toml.
type MailConfig struct {
	Email EmailConfig `toml:"email"`
}

type EmailConfig struct {
	Provider       string `toml:"provider"` // "smtp" | "sendgrid" | "stub"
	SMTPServer     string `toml:"smtp_server"`
	SMTPPort       int    `toml:"smtp_port"`
	SenderEmail    string `toml:"sender_email"`
	SenderPassword string `toml:"sender_password"`
	SenderName     string `toml:"sender_name"`
	UseTLS         bool   `toml:"use_tls"`
	TimeoutSeconds int    `toml:"timeout"`
	SendGridAPIKey string `toml:"sendgrid_api_key"`
	AddressDomain  string `toml:"address_domain"`
}

func DefaultMailConfig() *MailConfig {
	return &MailConfig{Email: EmailConfig{
		Provider:       "stub",
		SMTPServer:     "smtp.163.com",
		SMTPPort:       465,
		SenderName:     "系统发件人",
		UseTLS:         true,
		TimeoutSeconds: 15,
		AddressDomain:  "163.com",
	}}
}

// LoadMail reads mail settings from a TOML file. An empty path yields the
// defaults, which use the stub sender. SMTP_PASSWORD and SENDGRID_API_KEY
// override the file so secrets can stay out of it.
func LoadMail(path string) (*MailConfig, error) {
	cfg := DefaultMailConfig()
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("cannot read mail config %s: %w", path, err)
		}
		if _, err := toml.Decode(ExpandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("cannot parse mail config %s: %w", path, err)
		}
	}
	if v, ok := lookup("SMTP_PASSWORD"); ok {
		cfg.Email.SenderPassword = v
	}
	if v, ok := lookup("SENDGRID_API_KEY"); ok {
		cfg.Email.SendGridAPIKey = v
	}
	cfg.Email.Provider = strings.ToLower(cfg.Email.Provider)
	if err := ValidateMail(cfg); err != nil {
		return nil, fmt.Errorf("mail config validation: %w", err)
	}
	return cfg, nil
}

func ValidateMail(cfg *MailConfig) error {
	var errs []string
	e := cfg.Email
	switch e.Provider {
	case "stub":
	case "smtp":
		if e.SMTPServer == "" {
			errs = append(errs, "email.smtp_server is required")
		}
		switch e.SMTPPort {
		case 25, 465, 587:
		default:
			errs = append(errs, "email.smtp_port must be one of: 25, 465, 587")
		}
		if e.SenderEmail == "" || e.SenderPassword == "" {
			errs = append(errs, "email.sender_email and email.sender_password are required")
		}
	case "sendgrid":
		if e.SendGridAPIKey == "" {
			errs = append(errs, "email.sendgrid_api_key is required")
		}
		if e.SenderEmail == "" {
			errs = append(errs, "email.sender_email is required")
		}
	default:
		errs = append(errs, "email.provider must be one of: smtp, sendgrid, stub")
	}
	if e.TimeoutSeconds < 1 {
		errs = append(errs, "email.timeout must be >= 1")
	}
	if e.AddressDomain == "" {
		errs = append(errs, "email.address_domain is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
