package notify

import (
	"fmt"
	"log/slog"
	"time"

	"csbridge/internal/config"
	"csbridge/internal/domain"
)

// Delivers reports whether cfg names a transport that actually sends mail.
func Delivers(cfg config.EmailConfig) bool {
	return cfg.Provider != "" && cfg.Provider != "stub"
}

// NewSender builds the mail transport named by cfg.Provider.
func NewSender(cfg config.EmailConfig, logger *slog.Logger) (domain.MailSender, error) {
	switch cfg.Provider {
	case "", "stub":
		return NewStubSender(logger), nil
	case "smtp":
		sec := SecurityForPort(cfg.SMTPPort)
		if !cfg.UseTLS {
			sec = SecurityPlain
		}
		return NewSMTPSender(SMTPConfig{
			Host:        cfg.SMTPServer,
			Port:        cfg.SMTPPort,
			Security:    sec,
			SenderEmail: cfg.SenderEmail,
			Password:    cfg.SenderPassword,
			SenderName:  cfg.SenderName,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, logger), nil
	case "sendgrid":
		s := NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SenderEmail,
			FromName:  cfg.SenderName,
		}, logger)
		if s == nil {
			return nil, fmt.Errorf("sendgrid provider needs an API key")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown mail provider: %s", cfg.Provider)
	}
}
