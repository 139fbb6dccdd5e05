package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"csbridge/internal/domain"
)

const defaultSendGridHost = "https://api.sendgrid.com"

// SendGridSender sends mail through the SendGrid v3 API.
type SendGridSender struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	logger    *slog.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the API host.
	Host string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *slog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "系统发件人"
	}
	if cfg.Host == "" {
		cfg.Host = defaultSendGridHost
	}
	return &SendGridSender{
		apiKey:    cfg.APIKey,
		host:      cfg.Host,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg domain.Mail) (domain.SendResult, error) {
	if s == nil || s.apiKey == "" {
		return domain.SendResult{}, fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = msg.Subject
	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", msg.Body))

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return domain.SendResult{}, fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", domain.Excerpt(response.Body, 200), "to", msg.To)
		return domain.SendResult{
			Delivered: false,
			Detail:    fmt.Sprintf("sendgrid returned status %d", response.StatusCode),
		}, nil
	}

	var id string
	if v := response.Headers["X-Message-Id"]; len(v) > 0 {
		id = v[0]
	}
	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return domain.SendResult{Delivered: true, MessageID: id, Detail: fmt.Sprintf("status %d", response.StatusCode)}, nil
}

// StubSender logs mail instead of sending it. Nothing leaves the process, so
// every send is reported as not delivered.
type StubSender struct {
	logger *slog.Logger
}

// StubDetail is the SendResult detail of every stub send.
const StubDetail = "stub sender: not delivered"

func NewStubSender(logger *slog.Logger) *StubSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubSender{logger: logger}
}

func (s *StubSender) Send(ctx context.Context, msg domain.Mail) (domain.SendResult, error) {
	s.logger.Warn("stub email sender: mail not sent", "to", msg.To, "subject", msg.Subject)
	return domain.SendResult{Delivered: false, Detail: StubDetail}, nil
}
