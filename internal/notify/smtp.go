package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"csbridge/internal/domain"
)

// Security selects how the SMTP connection is protected.
type Security string

const (
	SecurityImplicitTLS Security = "ssl"
	SecurityStartTLS    Security = "starttls"
	SecurityPlain       Security = "plain"
)

// SecurityForPort returns implicit TLS for 465, STARTTLS for 587 and plain
// otherwise.
func SecurityForPort(port int) Security {
	switch port {
	case 465:
		return SecurityImplicitTLS
	case 587:
		return SecurityStartTLS
	default:
		return SecurityPlain
	}
}

type SMTPConfig struct {
	Host        string
	Port        int
	Security    Security // derived from Port when empty
	SenderEmail string
	Password    string
	SenderName  string
	Timeout     time.Duration
	TLSConfig   *tls.Config
}

// SMTPSender delivers mail over SMTP, one connection per message.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Security == "" {
		cfg.Security = SecurityForPort(cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SenderName == "" {
		cfg.SenderName = "系统发件人"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, msg domain.Mail) (domain.SendResult, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return domain.SendResult{}, fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.cfg.Security == SecurityStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return domain.SendResult{}, errors.New("smtp server does not support STARTTLS")
		}
		if err := c.StartTLS(s.tlsConfig()); err != nil {
			return domain.SendResult{}, fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if s.cfg.Password != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.SenderEmail, s.cfg.Password, s.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return domain.SendResult{}, fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	id := messageID(s.cfg.SenderEmail)
	data := buildMessage(s.cfg.SenderName, s.cfg.SenderEmail, msg, id, time.Now())

	if err := c.Mail(s.cfg.SenderEmail); err != nil {
		return domain.SendResult{}, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		// Rejected recipients are reported as undelivered.
		return domain.SendResult{Delivered: false, Detail: err.Error()}, nil
	}
	w, err := c.Data()
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return domain.SendResult{}, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return domain.SendResult{Delivered: false, Detail: err.Error()}, nil
	}
	_ = c.Quit()

	s.logger.Info("email sent via smtp", "to", msg.To, "subject", msg.Subject, "host", s.cfg.Host)
	return domain.SendResult{Delivered: true, MessageID: id, Detail: "queued"}, nil
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	if s.cfg.Security == SecurityImplicitTLS {
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig()}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.cfg.TLSConfig != nil {
		return s.cfg.TLSConfig
	}
	return &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
}

func messageID(sender string) string {
	host := "csbridge.local"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		host = sender[at+1:]
	}
	return "<" + uuid.NewString() + "@" + host + ">"
}

// buildMessage renders a UTF-8 plain-text message with a base64 body.
func buildMessage(fromName, fromEmail string, msg domain.Mail, id string, now time.Time) []byte {
	toName := msg.ToName
	if toName == "" {
		toName = "用户"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", (&mail.Address{Name: fromName, Address: fromEmail}).String())
	fmt.Fprintf(&b, "To: %s\r\n", (&mail.Address{Name: toName, Address: msg.To}).String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.Body))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.Bytes()
}
