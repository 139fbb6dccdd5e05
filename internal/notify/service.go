package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"csbridge/internal/booking"
	"csbridge/internal/domain"
	"csbridge/internal/metrics"
)

const (
	KindCustomer  = "customer_confirmation"
	KindTherapist = "therapist_notification"
)

// TherapistDirectory resolves a therapist by id.
type TherapistDirectory interface {
	FindTherapist(ctx context.Context, id string) (*booking.Therapist, error)
}

// Outcome is the result of one notification email.
type Outcome struct {
	Kind          string `json:"type"`
	Success       bool   `json:"success"`
	Recipient     string `json:"recipient_email,omitempty"`
	TherapistName string `json:"therapist_name,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	Message       string `json:"message"`
	Error         string `json:"error,omitempty"`
	Err           error  `json:"-"`
}

type Summary struct {
	Total      int `json:"total_emails"`
	Successful int `json:"successful_emails"`
	Failed     int `json:"failed_emails"`
}

// BothOutcome reports the customer and therapist sends, in that order.
type BothOutcome struct {
	OverallSuccess bool       `json:"success"`
	Message        string     `json:"message"`
	Details        [2]Outcome `json:"details"`
	Summary        Summary    `json:"summary"`
}

// Service renders and sends appointment notification emails.
type Service struct {
	sender        domain.MailSender
	directory     TherapistDirectory
	addressDomain string
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

type ServiceConfig struct {
	Sender        domain.MailSender
	Directory     TherapistDirectory
	AddressDomain string
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	// Now stamps rendered mails; defaults to time.Now.
	Now func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AddressDomain == "" {
		cfg.AddressDomain = DefaultAddressDomain
	}
	return &Service{
		sender:        cfg.Sender,
		directory:     cfg.Directory,
		addressDomain: cfg.AddressDomain,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// SendCustomerConfirmation mails the booking confirmation to the customer's
// phone-derived address.
func (s *Service) SendCustomerConfirmation(ctx context.Context, info domain.AppointmentInfo) Outcome {
	out := Outcome{Kind: KindCustomer}

	addr, err := s.address(info.CustomerPhone, "customer phone")
	if err != nil {
		return s.fail(out, err, "无效的客户邮箱地址")
	}
	out.Recipient = addr

	subject, body := CustomerConfirmation(info, s.now())
	return s.send(ctx, out, domain.Mail{To: addr, ToName: orDefault(info.CustomerName, "客户"), Subject: subject, Body: body})
}

// SendTherapistNotification looks up the therapist, fills in their name and
// store, and mails them the new booking.
func (s *Service) SendTherapistNotification(ctx context.Context, info domain.AppointmentInfo) Outcome {
	out := Outcome{Kind: KindTherapist}

	if strings.TrimSpace(info.TherapistID) == "" {
		return s.fail(out, errors.New("therapist id is empty"), "缺少技师ID")
	}
	if s.directory == nil {
		return s.fail(out, fmt.Errorf("no therapist directory: %w", domain.ErrTherapistNotFound), "技师信息未找到")
	}
	therapist, err := s.directory.FindTherapist(ctx, info.TherapistID)
	if err != nil {
		if errors.Is(err, domain.ErrTherapistNotFound) {
			return s.fail(out, err, "技师信息未找到")
		}
		return s.fail(out, err, "技师信息查询失败")
	}
	out.TherapistName = therapist.Name

	if strings.TrimSpace(therapist.Phone) == "" {
		return s.fail(out, &domain.EmailAddressInvalidError{Reason: "therapist phone is empty"}, "技师电话号码缺失")
	}
	addr, err := s.address(therapist.Phone, "therapist phone")
	if err != nil {
		return s.fail(out, err, "无效的技师邮箱地址")
	}
	out.Recipient = addr

	info.TherapistName = orDefault(therapist.Name, "技师")
	info.StoreName = orDefault(therapist.StoreName, "门店")

	subject, body := TherapistNotification(info, s.now())
	return s.send(ctx, out, domain.Mail{To: addr, ToName: info.TherapistName, Subject: subject, Body: body})
}

// SendBoth attempts both mails regardless of the first one's result.
func (s *Service) SendBoth(ctx context.Context, info domain.AppointmentInfo) BothOutcome {
	s.logger.Info("sending appointment emails", "customer", info.CustomerName, "therapist_id", info.TherapistID)

	var res BothOutcome
	res.Details[0] = s.SendCustomerConfirmation(ctx, info)
	res.Details[1] = s.SendTherapistNotification(ctx, info)

	res.Summary.Total = len(res.Details)
	for _, d := range res.Details {
		if d.Success {
			res.Summary.Successful++
		}
	}
	res.Summary.Failed = res.Summary.Total - res.Summary.Successful
	res.OverallSuccess = res.Summary.Failed == 0

	res.Message = fmt.Sprintf("邮件发送完成: %d/%d 成功", res.Summary.Successful, res.Summary.Total)
	if res.OverallSuccess {
		res.Message += " - 所有邮件发送成功"
	} else {
		res.Message += " - 部分邮件发送失败"
	}
	s.logger.Info(res.Message)
	return res
}

func (s *Service) address(phone, what string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", &domain.EmailAddressInvalidError{Reason: what + " is empty"}
	}
	addr := DeriveEmailAt(phone, s.addressDomain)
	if !IsValidEmail(addr) {
		return "", &domain.EmailAddressInvalidError{Address: addr, Reason: "malformed address"}
	}
	return addr, nil
}

func (s *Service) send(ctx context.Context, out Outcome, m domain.Mail) Outcome {
	if s.sender == nil {
		return s.fail(out, errors.New("no mail sender configured"), "邮件发送失败")
	}
	res, err := s.sender.Send(ctx, m)
	if err != nil {
		return s.fail(out, err, "邮件发送失败")
	}
	if !res.Delivered {
		return s.fail(out, fmt.Errorf("mail not accepted: %s", res.Detail), "邮件发送失败")
	}
	out.Success = true
	out.MessageID = res.MessageID
	out.Message = "邮件已发送至 " + m.To
	s.metrics.ObserveEmail(out.Kind, "sent")
	s.logger.Info("notification email sent", "type", out.Kind, "to", m.To)
	return out
}

func (s *Service) fail(out Outcome, err error, msg string) Outcome {
	out.Success = false
	out.Err = err
	out.Error = err.Error()
	out.Message = msg
	s.metrics.ObserveEmail(out.Kind, "failed")
	s.logger.Warn("notification email failed", "type", out.Kind, "error", err)
	return out
}
