package domain

import "context"

// AppointmentInfo is the transient appointment record handed to the
// notification service. TherapistName and StoreName are filled in from the
// booking API when available.
type AppointmentInfo struct {
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	TherapistID     string `json:"therapist_id"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	ServiceType     string `json:"service_type,omitempty"`
	Notes           string `json:"notes,omitempty"`
	TherapistName   string `json:"therapist_name,omitempty"`
	StoreName       string `json:"store_name,omitempty"`
}

// Mail is one outbound email.
type Mail struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// SendResult is the typed outcome of a mail send.
type SendResult struct {
	Delivered bool
	MessageID string
	Detail    string
}

// MailSender delivers a single email. A transport failure is returned as an
// error; a rejected message is reported with Delivered=false.
type MailSender interface {
	Send(ctx context.Context, m Mail) (SendResult, error)
}
