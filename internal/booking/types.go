package booking

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID is an identifier the booking API sends as either a number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers so the API sees what it sent.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

type Store struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Hours   string `json:"business_hours,omitempty"`
}

type Therapist struct {
	ID          ID       `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	StoreName   string   `json:"store_name,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}

// TherapistQuery filters a therapist search. Empty fields are omitted.
type TherapistQuery struct {
	TherapistName string `json:"therapist_name,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
	ServiceType   string `json:"service_type,omitempty"`
}

// ScheduleEntry is one shift or booked slot on a therapist's calendar. The
// API's fields vary, so entries are kept as decoded JSON objects.
type ScheduleEntry map[string]any

// Slot is an available appointment time.
type Slot map[string]any

type AppointmentRequest struct {
	Username        string `json:"username"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	TherapistID     ID     `json:"therapist_id"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	ServiceType     string `json:"service_type,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type Appointment struct {
	ID              ID     `json:"id"`
	Username        string `json:"username,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	TherapistID     ID     `json:"therapist_id,omitempty"`
	TherapistName   string `json:"therapist_name,omitempty"`
	StoreName       string `json:"store_name,omitempty"`
	AppointmentDate string `json:"appointment_date,omitempty"`
	AppointmentTime string `json:"appointment_time,omitempty"`
	ServiceType     string `json:"service_type,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Status          string `json:"status,omitempty"`
}
