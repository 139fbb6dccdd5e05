package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"csbridge/internal/domain"
)

const (
	DefaultBaseURL = "http://emagen.323424.xyz/api"
	defaultTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the booking API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("booking API %s %s returned %d: %s", e.Method, e.Path, e.Status, domain.Excerpt(e.Body, 300))
}

// Client wraps the store, therapist and appointment endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		httpClient: cfg.Client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     cfg.Logger,
	}
}

// Stores lists all stores.
func (c *Client) Stores(ctx context.Context) ([]Store, error) {
	var stores []Store
	if err := c.getList(ctx, "/stores", nil, "stores", &stores); err != nil {
		return nil, fmt.Errorf("get stores: %w", err)
	}
	return stores, nil
}

// SearchTherapists finds therapists by name, store or service type.
func (c *Client) SearchTherapists(ctx context.Context, q TherapistQuery) ([]Therapist, error) {
	params := url.Values{}
	setIf(params, "therapist_name", q.TherapistName)
	setIf(params, "store_name", q.StoreName)
	setIf(params, "service_type", q.ServiceType)
	if len(params) > 0 {
		params.Set("action", "query_schedule")
	}

	var therapists []Therapist
	if err := c.getList(ctx, "/therapists", params, "therapists", &therapists); err != nil {
		return nil, fmt.Errorf("search therapists: %w", err)
	}
	return therapists, nil
}

// Schedule returns a therapist's calendar between two YYYY-MM-DD dates.
func (c *Client) Schedule(ctx context.Context, therapistID, startDate, endDate string) ([]ScheduleEntry, error) {
	params := url.Values{}
	params.Set("action", "query_schedule")
	params.Set("technician_id", therapistID)
	params.Set("start_date", startDate)
	params.Set("end_date", endDate)

	var entries []ScheduleEntry
	if err := c.getList(ctx, "/therapists", params, "schedules", &entries); err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return entries, nil
}

// Availability returns open slots on date, optionally for one therapist.
func (c *Client) Availability(ctx context.Context, date, therapistID string) ([]Slot, error) {
	params := url.Values{}
	params.Set("action", "query_available")
	params.Set("date", date)
	setIf(params, "therapist_id", therapistID)

	var wrapped struct {
		AvailableSlots []Slot   `json:"available_slots"`
		AvailableTimes []string `json:"available_times"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/appointments", params, nil, &wrapped); err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	if len(wrapped.AvailableSlots) > 0 || len(wrapped.AvailableTimes) == 0 {
		return wrapped.AvailableSlots, nil
	}
	slots := make([]Slot, 0, len(wrapped.AvailableTimes))
	for _, t := range wrapped.AvailableTimes {
		slots = append(slots, Slot{"time": t})
	}
	return slots, nil
}

// CreateAppointment books an appointment.
func (c *Client) CreateAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/appointments", nil, req, &raw); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	appt, err := decodeAppointment(raw)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return appt, nil
}

// GetAppointment fetches one appointment by id.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	appt, err := decodeAppointment(raw)
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return appt, nil
}

// UserAppointments lists the appointments booked under username.
func (c *Client) UserAppointments(ctx context.Context, username string) ([]Appointment, error) {
	var appts []Appointment
	if err := c.getList(ctx, "/appointments/user/"+url.PathEscape(username), nil, "appointments", &appts); err != nil {
		return nil, fmt.Errorf("get user appointments: %w", err)
	}
	return appts, nil
}

// CancelAppointment cancels an appointment owned by username.
func (c *Client) CancelAppointment(ctx context.Context, id, username string) error {
	params := url.Values{}
	params.Set("username", username)
	if err := c.doJSON(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(id), params, nil, nil); err != nil {
		return fmt.Errorf("cancel appointment %s: %w", id, err)
	}
	return nil
}

// FindTherapist searches all therapists and returns the one with id.
func (c *Client) FindTherapist(ctx context.Context, id string) (*Therapist, error) {
	therapists, err := c.SearchTherapists(ctx, TherapistQuery{})
	if err != nil {
		return nil, err
	}
	for i := range therapists {
		if therapists[i].ID.String() == id {
			return &therapists[i], nil
		}
	}
	return nil, fmt.Errorf("therapist %s: %w", id, domain.ErrTherapistNotFound)
}

func setIf(v url.Values, key, val string) {
	if strings.TrimSpace(val) != "" {
		v.Set(key, strings.TrimSpace(val))
	}
}

// getList decodes either a bare JSON array or an object carrying the array
// under key.
func (c *Client) getList(ctx context.Context, path string, params url.Values, key string, out any) error {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, params, nil, &raw); err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	inner, ok := wrapped[key]
	if !ok || bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func decodeAppointment(raw json.RawMessage) (*Appointment, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Appointment{}, nil
	}
	var wrapped struct {
		Appointment *Appointment `json:"appointment"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wrapped.Appointment != nil {
		return wrapped.Appointment, nil
	}
	var appt Appointment
	if err := json.Unmarshal(raw, &appt); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &appt, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("booking API non-2xx response", "method", method, "path", path,
			"status", resp.StatusCode, "body", domain.Excerpt(string(respBody), 200))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
