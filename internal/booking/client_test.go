package booking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csbridge/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(Config{
		BaseURL: ts.URL + "/api",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestClient_Stores_BareArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/stores", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"name":"莘庄店","address":"上海"}]`))
	})

	stores, err := client.Stores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, ID("1"), stores[0].ID)
	assert.Equal(t, "莘庄店", stores[0].Name)
}

func TestClient_Stores_Wrapped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"stores":[{"id":"s-1","name":"总店"},{"id":2,"name":"分店"}]}`))
	})

	stores, err := client.Stores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, ID("s-1"), stores[0].ID)
	assert.Equal(t, ID("2"), stores[1].ID)
}

func TestClient_SearchTherapists_Query(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/therapists", r.URL.Path)
		assert.Equal(t, "query_schedule", q.Get("action"))
		assert.Equal(t, "莘庄店", q.Get("store_name"))
		assert.Empty(t, q.Get("therapist_name"))
		_, _ = w.Write([]byte(`{"therapists":[{"id":7,"name":"陈老师","phone":"13812345678","store_name":"莘庄店","specialties":["艾灸"]}]}`))
	})

	ts, err := client.SearchTherapists(context.Background(), TherapistQuery{StoreName: " 莘庄店 "})
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "13812345678", ts[0].Phone)
	assert.Equal(t, []string{"艾灸"}, ts[0].Specialties)
}

func TestClient_Schedule(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "7", q.Get("technician_id"))
		assert.Equal(t, "2025-06-16", q.Get("start_date"))
		assert.Equal(t, "2025-06-18", q.Get("end_date"))
		_, _ = w.Write([]byte(`{"schedules":[{"date":"2025-06-16","start":"10:00"}]}`))
	})

	entries, err := client.Schedule(context.Background(), "7", "2025-06-16", "2025-06-18")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10:00", entries[0]["start"])
}

func TestClient_Availability_SlotsAndTimes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "query_available", q.Get("action"))
		if q.Get("therapist_id") == "1" {
			_, _ = w.Write([]byte(`{"available_times":["10:00","11:00"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"available_slots":[{"time":"14:00","therapist_id":2}]}`))
	})

	slots, err := client.Availability(context.Background(), "2025-06-16", "")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "14:00", slots[0]["time"])

	slots, err = client.Availability(context.Background(), "2025-06-16", "1")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "11:00", slots[1]["time"])
}

func TestClient_CreateAppointment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1), body["therapist_id"])
		assert.Equal(t, "14:00", body["appointment_time"])
		assert.NotContains(t, body, "notes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"appointment":{"id":42,"status":"confirmed"}}`))
	})

	appt, err := client.CreateAppointment(context.Background(), AppointmentRequest{
		Username:        "U1",
		CustomerName:    "测试客户",
		CustomerPhone:   "13800138000",
		TherapistID:     "1",
		AppointmentDate: "2025-06-16",
		AppointmentTime: "14:00",
	})
	require.NoError(t, err)
	assert.Equal(t, ID("42"), appt.ID)
	assert.Equal(t, "confirmed", appt.Status)
}

func TestClient_GetAppointment_Unwrapped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/appointments/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":42,"customer_name":"张三"}`))
	})

	appt, err := client.GetAppointment(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "张三", appt.CustomerName)
}

func TestClient_UserAppointmentsAndCancel(t *testing.T) {
	var cancelled atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/appointments/user/U1":
			_, _ = w.Write([]byte(`{"appointments":[{"id":1},{"id":2}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/appointments/2":
			assert.Equal(t, "U1", r.URL.Query().Get("username"))
			cancelled.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	appts, err := client.UserAppointments(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, appts, 2)

	require.NoError(t, client.CancelAppointment(context.Background(), "2", "U1"))
	assert.True(t, cancelled.Load())
}

func TestClient_HTTPErrorIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream failed", http.StatusBadGateway)
	})

	_, err := client.Stores(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Body, "upstream failed")
}

func TestClient_FindTherapist(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`[{"id":1,"name":"李技师","phone":"13812345678"},{"id":"2","name":"王技师"}]`))
	})

	th, err := client.FindTherapist(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "王技师", th.Name)

	_, err = client.FindTherapist(context.Background(), "9")
	assert.ErrorIs(t, err, domain.ErrTherapistNotFound)
}

func TestID_MarshalRoundTrip(t *testing.T) {
	b, err := json.Marshal(struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}{A: "12", B: "x-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":12,"b":"x-1"}`, string(b))
}
