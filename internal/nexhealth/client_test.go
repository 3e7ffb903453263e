package nexhealth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
)

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) ObserveUpstream(operation, outcome string, _ time.Duration) {
	r.calls = append(r.calls, operation+":"+outcome)
}

func writeEnvelope(w http.ResponseWriter, status int, code bool, data any, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":        code,
		"description": description,
		"data":        data,
	})
}

func newTestServer(t *testing.T, authCount *int32, handler http.HandlerFunc) (*Client, *recordingObserver) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/authenticates" {
			if authCount != nil {
				atomic.AddInt32(authCount, 1)
			}
			assert.Equal(t, "test-key", r.Header.Get("Authorization"))
			writeEnvelope(w, http.StatusOK, true, map[string]any{"token": "tok-123"}, "")
			return
		}
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "v2", r.Header.Get("Nex-Api-Version"))
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	obs := &recordingObserver{}
	client, err := New(Config{BaseURL: server.URL, APIKey: "test-key", Observer: obs})
	require.NoError(t, err)
	return client, obs
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "https://nexhealth.info"})
	assert.Error(t, err)
}

func TestSearchPatientsReusesToken(t *testing.T) {
	var auths int32
	client, obs := newTestServer(t, &auths, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients", r.URL.Path)
		assert.Equal(t, "Jane Doe", r.URL.Query().Get("name"))
		assert.Equal(t, "42", r.URL.Query().Get("location_id"))
		writeEnvelope(w, http.StatusOK, true, map[string]any{
			"patients": []map[string]any{
				{"id": 1, "first_name": "Jane", "last_name": "Doe", "bio": map[string]any{"date_of_birth": "1990-01-01"}},
				{"id": 2, "first_name": "Jane", "last_name": "Doe", "bio": map[string]any{"date_of_birth": "1985-05-05"}},
			},
		}, "")
	})

	for i := 0; i < 2; i++ {
		patients, err := client.SearchPatients(context.Background(), "brightsmiles", 42, "Jane Doe")
		require.NoError(t, err)
		require.Len(t, patients, 2)
		assert.Equal(t, "Jane Doe", patients[0].FullName())
		assert.Equal(t, "1990-01-01", patients[0].Bio.DateOfBirth)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&auths))
	assert.Equal(t, []string{"search_patients:success", "search_patients:success"}, obs.calls)
}

func TestListAvailableSlotsQuery(t *testing.T) {
	client, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2025-03-03", q.Get("start_date"))
		assert.Equal(t, "14", q.Get("days"))
		assert.Equal(t, []string{"101", "102"}, q["pids[]"])
		assert.Equal(t, []string{"7"}, q["operatory_ids[]"])
		assert.Equal(t, "30", q.Get("slot_length"))
		writeEnvelope(w, http.StatusOK, true, []map[string]any{
			{"lid": 42, "pid": 101, "next_available_date": "2025-03-03", "slots": []map[string]any{
				{"time": "2025-03-03T09:00:00.000-06:00", "end_time": "2025-03-03T09:30:00.000-06:00", "operatory_id": 7},
			}},
		}, "")
	})

	groups, err := client.ListAvailableSlots(context.Background(), SlotQuery{
		Subdomain: "brightsmiles", LocationID: 42,
		ProviderIDs: []int{101, 102}, OperatoryIDs: []int{7},
		StartDate: "2025-03-03", Days: 14, SlotLengthMinutes: 30,
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 101, groups[0].ProviderID)
	assert.Equal(t, 7, groups[0].Slots[0].OperatoryID)
}

func TestHoldSlotConflictStatus(t *testing.T) {
	client, obs := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, false, nil, "Slot is no longer available")
	})

	_, err := client.HoldSlot(context.Background(), "brightsmiles", 42, HoldRequest{PatientID: 1, ProviderID: 101, StartTime: "2025-03-03T09:00:00-06:00", DurationMinutes: 30})
	require.Error(t, err)
	assert.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
	assert.Equal(t, []string{"hold_slot:slot_conflict"}, obs.calls)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestCreateAppointmentTakenMessageIsConflict(t *testing.T) {
	client, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "The requested time has already been taken")
	})

	_, err := client.CreateAppointment(context.Background(), "brightsmiles", 42, AppointmentRequest{PatientID: 1, ProviderID: 101})
	assert.Equal(t, apperr.KindSlotConflict, apperr.KindOf(err))
}

func TestCreateAppointmentSendsHold(t *testing.T) {
	client, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body appointmentBody
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, 55, body.Appt.HoldID)
		assert.Equal(t, 7, body.Appt.OperatoryID)
		writeEnvelope(w, http.StatusCreated, true, map[string]any{"appt": map[string]any{"id": 9001}}, "")
	})

	appt, err := client.CreateAppointment(context.Background(), "brightsmiles", 42, AppointmentRequest{
		PatientID: 1, ProviderID: 101, OperatoryID: 7, StartTime: "2025-03-03T09:00:00-06:00", HoldID: 55,
	})
	require.NoError(t, err)
	assert.Equal(t, 9001, appt.ID)
}

func TestServerErrorIsUpstream(t *testing.T) {
	client, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := client.HoldSlot(context.Background(), "brightsmiles", 42, HoldRequest{})
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestMalformedSuccessBodyIsUpstream(t *testing.T) {
	client, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := client.SearchPatients(context.Background(), "brightsmiles", 42, "Jane")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	var auths, calls int32
	client, _ := newTestServer(t, &auths, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeEnvelope(w, http.StatusUnauthorized, false, nil, "token expired")
			return
		}
		writeEnvelope(w, http.StatusOK, true, map[string]any{"user": map[string]any{"id": 77, "first_name": "Sam"}}, "")
	})

	p, err := client.CreatePatient(context.Background(), "brightsmiles", 42, 101, NewPatient{FirstName: "Sam", LastName: "Lee"})
	require.NoError(t, err)
	assert.Equal(t, 77, p.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&auths))
}
