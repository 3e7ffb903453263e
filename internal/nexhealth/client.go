// Package nexhealth is a thin client for the NexHealth practice-management API:
// patient search/create, slot availability, slot holds and appointments.
package nexhealth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/dental-scheduling-assistant/internal/apperr"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

const (
	apiVersion       = "v2"
	defaultTokenLife = time.Hour
)

// Observer receives per-call latency and outcome. The metrics package implements it.
type Observer interface {
	ObserveUpstream(operation, outcome string, d time.Duration)
}

// Config holds configuration for the NexHealth client.
type Config struct {
	BaseURL    string // e.g., "https://nexhealth.info"
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
	Logger     *logging.Logger
}

// Client talks to NexHealth. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   Observer
	logger     *logging.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// New creates a new NexHealth client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nexhealth: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("nexhealth: APIKey is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		observer:   cfg.Observer,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SearchPatients finds patients by name at a location.
// NexHealth: GET /patients?subdomain=&location_id=&name=
func (c *Client) SearchPatients(ctx context.Context, subdomain string, locationID int, name string) ([]Patient, error) {
	params := url.Values{}
	params.Set("subdomain", subdomain)
	params.Set("location_id", strconv.Itoa(locationID))
	params.Set("name", name)
	params.Set("per_page", "50")

	var data struct {
		Patients []Patient `json:"patients"`
	}
	if err := c.do(ctx, "search_patients", http.MethodGet, "/patients", params, nil, &data, false); err != nil {
		return nil, err
	}
	return data.Patients, nil
}

// CreatePatient registers a new patient under a provider at a location.
// NexHealth: POST /patients
func (c *Client) CreatePatient(ctx context.Context, subdomain string, locationID, providerID int, p NewPatient) (*Patient, error) {
	params := url.Values{}
	params.Set("subdomain", subdomain)
	params.Set("location_id", strconv.Itoa(locationID))

	var body createPatientBody
	body.Provider.ProviderID = providerID
	body.Patient.FirstName = p.FirstName
	body.Patient.LastName = p.LastName
	body.Patient.Email = p.Email
	body.Patient.Bio = PatientBio{
		DateOfBirth:     p.DateOfBirth,
		PhoneNumber:     p.Phone,
		CellPhoneNumber: p.Phone,
		InsuranceName:   p.InsuranceName,
	}

	var data struct {
		User Patient `json:"user"`
	}
	if err := c.do(ctx, "create_patient", http.MethodPost, "/patients", params, body, &data, false); err != nil {
		return nil, err
	}
	if data.User.ID == 0 {
		return nil, apperr.Upstream(nil, "create patient: response missing patient id")
	}
	return &data.User, nil
}

// ListAvailableSlots returns open slots grouped per provider.
// NexHealth: GET /appointment_slots
func (c *Client) ListAvailableSlots(ctx context.Context, q SlotQuery) ([]SlotGroup, error) {
	params := url.Values{}
	params.Set("subdomain", q.Subdomain)
	params.Set("start_date", q.StartDate)
	params.Set("days", strconv.Itoa(q.Days))
	params.Add("lids[]", strconv.Itoa(q.LocationID))
	for _, id := range q.ProviderIDs {
		params.Add("pids[]", strconv.Itoa(id))
	}
	for _, id := range q.OperatoryIDs {
		params.Add("operatory_ids[]", strconv.Itoa(id))
	}
	if q.SlotLengthMinutes > 0 {
		params.Set("slot_length", strconv.Itoa(q.SlotLengthMinutes))
	}
	params.Set("overlapping_operatory_slots", "false")

	var groups []SlotGroup
	if err := c.do(ctx, "list_slots", http.MethodGet, "/appointment_slots", params, nil, &groups, false); err != nil {
		return nil, err
	}
	return groups, nil
}

// HoldSlot places a temporary hold on a slot for a patient.
// NexHealth: POST /appointment_slot_holds
func (c *Client) HoldSlot(ctx context.Context, subdomain string, locationID int, req HoldRequest) (*Hold, error) {
	params := url.Values{}
	params.Set("subdomain", subdomain)
	params.Set("location_id", strconv.Itoa(locationID))

	var body holdBody
	body.AppointmentSlotHold.PatientID = req.PatientID
	body.AppointmentSlotHold.ProviderID = req.ProviderID
	body.AppointmentSlotHold.OperatoryID = req.OperatoryID
	body.AppointmentSlotHold.StartTime = req.StartTime
	body.AppointmentSlotHold.Duration = req.DurationMinutes

	var hold Hold
	if err := c.do(ctx, "hold_slot", http.MethodPost, "/appointment_slot_holds", params, body, &hold, true); err != nil {
		return nil, err
	}
	if hold.ID == 0 {
		return nil, apperr.Upstream(nil, "hold slot: response missing hold id")
	}
	return &hold, nil
}

// CreateAppointment books the appointment.
// NexHealth: POST /appointments
func (c *Client) CreateAppointment(ctx context.Context, subdomain string, locationID int, req AppointmentRequest) (*Appointment, error) {
	params := url.Values{}
	params.Set("subdomain", subdomain)
	params.Set("location_id", strconv.Itoa(locationID))
	params.Set("notify_patient", "false")

	var body appointmentBody
	body.Appt.PatientID = req.PatientID
	body.Appt.ProviderID = req.ProviderID
	body.Appt.OperatoryID = req.OperatoryID
	body.Appt.StartTime = req.StartTime
	body.Appt.EndTime = req.EndTime
	body.Appt.Note = req.Note
	body.Appt.HoldID = req.HoldID

	var data struct {
		Appt Appointment `json:"appt"`
	}
	if err := c.do(ctx, "create_appointment", http.MethodPost, "/appointments", params, body, &data, true); err != nil {
		return nil, err
	}
	if data.Appt.ID == 0 {
		return nil, apperr.Upstream(nil, "create appointment: response missing appointment id")
	}
	return &data.Appt, nil
}

// do performs an authenticated request and decodes the envelope's data into out.
// slotOp marks hold/appointment calls, where rejections are slot conflicts.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body any, out any, slotOp bool) (err error) {
	start := time.Now()
	defer func() {
		c.observe(op, err, time.Since(start))
	}()

	for attempt := 0; attempt < 2; attempt++ {
		token, authErr := c.ensureAuthenticated(ctx)
		if authErr != nil {
			return apperr.Upstream(authErr, "%s: authenticate", op)
		}

		status, env, reqErr := c.send(ctx, method, path, params, body, token)
		if reqErr != nil {
			return apperr.Upstream(reqErr, "%s", op)
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.invalidateToken()
			continue
		}
		if status < 200 || status > 299 || !env.Code {
			return classify(op, status, env.message(), slotOp)
		}
		if out == nil {
			return nil
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return apperr.Upstream(nil, "%s: empty response data", op)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperr.Upstream(err, "%s: decode response", op)
		}
		return nil
	}
	return apperr.Upstream(&APIError{Status: http.StatusUnauthorized, Message: "unauthorized"}, "%s", op)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, body any, token string) (int, envelope, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, fmt.Errorf("nexhealth: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, envelope{}, fmt.Errorf("nexhealth: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.Nexhealth+json;version=2")
	req.Header.Set("Nex-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, envelope{}, fmt.Errorf("nexhealth: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, envelope{}, fmt.Errorf("nexhealth: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp.StatusCode, envelope{}, fmt.Errorf("nexhealth: decode response: %w", err)
		}
		// Non-JSON error page: keep the text for classification.
		msg, _ := json.Marshal(strings.TrimSpace(string(raw)))
		env = envelope{Description: msg}
	}
	return resp.StatusCode, env, nil
}

// classify maps a rejected call onto the error taxonomy.
func classify(op string, status int, msg string, slotOp bool) error {
	apiErr := &APIError{Status: status, Message: msg}
	if slotOp && (status == http.StatusConflict || status == http.StatusUnprocessableEntity || looksTaken(msg)) {
		return apperr.SlotConflict(apiErr, "%s", op)
	}
	return apperr.Upstream(apiErr, "%s", op)
}

func looksTaken(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"unavailable", "not available", "taken", "already booked", "no longer available", "conflict"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (c *Client) observe(op string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	if c.observer != nil {
		c.observer.ObserveUpstream(op, outcome, d)
	}
	if err != nil {
		c.logger.Warn("nexhealth call failed", "operation", op, "outcome", outcome, "duration_ms", d.Milliseconds(), "error", err)
	}
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// ensureAuthenticated returns a bearer token, exchanging the API key when the
// cached token is missing or within five minutes of expiry.
func (c *Client) ensureAuthenticated(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(5*time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authenticates", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/vnd.Nexhealth+json;version=2")
	req.Header.Set("Nex-Api-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	var data struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", errors.New("auth response missing token")
	}

	life := defaultTokenLife
	if data.ExpiresIn > 0 {
		life = time.Duration(data.ExpiresIn) * time.Second
	}
	c.token = data.Token
	c.tokenExpiry = c.now().Add(life)
	return c.token, nil
}
