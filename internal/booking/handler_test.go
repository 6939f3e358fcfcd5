package booking

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattlehealth/platform/internal/halaxy"
)

func newTestHandler(t *testing.T, upstream Upstream) *Handler {
	t.Helper()
	svc, err := NewService(ServiceConfig{Upstream: upstream, PractitionerID: "prac-1"})
	require.NoError(t, err)
	return NewHandler(svc, nil)
}

func TestAvailabilityEndpoint(t *testing.T) {
	upstream := &fakeUpstream{
		findResult: []halaxy.Appointment{
			{Start: "2026-03-02T09:00:00Z", End: "2026-03-02T09:50:00Z"},
		},
	}
	handler := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodGet,
		"/availability?from=2026-03-02T00:00:00Z&to=2026-03-09T00:00:00Z&durationMinutes=50", nil)
	rr := httptest.NewRecorder()
	handler.Availability(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 1)
	assert.Equal(t, 50, upstream.findOpts.DurationMinutes)
}

func TestAvailabilityEndpointRejectsBadParams(t *testing.T) {
	handler := newTestHandler(t, &fakeUpstream{})

	for _, target := range []string{
		"/availability?from=yesterday",
		"/availability?to=tomorrow",
		"/availability?durationMinutes=-5",
		"/availability?durationMinutes=soon",
	} {
		rr := httptest.NewRecorder()
		handler.Availability(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestCreateBookingEndpoint(t *testing.T) {
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)
	upstream := &fakeUpstream{
		patient: &halaxy.Patient{ID: "pat-1234"},
		booked:  &halaxy.Appointment{ID: "appt-5678", Status: "booked"},
	}
	handler := newTestHandler(t, upstream)

	body := map[string]any{
		"firstName":   "Sam",
		"lastName":    "Lee",
		"email":       "sam@example.com",
		"start":       start.Format(time.RFC3339),
		"end":         start.Add(50 * time.Minute).Format(time.RFC3339),
		"sessionType": "Standard consultation",
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.Create(rr, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(string(raw))))

	require.Equal(t, http.StatusCreated, rr.Code)
	var conf Confirmation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conf))
	assert.Equal(t, "appt-5678", conf.AppointmentID)
	assert.Equal(t, "pat-1234", conf.PatientID)
}

func TestCreateBookingEndpointValidation(t *testing.T) {
	handler := newTestHandler(t, &fakeUpstream{})

	rr := httptest.NewRecorder()
	handler.Create(rr, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	handler.Create(rr, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{"firstName":"Sam"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateBookingEndpointUpstreamSentinel(t *testing.T) {
	upstream := &fakeUpstream{
		patient: &halaxy.Patient{ID: "pat-1234"},
		bookErr: &halaxy.ValidationError{Reason: "patient id \"err\" is too short to be a Halaxy id"},
	}
	handler := newTestHandler(t, upstream)

	start := time.Now().Add(48 * time.Hour).UTC()
	body, err := json.Marshal(map[string]any{
		"firstName": "Sam",
		"lastName":  "Lee",
		"email":     "sam@example.com",
		"start":     start.Format(time.RFC3339),
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.Create(rr, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
