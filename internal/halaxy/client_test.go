package halaxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient wires a client against a mux that also serves the token
// endpoint, mirroring how Halaxy exposes /oauth/token under the API base.
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   900,
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tokens := NewTokenManager("id", "secret", server.URL+"/oauth/token", 0)
	client, err := NewClient(Config{BaseURL: server.URL}, tokens, nil)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client, server
}

func writeBundle(w http.ResponseWriter, bundle Bundle) {
	w.Header().Set("Content-Type", "application/fhir+json")
	json.NewEncoder(w).Encode(bundle)
}

func rawResource(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal resource: %v", err)
	}
	return raw
}

func TestRequestRetriesOnceOn401(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/Patient/pat-123", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(Patient{ResourceType: "Patient", ID: "pat-123"})
	})
	client, _ := newTestClient(t, mux)

	patient, err := client.GetPatient(context.Background(), "pat-123")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if patient.ID != "pat-123" {
		t.Fatalf("expected pat-123, got %q", patient.ID)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRequestSurfacesRepeated401(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/Patient/pat-123", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	client, _ := newTestClient(t, mux)

	_, err := client.GetPatient(context.Background(), "pat-123")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", apiErr.StatusCode)
	}
	if attempts != 2 {
		t.Fatalf("expected no third attempt, got %d", attempts)
	}
}

func TestRequestNoRetryOnOtherErrors(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/Appointment/appt-1", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	client, _ := newTestClient(t, mux)

	_, err := client.GetAppointment(context.Background(), "appt-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || attempts != 1 {
		t.Fatalf("expected single 500 attempt, got status %d attempts %d", apiErr.StatusCode, attempts)
	}
}

func TestGetAllPagesFiltersAndTerminates(t *testing.T) {
	mux := http.NewServeMux()
	var serverURL string
	pageFetches := 0
	mux.HandleFunc("/Appointment", func(w http.ResponseWriter, r *http.Request) {
		pageFetches++
		switch r.URL.Query().Get("page") {
		case "", "1":
			writeBundle(w, Bundle{
				ResourceType: "Bundle",
				Entry: []BundleEntry{
					{Resource: rawResource(t, map[string]any{"resourceType": "OperationOutcome", "id": "warning"})},
					{Resource: rawResource(t, map[string]any{"resourceType": "Appointment", "id": "appt-100"})},
					{Resource: rawResource(t, map[string]any{"resourceType": "OperationOutcome", "id": "outcome-1"})},
				},
				Link: []BundleLink{
					{Relation: "self", URL: serverURL + "/Appointment?page=1"},
					{Relation: "next", URL: serverURL + "/Appointment?page=2"},
				},
			})
		case "2":
			writeBundle(w, Bundle{
				ResourceType: "Bundle",
				Entry: []BundleEntry{
					{Resource: rawResource(t, map[string]any{"resourceType": "Appointment", "id": "appt-200"})},
					{Resource: rawResource(t, map[string]any{"resourceType": "OperationOutcome", "id": "error"})},
				},
				Link: []BundleLink{
					{Relation: "self", URL: serverURL + "/Appointment?page=2"},
				},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	client, server := newTestClient(t, mux)
	serverURL = server.URL

	raws, err := client.GetAllPages(context.Background(), "/Appointment", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pageFetches != 2 {
		t.Fatalf("expected pagination to stop after 2 pages, fetched %d", pageFetches)
	}
	appts := decodeResources[Appointment](raws)
	if len(appts) != 2 {
		t.Fatalf("expected 2 valid appointments after filtering, got %d", len(appts))
	}
	if appts[0].ID != "appt-100" || appts[1].ID != "appt-200" {
		t.Fatalf("unexpected IDs %q, %q", appts[0].ID, appts[1].ID)
	}
}

func TestGetAllPagesPageCap(t *testing.T) {
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/Patient", func(w http.ResponseWriter, r *http.Request) {
		// Every page points back at itself.
		writeBundle(w, Bundle{
			ResourceType: "Bundle",
			Link:         []BundleLink{{Relation: "next", URL: serverURL + "/Patient"}},
		})
	})
	client, server := newTestClient(t, mux)
	serverURL = server.URL
	client.limiter = newRateLimiter(1 << 20)

	_, err := client.GetAllPages(context.Background(), "/Patient", nil)
	if err == nil {
		t.Fatal("expected page-cap error for self-referencing next link")
	}
}

func TestCreateOrFindPatientReturnsExistingMatch(t *testing.T) {
	mux := http.NewServeMux()
	created := false
	mux.HandleFunc("/Patient", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created = true
			t.Error("should not create when a valid match exists")
			return
		}
		if got := r.URL.Query().Get("email"); got != "jane@example.com" {
			t.Errorf("expected email filter, got %q", got)
		}
		writeBundle(w, Bundle{
			ResourceType: "Bundle",
			Entry: []BundleEntry{
				{Resource: rawResource(t, Patient{ResourceType: "Patient", ID: "pat-900"})},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	patient, err := client.CreateOrFindPatient(context.Background(), PatientInput{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patient.ID != "pat-900" || created {
		t.Fatalf("expected existing pat-900, got %q (created=%v)", patient.ID, created)
	}
}

func TestCreateOrFindPatientCreatesAndNormalizesPhone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBundle(w, Bundle{ResourceType: "Bundle"})
			return
		}
		var resource Patient
		if err := json.NewDecoder(r.Body).Decode(&resource); err != nil {
			t.Fatalf("decode posted patient: %v", err)
		}
		var phone string
		for _, tc := range resource.Telecom {
			if tc.System == "phone" {
				phone = tc.Value
			}
		}
		if phone != "+61412345678" {
			t.Errorf("expected normalized phone, got %q", phone)
		}
		resource.ID = "pat-1001"
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(resource)
	})
	client, _ := newTestClient(t, mux)

	patient, err := client.CreateOrFindPatient(context.Background(), PatientInput{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		Phone:     "0412 345 678",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patient.ID != "pat-1001" {
		t.Fatalf("expected pat-1001, got %q", patient.ID)
	}
}

func TestCreateOrFindPatientRejectsSentinelCreation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeBundle(w, Bundle{ResourceType: "Bundle"})
			return
		}
		// Halaxy occasionally answers a create with a warning object.
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(map[string]any{"resourceType": "OperationOutcome", "id": "warning"})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.CreateOrFindPatient(context.Background(), PatientInput{FirstName: "J", LastName: "D", Email: "j@example.com"})
	if err == nil {
		t.Fatal("expected error for sentinel creation response")
	}
}

func TestCreateAppointmentValidatesPatientIDLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("no upstream call expected, got %s %s", r.Method, r.URL.Path)
		}
	})
	client, _ := newTestClient(t, mux)

	for _, id := range []string{"", "warning", "error", "ab1"} {
		_, err := client.CreateAppointment(context.Background(), BookingInput{PatientID: id})
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("expected ValidationError for patient id %q, got %v", id, err)
		}
	}
}

func TestCreateAppointmentBuildsBookParameters(t *testing.T) {
	mux := http.NewServeMux()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(50 * time.Minute)
	mux.HandleFunc("/Appointment/$book", func(w http.ResponseWriter, r *http.Request) {
		var params Parameters
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode parameters: %v", err)
		}
		byName := map[string]Parameter{}
		for _, p := range params.Parameter {
			byName[p.Name] = p
		}
		if ref := byName["patient-id"].ValueRef; ref == nil || ref.Reference != "Patient/pat-1234" {
			t.Errorf("unexpected patient-id parameter: %+v", byName["patient-id"])
		}
		if byName["status"].ValueCode != "booked" {
			t.Errorf("expected status booked, got %q", byName["status"].ValueCode)
		}
		if byName["location-type"].ValueCode != "clinic" {
			t.Errorf("expected default clinic location, got %q", byName["location-type"].ValueCode)
		}
		var appt Appointment
		if err := json.Unmarshal(byName["appointment"].Resource, &appt); err != nil {
			t.Fatalf("decode appointment parameter: %v", err)
		}
		if appt.MinutesDuration != 50 {
			t.Errorf("expected 50 minute duration, got %d", appt.MinutesDuration)
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(Appointment{ResourceType: "Appointment", ID: "appt-500", Status: "booked"})
	})
	client, _ := newTestClient(t, mux)

	booked, err := client.CreateAppointment(context.Background(), BookingInput{
		PatientID:           "pat-1234",
		PractitionerRoleID:  "role-1",
		Start:               start,
		End:                 end,
		Description:         "Initial consult",
		HealthcareServiceID: "hs-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if booked.ID != "appt-500" {
		t.Fatalf("expected appt-500, got %q", booked.ID)
	}
}

func TestFindAvailableAppointmentsQueryParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Appointment/$find", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("duration") != "50" {
			t.Errorf("expected duration 50, got %q", q.Get("duration"))
		}
		if q.Get("practitioner-role") != "role-1" {
			t.Errorf("expected practitioner-role, got %q", q.Get("practitioner-role"))
		}
		if q.Get("apply-buffer-time") != "true" {
			t.Errorf("expected apply-buffer-time=true, got %q", q.Get("apply-buffer-time"))
		}
		if q.Has("emergency") {
			t.Error("emergency should be omitted when false")
		}
		writeBundle(w, Bundle{
			ResourceType: "Bundle",
			Entry: []BundleEntry{
				{Resource: rawResource(t, Appointment{ResourceType: "Appointment", ID: "slot-appt-1", Start: "2026-03-02T09:00:00Z"})},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	found, err := client.FindAvailableAppointments(context.Background(), FindOptions{
		Start:              time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:                time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		DurationMinutes:    50,
		PractitionerRoleID: "role-1",
		ApplyBufferTime:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "slot-appt-1" {
		t.Fatalf("unexpected results: %+v", found)
	}
}

func TestExportPatientIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient/$export-ids", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		json.NewEncoder(w).Encode(Parameters{
			ResourceType: "Parameters",
			Parameter: []Parameter{
				{Name: "patient", ValueRef: &Reference{Reference: "Patient/pat-1"}},
				{Name: "patient", ValueRef: &Reference{Reference: "Patient/pat-2"}},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	refs, err := client.ExportPatientIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 || refs[0] != "Patient/pat-1" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestNormalizePhoneAU(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0412 345 678", "+61412345678"},
		{"+61412345678", "+61412345678"},
		{"412345678", "+61412345678"},
		{"  0412345678  ", "+61412345678"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			if got := NormalizePhoneAU(tt.in); got != tt.want {
				t.Fatalf("NormalizePhoneAU(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidResourceID(t *testing.T) {
	tests := []struct {
		id   any
		want bool
	}{
		{"pat-123", true},
		{nil, false},
		{"", false},
		{"warning", false},
		{"error", false},
		{"outcome-x", false},
		{12345, false},
	}
	for _, tt := range tests {
		if got := ValidResourceID(tt.id); got != tt.want {
			t.Errorf("ValidResourceID(%v) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
