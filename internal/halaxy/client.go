package halaxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wattlehealth/platform/pkg/logging"
)

const (
	defaultRequestTimeout       = 15 * time.Second
	defaultMaxRequestsPerMinute = 60

	// Halaxy terminates pagination itself; the cap only guards against a
	// misbehaving next link pointing back into the bundle chain.
	maxPages = 1000
)

// RequestObserver receives upstream request outcomes for metrics.
type RequestObserver interface {
	ObserveUpstreamRequest(method string, statusCode int)
	ObserveRateLimitWait(seconds float64)
}

// Config holds configuration for the Halaxy client.
type Config struct {
	BaseURL              string // e.g. "https://au-api.halaxy.com/main"
	OrganizationID       string
	PractitionerRoleID   string
	HealthcareServiceID  string
	Timeout              time.Duration
	MaxRequestsPerMinute int
}

// Client is a typed wrapper over the Halaxy FHIR R4 API.
type Client struct {
	baseURL    string
	cfg        Config
	tokens     *TokenManager
	limiter    *rateLimiter
	httpClient *http.Client
	logger     *logging.Logger
	observer   RequestObserver
}

// NewClient creates a Halaxy API client. The token manager is injected so a
// single token cache serves every caller in the process.
func NewClient(cfg Config, tokens *TokenManager, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Field: "HALAXY_API_URL"}
	}
	if tokens == nil {
		return nil, fmt.Errorf("halaxy: token manager is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:        cfg,
		tokens:     tokens,
		limiter:    newRateLimiter(cfg.MaxRequestsPerMinute),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// SetObserver installs a metrics observer. Optional.
func (c *Client) SetObserver(obs RequestObserver) {
	c.observer = obs
}

// TokenStatus exposes the token cache state for health checks.
func (c *Client) TokenStatus() TokenStatus {
	return c.tokens.Status()
}

// HasCredentials reports whether API credentials are configured.
func (c *Client) HasCredentials() bool {
	return c.tokens.HasCredentials()
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// request is the authenticated request primitive: rate limit, bearer token,
// FHIR headers, and exactly one retry after a 401.
func (c *Client) request(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("halaxy: rate limit wait: %w", err)
	}
	if waited := time.Since(waitStart); waited > time.Second && c.observer != nil {
		c.observer.ObserveRateLimitWait(waited.Seconds())
	}

	respBody, status, err := c.doOnce(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		// Token may have been revoked upstream; refresh once and retry.
		c.tokens.Invalidate()
		c.logger.Warn("halaxy returned 401, refreshing token and retrying", "url", rawURL)
		respBody, status, err = c.doOnce(ctx, method, rawURL, body)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Body: truncate(string(respBody), 500)}
	}
	return respBody, nil
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, body []byte) ([]byte, int, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("halaxy: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("halaxy: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("halaxy: read response: %w", err)
	}
	if c.observer != nil {
		c.observer.ObserveUpstreamRequest(method, resp.StatusCode)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := c.request(ctx, http.MethodGet, c.buildURL(endpoint, nil), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("halaxy: decode response: %w", err)
	}
	return nil
}

// GetPractitioner fetches a single Practitioner resource.
func (c *Client) GetPractitioner(ctx context.Context, id string) (*Practitioner, error) {
	var out Practitioner
	if err := c.getJSON(ctx, "/Practitioner/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPractitionerRole fetches a single PractitionerRole resource.
func (c *Client) GetPractitionerRole(ctx context.Context, id string) (*PractitionerRole, error) {
	var out PractitionerRole
	if err := c.getJSON(ctx, "/PractitionerRole/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPatient fetches a single Patient resource.
func (c *Client) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var out Patient
	if err := c.getJSON(ctx, "/Patient/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAppointment fetches a single Appointment resource.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var out Appointment
	if err := c.getJSON(ctx, "/Appointment/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSchedule fetches a single Schedule resource.
func (c *Client) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var out Schedule
	if err := c.getJSON(ctx, "/Schedule/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSlot fetches a single Slot resource.
func (c *Client) GetSlot(ctx context.Context, id string) (*Slot, error) {
	var out Slot
	if err := c.getJSON(ctx, "/Slot/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAllPages walks a paginated FHIR search, following "next" links in
// upstream order, and returns the flattened entries with sentinel-ID
// entries filtered out.
func (c *Client) GetAllPages(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	next := c.buildURL(endpoint, params)
	var out []json.RawMessage

	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("halaxy: pagination exceeded %d pages for %s", maxPages, endpoint)
		}
		bundle, err := c.fetchBundle(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, filterValidEntries(bundle.Entry)...)
		next = bundle.NextLink()
	}
	return out, nil
}

// GetFirstPage fetches exactly one page of a search. Used for existence
// checks where full pagination would be wasteful.
func (c *Client) GetFirstPage(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	bundle, err := c.fetchBundle(ctx, c.buildURL(endpoint, params))
	if err != nil {
		return nil, err
	}
	return filterValidEntries(bundle.Entry), nil
}

func (c *Client) fetchBundle(ctx context.Context, rawURL string) (*Bundle, error) {
	body, err := c.request(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("halaxy: decode bundle: %w", err)
	}
	return &bundle, nil
}

func filterValidEntries(entries []BundleEntry) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Resource) == 0 {
			continue
		}
		var env resourceEnvelope
		if err := json.Unmarshal(entry.Resource, &env); err != nil {
			continue
		}
		if !ValidResourceID(env.ID) {
			continue
		}
		out = append(out, entry.Resource)
	}
	return out
}

// GetAllPractitioners lists every practitioner in the Halaxy organization.
func (c *Client) GetAllPractitioners(ctx context.Context) ([]Practitioner, error) {
	raws, err := c.GetAllPages(ctx, "/Practitioner", nil)
	if err != nil {
		return nil, err
	}
	return decodeResources[Practitioner](raws), nil
}

// GetPatientsByPractitioner lists patients attributed to a practitioner.
func (c *Client) GetPatientsByPractitioner(ctx context.Context, practitionerID string) ([]Patient, error) {
	params := url.Values{}
	params.Set("practitioner", practitionerID)
	raws, err := c.GetAllPages(ctx, "/Patient", params)
	if err != nil {
		return nil, err
	}
	return decodeResources[Patient](raws), nil
}

// GetAppointmentsByPractitioner lists a practitioner's appointments from the
// given instant forward. A zero from fetches the full history.
func (c *Client) GetAppointmentsByPractitioner(ctx context.Context, practitionerID string, from time.Time) ([]Appointment, error) {
	params := url.Values{}
	params.Set("practitioner", practitionerID)
	if !from.IsZero() {
		params.Set("start", "ge"+from.UTC().Format(time.RFC3339))
	}
	raws, err := c.GetAllPages(ctx, "/Appointment", params)
	if err != nil {
		return nil, err
	}
	return decodeResources[Appointment](raws), nil
}

// ExportPatientIDs calls the $export-ids operation and returns the raw
// "Patient/<id>" references.
func (c *Client) ExportPatientIDs(ctx context.Context) ([]string, error) {
	var out Parameters
	if err := c.getJSON(ctx, "/Patient/$export-ids", &out); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(out.Parameter))
	for _, p := range out.Parameter {
		if p.ValueRef != nil && p.ValueRef.Reference != "" {
			refs = append(refs, p.ValueRef.Reference)
		}
	}
	return refs, nil
}

// PatientInput describes a patient to create or locate.
type PatientInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// CreateOrFindPatient looks up a patient by email first and creates one when
// no valid match exists. A failed lookup is treated as "not found", not as a
// hard error: creating a duplicate is recoverable, losing a booking is not.
func (c *Client) CreateOrFindPatient(ctx context.Context, input PatientInput) (*Patient, error) {
	if input.Email != "" {
		params := url.Values{}
		params.Set("email", input.Email)
		params.Set("_count", "1")
		raws, err := c.GetFirstPage(ctx, "/Patient", params)
		if err != nil {
			c.logger.Warn("patient lookup failed, proceeding to create", "error", err)
		} else if len(raws) > 0 {
			existing := decodeResources[Patient](raws)
			if len(existing) > 0 && ValidCreatedPatientID(existing[0].ID) {
				return &existing[0], nil
			}
		}
	}

	resource := Patient{
		ResourceType: "Patient",
		Name: []HumanName{{
			Given:  []string{input.FirstName},
			Family: input.LastName,
		}},
	}
	if input.Phone != "" {
		resource.Telecom = append(resource.Telecom, ContactPoint{
			System: "phone",
			Value:  NormalizePhoneAU(input.Phone),
			Use:    "mobile",
		})
	}
	if input.Email != "" {
		resource.Telecom = append(resource.Telecom, ContactPoint{
			System: "email",
			Value:  input.Email,
		})
	}

	body, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("halaxy: marshal patient: %w", err)
	}
	respBody, err := c.request(ctx, http.MethodPost, c.buildURL("/Patient", nil), body)
	if err != nil {
		return nil, err
	}

	var created Patient
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("halaxy: decode created patient: %w", err)
	}
	// Halaxy sometimes returns a warning object in place of the created
	// entity; a sentinel ID here means the create did not happen.
	if !ValidCreatedPatientID(created.ID) {
		return nil, fmt.Errorf("halaxy: patient creation returned invalid id %q", created.ID)
	}
	return &created, nil
}

// BookingInput describes an appointment to book via $book.
type BookingInput struct {
	PatientID           string
	PractitionerRoleID  string
	Start               time.Time
	End                 time.Time
	Description         string
	HealthcareServiceID string
	LocationType        string
}

// CreateAppointment books an appointment through the $book custom operation.
// The patient ID is validated locally before spending a round trip.
func (c *Client) CreateAppointment(ctx context.Context, input BookingInput) (*Appointment, error) {
	if err := validatePatientID(input.PatientID); err != nil {
		return nil, err
	}

	roleID := input.PractitionerRoleID
	if roleID == "" {
		roleID = c.cfg.PractitionerRoleID
	}
	serviceID := input.HealthcareServiceID
	if serviceID == "" {
		serviceID = c.cfg.HealthcareServiceID
	}
	locationType := input.LocationType
	if locationType == "" {
		locationType = "clinic"
	}

	appointment := Appointment{
		ResourceType:    "Appointment",
		Start:           input.Start.UTC().Format(time.RFC3339),
		End:             input.End.UTC().Format(time.RFC3339),
		MinutesDuration: int(input.End.Sub(input.Start).Minutes()),
		Description:     input.Description,
		Participant: []Participant{{
			Actor:  &Reference{Reference: "PractitionerRole/" + roleID},
			Status: "accepted",
		}},
	}
	apptJSON, err := json.Marshal(appointment)
	if err != nil {
		return nil, fmt.Errorf("halaxy: marshal appointment: %w", err)
	}

	params := Parameters{
		ResourceType: "Parameters",
		Parameter: []Parameter{
			{Name: "appointment", Resource: apptJSON},
			{Name: "patient-id", ValueRef: &Reference{Reference: "Patient/" + input.PatientID}},
			{Name: "healthcare-service-id", ValueRef: &Reference{Reference: "HealthcareService/" + serviceID}},
			{Name: "location-type", ValueCode: locationType},
			{Name: "status", ValueCode: "booked"},
		},
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("halaxy: marshal book parameters: %w", err)
	}

	respBody, err := c.request(ctx, http.MethodPost, c.buildURL("/Appointment/$book", nil), body)
	if err != nil {
		return nil, err
	}
	var booked Appointment
	if err := json.Unmarshal(respBody, &booked); err != nil {
		return nil, fmt.Errorf("halaxy: decode booked appointment: %w", err)
	}
	return &booked, nil
}

func validatePatientID(id string) error {
	if id == "" {
		return &ValidationError{Reason: "patient id is required"}
	}
	if id == "warning" || id == "error" {
		return &ValidationError{Reason: fmt.Sprintf("patient id %q is an upstream sentinel value", id)}
	}
	if len(id) <= 3 {
		return &ValidationError{Reason: fmt.Sprintf("patient id %q is too short to be a Halaxy id", id)}
	}
	return nil
}

// FindOptions configures the $find availability search. Unlike a generic
// Slot search, $find honors the practice's configured buffer, lead-time and
// advance-booking-window preferences unless overridden.
type FindOptions struct {
	Start              time.Time
	End                time.Time
	DurationMinutes    int
	PractitionerID     string
	PractitionerRoleID string
	OrganizationID     string
	ApplyBufferTime    bool
	Emergency          bool
}

// FindAvailableAppointments queries the $find custom operation and returns
// the candidate appointment resources.
func (c *Client) FindAvailableAppointments(ctx context.Context, opts FindOptions) ([]Appointment, error) {
	params := url.Values{}
	params.Set("start", opts.Start.UTC().Format(time.RFC3339))
	params.Set("end", opts.End.UTC().Format(time.RFC3339))
	params.Set("duration", strconv.Itoa(opts.DurationMinutes))
	if opts.PractitionerID != "" {
		params.Set("practitioner", opts.PractitionerID)
	}
	if opts.PractitionerRoleID != "" {
		params.Set("practitioner-role", opts.PractitionerRoleID)
	}
	orgID := opts.OrganizationID
	if orgID == "" {
		orgID = c.cfg.OrganizationID
	}
	if orgID != "" {
		params.Set("organization", orgID)
	}
	if opts.ApplyBufferTime {
		params.Set("apply-buffer-time", "true")
	}
	if opts.Emergency {
		params.Set("emergency", "true")
	}

	raws, err := c.GetFirstPage(ctx, "/Appointment/$find", params)
	if err != nil {
		return nil, err
	}
	return decodeResources[Appointment](raws), nil
}

// NormalizePhoneAU converts an Australian phone number to E.164-ish +61
// format: whitespace stripped, a leading 0 replaced with +61, and a bare
// number prefixed with +61.
func NormalizePhoneAU(phone string) string {
	cleaned := strings.Join(strings.Fields(phone), "")
	if cleaned == "" {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "0") {
		return "+61" + cleaned[1:]
	}
	return "+61" + cleaned
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
