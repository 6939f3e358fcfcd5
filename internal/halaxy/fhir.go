package halaxy

import (
	"encoding/json"
	"strings"
)

// FHIR R4 resource models for the Halaxy API.
//
// Halaxy embeds OperationOutcome warnings inline in bundle entries instead of
// returning them on a separate channel, so every entry is screened through
// ValidResourceID before it is trusted.

// Bundle represents a FHIR Bundle resource (search results container)
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"` // "searchset", "collection", etc.
	Total        int           `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleLink carries pagination links (relation "self", "next", ...).
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry holds a raw resource; entries are decoded per type after the
// sentinel-ID screen.
type BundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

// NextLink returns the URL of the link with relation "next", or "" when the
// bundle is the last page.
func (b *Bundle) NextLink() string {
	for _, link := range b.Link {
		if link.Relation == "next" {
			return link.URL
		}
	}
	return ""
}

// resourceEnvelope is the minimal shape peeked at before an entry is accepted.
// ID is deliberately untyped: Halaxy has returned numbers and objects here.
type resourceEnvelope struct {
	ResourceType string `json:"resourceType"`
	ID           any    `json:"id"`
}

// ValidResourceID reports whether a bundle entry carries a usable resource ID.
// Halaxy smuggles OperationOutcome entries into bundles with IDs like
// "warning", "error" or "outcome-1"; those must never reach persistence.
func ValidResourceID(id any) bool {
	s, ok := id.(string)
	if !ok || s == "" {
		return false
	}
	if s == "warning" || s == "error" {
		return false
	}
	if strings.HasPrefix(s, "outcome") {
		return false
	}
	return true
}

// ValidCreatedPatientID applies the stricter screen used on patient-creation
// responses: real Halaxy patient IDs are always longer than 3 characters.
func ValidCreatedPatientID(id string) bool {
	return ValidResourceID(id) && len(id) > 3
}

// Practitioner represents a FHIR Practitioner resource
type Practitioner struct {
	ResourceType  string          `json:"resourceType"`
	ID            string          `json:"id,omitempty"`
	Name          []HumanName     `json:"name,omitempty"`
	Telecom       []ContactPoint  `json:"telecom,omitempty"`
	Qualification []Qualification `json:"qualification,omitempty"`
	Extension     []Extension     `json:"extension,omitempty"`
}

// PractitionerRole links a practitioner to an organization and services.
type PractitionerRole struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Practitioner *Reference  `json:"practitioner,omitempty"`
	Organization *Reference  `json:"organization,omitempty"`
	Code         []CodeableConcept `json:"code,omitempty"`
}

// Patient represents a FHIR Patient resource
type Patient struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BirthDate    string         `json:"birthDate,omitempty"` // YYYY-MM-DD
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Extension    []Extension    `json:"extension,omitempty"`
}

// Appointment represents a FHIR Appointment resource
type Appointment struct {
	ResourceType    string            `json:"resourceType"`
	ID              string            `json:"id,omitempty"`
	Status          string            `json:"status,omitempty"` // proposed, booked, fulfilled, cancelled, noshow, ...
	ServiceType     []CodeableConcept `json:"serviceType,omitempty"`
	AppointmentType *CodeableConcept  `json:"appointmentType,omitempty"`
	Description     string            `json:"description,omitempty"`
	Start           string            `json:"start,omitempty"` // RFC3339 datetime
	End             string            `json:"end,omitempty"`   // RFC3339 datetime
	MinutesDuration int               `json:"minutesDuration,omitempty"`
	Participant     []Participant     `json:"participant,omitempty"`
	Extension       []Extension       `json:"extension,omitempty"`
}

// Schedule represents a FHIR Schedule resource
type Schedule struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Actor        []Reference `json:"actor,omitempty"`
}

// Slot represents a FHIR Slot resource
type Slot struct {
	ResourceType string     `json:"resourceType"`
	ID           string     `json:"id,omitempty"`
	Schedule     *Reference `json:"schedule,omitempty"`
	Status       string     `json:"status,omitempty"` // free, busy, busy-unavailable
	Start        string     `json:"start,omitempty"`
	End          string     `json:"end,omitempty"`
}

// Participant represents a participant in an appointment
type Participant struct {
	Actor  *Reference `json:"actor,omitempty"`
	Status string     `json:"status,omitempty"` // accepted, declined, tentative, needs-action
}

// Reference represents a reference to another FHIR resource
type Reference struct {
	Reference string `json:"reference,omitempty"` // e.g., "Patient/123"
	Display   string `json:"display,omitempty"`
}

// CodeableConcept represents a coded value with optional text
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a specific code from a code system
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// HumanName represents a person's name
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

// ContactPoint represents a contact detail (phone, email, etc.)
type ContactPoint struct {
	System string `json:"system,omitempty"` // phone, email, sms, ...
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Qualification is a practitioner credential entry.
type Qualification struct {
	Code       CodeableConcept `json:"code,omitempty"`
	Identifier []Identifier    `json:"identifier,omitempty"`
}

// Identifier is a FHIR business identifier.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Money is a FHIR Money value.
type Money struct {
	Value    float64 `json:"value,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// Extension carries Halaxy-specific fields (MHCP counters, actual times,
// fees) matched by URL substring at the transformer boundary.
type Extension struct {
	URL           string `json:"url"`
	ValueString   string `json:"valueString,omitempty"`
	ValueInteger  *int   `json:"valueInteger,omitempty"`
	ValueBoolean  *bool  `json:"valueBoolean,omitempty"`
	ValueDate     string `json:"valueDate,omitempty"`
	ValueDateTime string `json:"valueDateTime,omitempty"`
	ValueMoney    *Money `json:"valueMoney,omitempty"`
}

// Parameters is the FHIR Parameters resource used by the $book operation.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// Parameter is a single $book parameter entry.
type Parameter struct {
	Name      string          `json:"name"`
	Resource  json.RawMessage `json:"resource,omitempty"`
	ValueRef  *Reference      `json:"valueReference,omitempty"`
	ValueCode string          `json:"valueCode,omitempty"`
}

// decodeResources unmarshals filtered raw bundle entries into the given
// typed slice element by element, skipping entries that fail to decode.
func decodeResources[T any](raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
