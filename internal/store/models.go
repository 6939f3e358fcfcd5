package store

import "time"

// SessionStatus is the local session lifecycle state mapped from the upstream
// FHIR appointment status.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionConfirmed SessionStatus = "confirmed"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionNoShow    SessionStatus = "no_show"
)

// Practitioner is the local persistence record for a Halaxy practitioner.
type Practitioner struct {
	ID                   string
	HalaxyPractitionerID string
	FirstName            string
	LastName             string
	DisplayName          string
	Email                string
	Phone                string
	Qualifications       string
	Specialty            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Client is the local persistence record for a Halaxy patient, scoped to a
// practitioner.
type Client struct {
	ID                string
	PractitionerID    string
	HalaxyPatientID   string
	FirstName         string
	LastName          string
	Initials          string
	Email             string
	Phone             string
	DateOfBirth       *time.Time
	MHCPTotalSessions int
	MHCPUsedSessions  int
	MHCPPlanStart     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session is the local persistence record for a Halaxy appointment.
type Session struct {
	ID                  string
	PractitionerID      string
	ClientID            string
	HalaxyAppointmentID string
	Status              SessionStatus
	SessionType         string
	SessionNumber       int
	ScheduledStart      time.Time
	ScheduledEnd        time.Time
	ActualStart         *time.Time
	ActualEnd           *time.Time
	FeeAmount           *float64
	Paid                bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SyncStatus is one row of the per-practitioner sync audit trail.
type SyncStatus struct {
	PractitionerID   string
	Success          bool
	RecordsProcessed int
	DurationMillis   int64
	ErrorDetail      string
	SyncedAt         time.Time
}
