package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/internal/store"
)

// Patients with a Mental Health Care Plan get 10 rebatable sessions unless
// Halaxy says otherwise.
const defaultMHCPTotalSessions = 10

// TransformError is a malformed resource shape caught during entity mapping.
// Recorded per record during a sync pass; never aborts the pass.
type TransformError struct {
	EntityType string
	Reason     string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("sync: transform %s: %s", e.EntityType, e.Reason)
}

// TransformPractitioner maps a FHIR Practitioner into the local record.
func TransformPractitioner(fhir halaxy.Practitioner) (store.Practitioner, error) {
	if fhir.ID == "" {
		return store.Practitioner{}, &TransformError{EntityType: "practitioner", Reason: "missing resource id"}
	}

	first, last := splitName(fhir.Name)
	return store.Practitioner{
		HalaxyPractitionerID: fhir.ID,
		FirstName:            first,
		LastName:             last,
		DisplayName:          displayName(fhir.Name),
		Email:                telecomValue(fhir.Telecom, "email"),
		Phone:                telecomValue(fhir.Telecom, "phone"),
		Qualifications:       qualificationSummary(fhir.Qualification),
		Specialty:            specialtyFromQualifications(fhir.Qualification),
	}, nil
}

// TransformPatient maps a FHIR Patient into the local client record.
// sessionCount is the number of completed sessions attributed to the patient
// in the current pass and feeds the MHCP used-session counter.
func TransformPatient(fhir halaxy.Patient, practitionerID string, sessionCount int) (store.Client, error) {
	if fhir.ID == "" {
		return store.Client{}, &TransformError{EntityType: "patient", Reason: "missing resource id"}
	}
	if practitionerID == "" {
		return store.Client{}, &TransformError{EntityType: "patient", Reason: "missing practitioner id"}
	}

	first, last := splitName(fhir.Name)

	var dob *time.Time
	if fhir.BirthDate != "" {
		if parsed, err := time.Parse("2006-01-02", fhir.BirthDate); err == nil {
			dob = &parsed
		}
	}

	total := defaultMHCPTotalSessions
	if v := extensionInt(fhir.Extension, "mhcp-total", "mental-health-plan-sessions"); v != nil {
		total = *v
	}
	var planStart *time.Time
	if raw := extensionDate(fhir.Extension, "mhcp-plan-start"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			planStart = &parsed
		}
	}

	return store.Client{
		PractitionerID:    practitionerID,
		HalaxyPatientID:   fhir.ID,
		FirstName:         first,
		LastName:          last,
		Initials:          initials(first, last),
		Email:             telecomValue(fhir.Telecom, "email"),
		Phone:             telecomValue(fhir.Telecom, "phone"),
		DateOfBirth:       dob,
		MHCPTotalSessions: total,
		MHCPUsedSessions:  sessionCount,
		MHCPPlanStart:     planStart,
	}, nil
}

// TransformAppointment maps a FHIR Appointment into the local session record.
func TransformAppointment(fhir halaxy.Appointment, practitionerID, clientID string, sessionNumber int) (store.Session, error) {
	if fhir.ID == "" {
		return store.Session{}, &TransformError{EntityType: "appointment", Reason: "missing resource id"}
	}
	scheduledStart, err := time.Parse(time.RFC3339, fhir.Start)
	if err != nil {
		return store.Session{}, &TransformError{EntityType: "appointment", Reason: fmt.Sprintf("invalid start %q", fhir.Start)}
	}
	scheduledEnd, err := time.Parse(time.RFC3339, fhir.End)
	if err != nil {
		return store.Session{}, &TransformError{EntityType: "appointment", Reason: fmt.Sprintf("invalid end %q", fhir.End)}
	}

	status, _ := MapAppointmentStatus(fhir.Status)

	sessionType := ""
	if len(fhir.ServiceType) > 0 && len(fhir.ServiceType[0].Coding) > 0 {
		sessionType = fhir.ServiceType[0].Coding[0].Display
	}
	if sessionType == "" && fhir.AppointmentType != nil && len(fhir.AppointmentType.Coding) > 0 {
		sessionType = fhir.AppointmentType.Coding[0].Display
	}

	var fee *float64
	for _, ext := range fhir.Extension {
		if ext.ValueMoney == nil {
			continue
		}
		if strings.Contains(ext.URL, "fee") || strings.Contains(ext.URL, "amount") {
			v := ext.ValueMoney.Value
			fee = &v
			break
		}
	}

	paid := false
	for _, ext := range fhir.Extension {
		if ext.ValueBoolean == nil {
			continue
		}
		if strings.Contains(ext.URL, "paid") || strings.Contains(ext.URL, "payment-status") {
			paid = *ext.ValueBoolean
			break
		}
	}

	return store.Session{
		PractitionerID:      practitionerID,
		ClientID:            clientID,
		HalaxyAppointmentID: fhir.ID,
		Status:              status,
		SessionType:         sessionType,
		SessionNumber:       sessionNumber,
		ScheduledStart:      scheduledStart,
		ScheduledEnd:        scheduledEnd,
		ActualStart:         extensionTime(fhir.Extension, "actual-start"),
		ActualEnd:           extensionTime(fhir.Extension, "actual-end"),
		FeeAmount:           fee,
		Paid:                paid,
	}, nil
}

// MapAppointmentStatus maps an upstream FHIR appointment status onto the
// local session status. Unrecognized values map to scheduled with ok=false;
// the permissive default keeps novel upstream statuses from failing a sync,
// and callers surface the miss in logs and metrics instead.
func MapAppointmentStatus(fhirStatus string) (store.SessionStatus, bool) {
	switch fhirStatus {
	case "proposed", "pending", "booked", "waitlist":
		return store.SessionScheduled, true
	case "arrived", "checked-in":
		return store.SessionConfirmed, true
	case "fulfilled":
		return store.SessionCompleted, true
	case "cancelled", "entered-in-error":
		return store.SessionCancelled, true
	case "noshow":
		return store.SessionNoShow, true
	default:
		return store.SessionScheduled, false
	}
}

// IsCompletedStatus reports whether a session counts toward used sessions.
func IsCompletedStatus(status store.SessionStatus) bool {
	return status == store.SessionCompleted
}

// IsActiveStatus reports whether a session still occupies the calendar.
func IsActiveStatus(status store.SessionStatus) bool {
	return status == store.SessionScheduled || status == store.SessionConfirmed
}

// ExtractIDFromReference returns the ID segment of a FHIR reference such as
// "Patient/12345".
func ExtractIDFromReference(ref string) string {
	if ref == "" {
		return ""
	}
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// PatientIDFromAppointment returns the Patient participant's ID, or "" when
// the appointment carries no patient participant.
func PatientIDFromAppointment(appt halaxy.Appointment) string {
	return participantID(appt, "Patient/")
}

// PractitionerIDFromAppointment returns the Practitioner participant's ID,
// or "" when absent.
func PractitionerIDFromAppointment(appt halaxy.Appointment) string {
	return participantID(appt, "Practitioner/")
}

func participantID(appt halaxy.Appointment, prefix string) string {
	for _, p := range appt.Participant {
		if p.Actor == nil {
			continue
		}
		if strings.HasPrefix(p.Actor.Reference, prefix) {
			return strings.TrimPrefix(p.Actor.Reference, prefix)
		}
	}
	return ""
}

func splitName(names []halaxy.HumanName) (first, last string) {
	if len(names) == 0 {
		return "", ""
	}
	if len(names[0].Given) > 0 {
		first = names[0].Given[0]
	}
	return first, names[0].Family
}

func displayName(names []halaxy.HumanName) string {
	if len(names) == 0 {
		return "Unknown"
	}
	name := names[0]
	var parts []string
	parts = append(parts, name.Prefix...)
	if len(name.Given) > 0 {
		parts = append(parts, name.Given[0])
	}
	if name.Family != "" {
		parts = append(parts, name.Family)
	}
	parts = append(parts, name.Suffix...)
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, " ")
}

func initials(first, last string) string {
	var b strings.Builder
	if first != "" {
		b.WriteString(strings.ToUpper(string([]rune(first)[0])))
	}
	if last != "" {
		b.WriteString(strings.ToUpper(string([]rune(last)[0])))
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

func telecomValue(telecom []halaxy.ContactPoint, system string) string {
	for _, tc := range telecom {
		if tc.System == system {
			return tc.Value
		}
	}
	return ""
}

func qualificationSummary(quals []halaxy.Qualification) string {
	var parts []string
	for _, q := range quals {
		if len(q.Code.Coding) > 0 && q.Code.Coding[0].Display != "" {
			parts = append(parts, q.Code.Coding[0].Display)
			continue
		}
		if len(q.Identifier) > 0 && q.Identifier[0].Value != "" {
			parts = append(parts, q.Identifier[0].Value)
		}
	}
	return strings.Join(parts, ", ")
}

func specialtyFromQualifications(quals []halaxy.Qualification) string {
	for _, q := range quals {
		for _, coding := range q.Code.Coding {
			if strings.Contains(strings.ToLower(coding.Display), "psycholog") {
				return coding.Display
			}
		}
	}
	return ""
}

func extensionInt(exts []halaxy.Extension, urlSubstrings ...string) *int {
	for _, ext := range exts {
		if ext.ValueInteger == nil {
			continue
		}
		for _, sub := range urlSubstrings {
			if strings.Contains(ext.URL, sub) {
				return ext.ValueInteger
			}
		}
	}
	return nil
}

func extensionDate(exts []halaxy.Extension, urlSubstring string) string {
	for _, ext := range exts {
		if strings.Contains(ext.URL, urlSubstring) {
			if ext.ValueDate != "" {
				return ext.ValueDate
			}
			if ext.ValueDateTime != "" {
				return ext.ValueDateTime
			}
		}
	}
	return ""
}

func extensionTime(exts []halaxy.Extension, urlSubstring string) *time.Time {
	for _, ext := range exts {
		if !strings.Contains(ext.URL, urlSubstring) {
			continue
		}
		raw := ext.ValueDateTime
		if raw == "" {
			raw = ext.ValueDate
		}
		if raw == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return &parsed
		}
	}
	return nil
}
