package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/internal/store"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestTransformPractitioner(t *testing.T) {
	fhir := halaxy.Practitioner{
		ResourceType: "Practitioner",
		ID:           "prac-1",
		Name: []halaxy.HumanName{{
			Prefix: []string{"Dr"},
			Given:  []string{"Jane", "Louise"},
			Family: "Doe",
		}},
		Telecom: []halaxy.ContactPoint{
			{System: "email", Value: "jane@example.com"},
			{System: "phone", Value: "+61412345678"},
		},
		Qualification: []halaxy.Qualification{
			{Code: halaxy.CodeableConcept{Coding: []halaxy.Coding{{Display: "Clinical Psychologist"}}}},
			{Identifier: []halaxy.Identifier{{Value: "MPsych"}}},
		},
	}

	p, err := TransformPractitioner(fhir)
	require.NoError(t, err)
	assert.Equal(t, "prac-1", p.HalaxyPractitionerID)
	assert.Equal(t, "Jane", p.FirstName)
	assert.Equal(t, "Doe", p.LastName)
	assert.Equal(t, "Dr Jane Doe", p.DisplayName)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Equal(t, "+61412345678", p.Phone)
	assert.Equal(t, "Clinical Psychologist, MPsych", p.Qualifications)
	assert.Equal(t, "Clinical Psychologist", p.Specialty)
}

func TestTransformPractitionerNoName(t *testing.T) {
	p, err := TransformPractitioner(halaxy.Practitioner{ID: "prac-2"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", p.DisplayName)
	assert.Empty(t, p.FirstName)
	assert.Empty(t, p.Specialty)
}

func TestTransformPractitionerMissingID(t *testing.T) {
	_, err := TransformPractitioner(halaxy.Practitioner{})
	var tErr *TransformError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "practitioner", tErr.EntityType)
}

func TestTransformPatient(t *testing.T) {
	fhir := halaxy.Patient{
		ResourceType: "Patient",
		ID:           "pat-1",
		Name:         []halaxy.HumanName{{Given: []string{"sam"}, Family: "lee"}},
		BirthDate:    "1990-06-15",
		Telecom:      []halaxy.ContactPoint{{System: "phone", Value: "+61400000000"}},
		Extension: []halaxy.Extension{
			{URL: "https://halaxy.com/fhir/StructureDefinition/mhcp-total-sessions", ValueInteger: intPtr(6)},
			{URL: "https://halaxy.com/fhir/StructureDefinition/mhcp-plan-start", ValueDate: "2026-01-01"},
		},
	}

	c, err := TransformPatient(fhir, "local-prac-1", 4)
	require.NoError(t, err)
	assert.Equal(t, "pat-1", c.HalaxyPatientID)
	assert.Equal(t, "local-prac-1", c.PractitionerID)
	assert.Equal(t, "SL", c.Initials)
	require.NotNil(t, c.DateOfBirth)
	assert.Equal(t, 1990, c.DateOfBirth.Year())
	assert.Equal(t, 6, c.MHCPTotalSessions)
	assert.Equal(t, 4, c.MHCPUsedSessions)
	require.NotNil(t, c.MHCPPlanStart)
	assert.Equal(t, time.January, c.MHCPPlanStart.Month())
}

func TestTransformPatientDefaults(t *testing.T) {
	c, err := TransformPatient(halaxy.Patient{ID: "pat-2"}, "local-prac-1", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultMHCPTotalSessions, c.MHCPTotalSessions)
	assert.Equal(t, "?", c.Initials)
	assert.Nil(t, c.DateOfBirth)
	assert.Nil(t, c.MHCPPlanStart)
}

func TestTransformAppointment(t *testing.T) {
	fhir := halaxy.Appointment{
		ResourceType: "Appointment",
		ID:           "appt-1",
		Status:       "fulfilled",
		Start:        "2026-03-02T09:00:00Z",
		End:          "2026-03-02T09:50:00Z",
		ServiceType: []halaxy.CodeableConcept{
			{Coding: []halaxy.Coding{{Display: "Standard consultation"}}},
		},
		Extension: []halaxy.Extension{
			{URL: "https://halaxy.com/fhir/actual-start", ValueDateTime: "2026-03-02T09:05:00Z"},
			{URL: "https://halaxy.com/fhir/actual-end", ValueDateTime: "2026-03-02T09:55:00Z"},
			{URL: "https://halaxy.com/fhir/session-fee", ValueMoney: &halaxy.Money{Value: 220.50, Currency: "AUD"}},
			{URL: "https://halaxy.com/fhir/payment-status", ValueBoolean: boolPtr(true)},
		},
	}

	s, err := TransformAppointment(fhir, "local-prac-1", "local-client-1", 5)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", s.HalaxyAppointmentID)
	assert.Equal(t, store.SessionCompleted, s.Status)
	assert.Equal(t, "Standard consultation", s.SessionType)
	assert.Equal(t, 5, s.SessionNumber)
	require.NotNil(t, s.ActualStart)
	assert.Equal(t, 5, s.ActualStart.Minute())
	require.NotNil(t, s.FeeAmount)
	assert.Equal(t, 220.50, *s.FeeAmount)
	assert.True(t, s.Paid)
}

func TestTransformAppointmentTypeFallback(t *testing.T) {
	fhir := halaxy.Appointment{
		ID:    "appt-2",
		Start: "2026-03-02T09:00:00Z",
		End:   "2026-03-02T09:50:00Z",
		AppointmentType: &halaxy.CodeableConcept{
			Coding: []halaxy.Coding{{Display: "Telehealth"}},
		},
	}
	s, err := TransformAppointment(fhir, "p", "c", 1)
	require.NoError(t, err)
	assert.Equal(t, "Telehealth", s.SessionType)
}

func TestTransformAppointmentInvalidTimes(t *testing.T) {
	_, err := TransformAppointment(halaxy.Appointment{ID: "appt-3", Start: "not-a-time"}, "p", "c", 1)
	var tErr *TransformError
	require.ErrorAs(t, err, &tErr)
}

func TestMapAppointmentStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   store.SessionStatus
		mapped bool
	}{
		{"proposed", store.SessionScheduled, true},
		{"pending", store.SessionScheduled, true},
		{"booked", store.SessionScheduled, true},
		{"waitlist", store.SessionScheduled, true},
		{"arrived", store.SessionConfirmed, true},
		{"checked-in", store.SessionConfirmed, true},
		{"fulfilled", store.SessionCompleted, true},
		{"cancelled", store.SessionCancelled, true},
		{"entered-in-error", store.SessionCancelled, true},
		{"noshow", store.SessionNoShow, true},
		{"some-unrecognized-value", store.SessionScheduled, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, mapped := MapAppointmentStatus(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.mapped, mapped)
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, IsCompletedStatus(store.SessionCompleted))
	assert.False(t, IsCompletedStatus(store.SessionScheduled))
	assert.True(t, IsActiveStatus(store.SessionScheduled))
	assert.True(t, IsActiveStatus(store.SessionConfirmed))
	assert.False(t, IsActiveStatus(store.SessionCancelled))
}

func TestExtractIDFromReference(t *testing.T) {
	assert.Equal(t, "abc-123", ExtractIDFromReference("Patient/abc-123"))
	assert.Equal(t, "12345", ExtractIDFromReference("12345"))
	assert.Equal(t, "", ExtractIDFromReference(""))
}

func TestParticipantExtraction(t *testing.T) {
	appt := halaxy.Appointment{
		Participant: []halaxy.Participant{
			{Actor: &halaxy.Reference{Reference: "Practitioner/prac-1"}},
			{Actor: &halaxy.Reference{Reference: "Patient/pat-9"}},
		},
	}
	assert.Equal(t, "pat-9", PatientIDFromAppointment(appt))
	assert.Equal(t, "prac-1", PractitionerIDFromAppointment(appt))

	noPatient := halaxy.Appointment{
		Participant: []halaxy.Participant{
			{Actor: &halaxy.Reference{Reference: "Practitioner/1"}},
		},
	}
	assert.Equal(t, "", PatientIDFromAppointment(noPatient))

	malformed := halaxy.Appointment{Participant: []halaxy.Participant{{}}}
	assert.Equal(t, "", PatientIDFromAppointment(malformed))
}
