package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/internal/notify"
	"github.com/wattlehealth/platform/internal/store"
	"github.com/wattlehealth/platform/internal/sync"
	"github.com/wattlehealth/platform/pkg/logging"
)

var bookingTracer = otel.Tracer("wattle/internal/booking")

const defaultDurationMinutes = 50

// Upstream is the slice of the Halaxy API the booking flow uses.
type Upstream interface {
	FindAvailableAppointments(ctx context.Context, opts halaxy.FindOptions) ([]halaxy.Appointment, error)
	CreateOrFindPatient(ctx context.Context, input halaxy.PatientInput) (*halaxy.Patient, error)
	CreateAppointment(ctx context.Context, input halaxy.BookingInput) (*halaxy.Appointment, error)
}

// Store persists the local mirror of a booking.
type Store interface {
	GetPractitionerByHalaxyID(ctx context.Context, halaxyID string) (*store.Practitioner, error)
	ListPractitioners(ctx context.Context) ([]store.Practitioner, error)
	SessionCountsByPatient(ctx context.Context, halaxyPatientID string) (total int, completed int, err error)
	UpsertClient(ctx context.Context, c store.Client) (string, error)
	UpsertSession(ctx context.Context, s store.Session) (string, error)
}

// Notifier sends the patient their confirmation.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, conf notify.BookingConfirmation) error
}

// Service books appointments in Halaxy and mirrors them locally.
type Service struct {
	upstream Upstream
	store    Store
	notifier Notifier
	logger   *logging.Logger

	practitionerID string
	durationMins   int
}

type ServiceConfig struct {
	Upstream Upstream
	Store    Store
	Notifier Notifier
	Logger   *logging.Logger

	// PractitionerID is the Halaxy practitioner bookings default to when the
	// request does not name one.
	PractitionerID  string
	DurationMinutes int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("booking: service requires upstream client")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	duration := cfg.DurationMinutes
	if duration <= 0 {
		duration = defaultDurationMinutes
	}

	return &Service{
		upstream:       cfg.Upstream,
		store:          cfg.Store,
		notifier:       cfg.Notifier,
		logger:         logger,
		practitionerID: cfg.PractitionerID,
		durationMins:   duration,
	}, nil
}

// Slot is one bookable window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AvailabilityQuery bounds an availability search.
type AvailabilityQuery struct {
	From            time.Time
	To              time.Time
	DurationMinutes int
	PractitionerID  string
}

// Availability returns bookable slots in the window, practice buffer and
// lead-time preferences applied.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.availability")
	defer span.End()

	if q.From.IsZero() {
		q.From = time.Now()
	}
	if q.To.IsZero() || !q.To.After(q.From) {
		q.To = q.From.AddDate(0, 0, 7)
	}
	duration := q.DurationMinutes
	if duration <= 0 {
		duration = s.durationMins
	}
	practitionerID := q.PractitionerID
	if practitionerID == "" {
		practitionerID = s.practitionerID
	}

	candidates, err := s.upstream.FindAvailableAppointments(ctx, halaxy.FindOptions{
		Start:           q.From,
		End:             q.To,
		DurationMinutes: duration,
		PractitionerID:  practitionerID,
		ApplyBufferTime: true,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: availability: %w", err)
	}

	slots := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		start, err := time.Parse(time.RFC3339, c.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, c.End)
		if err != nil {
			end = start.Add(time.Duration(duration) * time.Minute)
		}
		slots = append(slots, Slot{Start: start, End: end})
	}
	span.SetAttributes(attribute.Int("booking.slot_count", len(slots)))
	return slots, nil
}

// Practitioner is a directory entry shown on the booking site.
type Practitioner struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	Qualifications string `json:"qualifications,omitempty"`
	Specialty      string `json:"specialty,omitempty"`
}

// Practitioners lists the locally synced practitioner directory.
func (s *Service) Practitioners(ctx context.Context) ([]Practitioner, error) {
	if s.store == nil {
		return nil, nil
	}
	records, err := s.store.ListPractitioners(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: list practitioners: %w", err)
	}
	out := make([]Practitioner, 0, len(records))
	for _, p := range records {
		out = append(out, Practitioner{
			ID:             p.HalaxyPractitionerID,
			DisplayName:    p.DisplayName,
			Qualifications: p.Qualifications,
			Specialty:      p.Specialty,
		})
	}
	return out, nil
}

// Request is an inbound booking.
type Request struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Start          time.Time
	End            time.Time
	SessionType    string
	LocationType   string
	PractitionerID string
}

// Confirmation is the outcome of a successful booking.
type Confirmation struct {
	AppointmentID string    `json:"appointmentId"`
	PatientID     string    `json:"patientId"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
}

// ValidationError rejects a booking request before any upstream call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "booking: " + e.Reason }

// Book creates or finds the patient in Halaxy, books the appointment, then
// mirrors the result locally and emails the patient. The mirror write and
// the email are best effort: once Halaxy holds the appointment, the booking
// has succeeded.
func (s *Service) Book(ctx context.Context, req Request) (*Confirmation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}
	if req.End.IsZero() {
		req.End = req.Start.Add(time.Duration(s.durationMins) * time.Minute)
	}

	patient, err := s.upstream.CreateOrFindPatient(ctx, halaxy.PatientInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: resolve patient: %w", err)
	}

	booked, err := s.upstream.CreateAppointment(ctx, halaxy.BookingInput{
		PatientID:    patient.ID,
		Start:        req.Start,
		End:          req.End,
		Description:  req.SessionType,
		LocationType: req.LocationType,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: create appointment: %w", err)
	}
	span.SetAttributes(attribute.String("halaxy.appointment_id", booked.ID))

	s.logger.Info("appointment booked",
		"appointment_id", booked.ID,
		"patient_id", patient.ID,
		"start", req.Start)

	s.mirror(ctx, req, patient, booked)
	s.confirm(ctx, req)

	status := booked.Status
	if status == "" {
		status = "booked"
	}
	return &Confirmation{
		AppointmentID: booked.ID,
		PatientID:     patient.ID,
		Start:         req.Start,
		End:           req.End,
		Status:        status,
	}, nil
}

func validate(req Request) error {
	if req.FirstName == "" || req.LastName == "" {
		return &ValidationError{Reason: "first and last name are required"}
	}
	if req.Email == "" && req.Phone == "" {
		return &ValidationError{Reason: "an email or phone number is required"}
	}
	if req.Start.IsZero() {
		return &ValidationError{Reason: "start time is required"}
	}
	if req.Start.Before(time.Now()) {
		return &ValidationError{Reason: "start time is in the past"}
	}
	if !req.End.IsZero() && !req.End.After(req.Start) {
		return &ValidationError{Reason: "end time must be after start time"}
	}
	return nil
}

// mirror writes the booked appointment into the local store so it is visible
// before the next sync pass.
func (s *Service) mirror(ctx context.Context, req Request, patient *halaxy.Patient, booked *halaxy.Appointment) {
	if s.store == nil {
		return
	}

	practitionerID := req.PractitionerID
	if practitionerID == "" {
		practitionerID = s.practitionerID
	}
	local, err := s.store.GetPractitionerByHalaxyID(ctx, practitionerID)
	if err != nil {
		s.logger.Warn("booking not mirrored, practitioner not synced",
			"halaxy_practitioner_id", practitionerID, "error", err)
		return
	}

	total, completed, err := s.store.SessionCountsByPatient(ctx, patient.ID)
	if err != nil {
		s.logger.Warn("booking mirror using zero session counts", "error", err)
	}

	client, err := sync.TransformPatient(*patient, local.ID, completed)
	if err != nil {
		s.logger.Warn("booking not mirrored, patient transform failed", "error", err)
		return
	}
	clientID, err := s.store.UpsertClient(ctx, client)
	if err != nil {
		s.logger.Warn("booking not mirrored, client upsert failed", "error", err)
		return
	}

	mirrored := *booked
	if mirrored.Status == "" {
		mirrored.Status = "booked"
	}
	if mirrored.Start == "" {
		mirrored.Start = req.Start.UTC().Format(time.RFC3339)
	}
	if mirrored.End == "" {
		mirrored.End = req.End.UTC().Format(time.RFC3339)
	}
	session, err := sync.TransformAppointment(mirrored, local.ID, clientID, total+1)
	if err != nil {
		s.logger.Warn("booking not mirrored, appointment transform failed", "error", err)
		return
	}
	if session.SessionType == "" {
		session.SessionType = req.SessionType
	}
	if _, err := s.store.UpsertSession(ctx, session); err != nil {
		s.logger.Warn("booking not mirrored, session upsert failed", "error", err)
	}
}

func (s *Service) confirm(ctx context.Context, req Request) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.SendBookingConfirmation(ctx, notify.BookingConfirmation{
		PatientName:  req.FirstName + " " + req.LastName,
		PatientEmail: req.Email,
		SessionType:  req.SessionType,
		Start:        req.Start,
		End:          req.End,
		LocationType: req.LocationType,
	})
	if err != nil {
		s.logger.Warn("booking confirmation email failed", "error", err)
	}
}
