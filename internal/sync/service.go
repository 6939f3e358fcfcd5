package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/internal/observability/metrics"
	"github.com/wattlehealth/platform/internal/store"
	"github.com/wattlehealth/platform/pkg/logging"
)

var syncTracer = otel.Tracer("wattle/internal/sync")

// How far back appointments are pulled on each pass. Completed sessions
// inside this window feed the MHCP used-session counter.
const defaultLookback = 365 * 24 * time.Hour

// Store is the persistence surface a sync pass writes through.
type Store interface {
	UpsertPractitioner(ctx context.Context, p store.Practitioner) (string, error)
	UpsertClient(ctx context.Context, c store.Client) (string, error)
	UpsertSession(ctx context.Context, s store.Session) (string, error)
	RecordSyncStatus(ctx context.Context, s store.SyncStatus) error
}

// Upstream is the slice of the Halaxy API a sync pass reads from.
type Upstream interface {
	GetAllPractitioners(ctx context.Context) ([]halaxy.Practitioner, error)
	GetPractitioner(ctx context.Context, id string) (*halaxy.Practitioner, error)
	GetPatientsByPractitioner(ctx context.Context, practitionerID string) ([]halaxy.Patient, error)
	GetAppointmentsByPractitioner(ctx context.Context, practitionerID string, from time.Time) ([]halaxy.Appointment, error)
}

// SyncError is a per-record failure captured during a pass. Record-level
// failures never abort the pass; they accumulate on the result instead.
type SyncError struct {
	EntityType string `json:"entityType"`
	Message    string `json:"message"`
}

// SyncResult summarizes one practitioner's sync pass.
type SyncResult struct {
	Success          bool        `json:"success"`
	RecordsProcessed int         `json:"recordsProcessed"`
	DurationMillis   int64       `json:"durationMillis"`
	Errors           []SyncError `json:"errors,omitempty"`
}

// PractitionerSummary is one row of a SyncAll report.
type PractitionerSummary struct {
	PractitionerID   string      `json:"practitionerId"`
	Name             string      `json:"name"`
	Success          bool        `json:"success"`
	RecordsProcessed int         `json:"recordsProcessed"`
	DurationMillis   int64       `json:"durationMillis"`
	Errors           []SyncError `json:"errors,omitempty"`
}

// Service pulls practitioners, patients and appointments from Halaxy and
// upserts them into the local store.
type Service struct {
	upstream Upstream
	store    Store
	metrics  *metrics.SyncMetrics
	logger   *logging.Logger
	lookback time.Duration

	now func() time.Time
}

type ServiceConfig struct {
	Upstream Upstream
	Store    Store
	Metrics  *metrics.SyncMetrics
	Logger   *logging.Logger
	Lookback time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("sync: service requires upstream client")
	}
	if cfg.Store == nil {
		return nil, errors.New("sync: service requires store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}

	return &Service{
		upstream: cfg.Upstream,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   logger,
		lookback: lookback,
		now:      time.Now,
	}, nil
}

// FullSync runs one pass for a single practitioner. practitioner may be
// pre-fetched (as SyncAll does); pass nil to have it looked up by ID.
//
// A pass tolerates per-record failures: a malformed patient or appointment is
// recorded on the result and the pass moves on. Only failures that make the
// whole pass meaningless, such as the practitioner fetch or a collection
// fetch failing, mark the result unsuccessful.
func (s *Service) FullSync(ctx context.Context, practitionerID string, practitioner *halaxy.Practitioner) SyncResult {
	start := s.now()
	ctx, span := syncTracer.Start(ctx, "sync.full_sync",
		trace.WithAttributes(attribute.String("halaxy.practitioner_id", practitionerID)))
	defer span.End()

	result := s.runPass(ctx, practitionerID, practitioner)
	result.DurationMillis = s.now().Sub(start).Milliseconds()

	span.SetAttributes(
		attribute.Bool("sync.success", result.Success),
		attribute.Int("sync.records_processed", result.RecordsProcessed),
		attribute.Int("sync.error_count", len(result.Errors)),
	)
	s.metrics.ObserveSyncRun(result.Success, float64(result.DurationMillis)/1000.0, result.RecordsProcessed)

	s.recordStatus(ctx, practitionerID, result)

	s.logger.Info("sync pass finished",
		"practitioner_id", practitionerID,
		"success", result.Success,
		"records_processed", result.RecordsProcessed,
		"duration_ms", result.DurationMillis,
		"errors", len(result.Errors))

	return result
}

func (s *Service) runPass(ctx context.Context, practitionerID string, practitioner *halaxy.Practitioner) SyncResult {
	var result SyncResult

	if practitioner == nil {
		fetched, err := s.upstream.GetPractitioner(ctx, practitionerID)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{EntityType: "practitioner", Message: err.Error()})
			return result
		}
		practitioner = fetched
	}

	record, err := TransformPractitioner(*practitioner)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{EntityType: "practitioner", Message: err.Error()})
		return result
	}
	localPractitionerID, err := s.store.UpsertPractitioner(ctx, record)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{EntityType: "practitioner", Message: err.Error()})
		return result
	}
	result.RecordsProcessed++

	from := s.now().Add(-s.lookback)
	appointments, err := s.upstream.GetAppointmentsByPractitioner(ctx, practitionerID, from)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{EntityType: "appointment", Message: err.Error()})
		return result
	}
	patients, err := s.upstream.GetPatientsByPractitioner(ctx, practitionerID)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{EntityType: "patient", Message: err.Error()})
		return result
	}

	byPatient, orphans := groupAppointmentsByPatient(appointments)
	for _, appt := range orphans {
		result.Errors = append(result.Errors, SyncError{
			EntityType: "appointment",
			Message:    fmt.Sprintf("appointment %s has no patient participant", appt.ID),
		})
	}

	clientIDs := make(map[string]string, len(patients))
	for _, patient := range patients {
		completed := completedCount(byPatient[patient.ID])
		client, err := TransformPatient(patient, localPractitionerID, completed)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{EntityType: "patient", Message: err.Error()})
			continue
		}
		localID, err := s.store.UpsertClient(ctx, client)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{EntityType: "patient", Message: fmt.Sprintf("upsert %s: %v", patient.ID, err)})
			continue
		}
		clientIDs[patient.ID] = localID
		result.RecordsProcessed++
	}

	for patientID, appts := range byPatient {
		localClientID, ok := clientIDs[patientID]
		if !ok {
			result.Errors = append(result.Errors, SyncError{
				EntityType: "appointment",
				Message:    fmt.Sprintf("no synced patient %s for %d appointment(s)", patientID, len(appts)),
			})
			continue
		}
		for i, appt := range appts {
			if _, mapped := MapAppointmentStatus(appt.Status); !mapped {
				s.logger.Warn("unmapped appointment status",
					"status", appt.Status,
					"appointment_id", appt.ID)
				s.metrics.ObserveUnmappedStatus(appt.Status)
			}
			session, err := TransformAppointment(appt, localPractitionerID, localClientID, i+1)
			if err != nil {
				result.Errors = append(result.Errors, SyncError{EntityType: "appointment", Message: err.Error()})
				continue
			}
			if _, err := s.store.UpsertSession(ctx, session); err != nil {
				result.Errors = append(result.Errors, SyncError{EntityType: "appointment", Message: fmt.Sprintf("upsert %s: %v", appt.ID, err)})
				continue
			}
			result.RecordsProcessed++
		}
	}

	result.Success = true
	return result
}

// SyncAll runs FullSync sequentially for every practitioner in the practice.
// One practitioner failing never blocks the rest; the error return covers
// only the practitioner listing itself.
func (s *Service) SyncAll(ctx context.Context) ([]PractitionerSummary, error) {
	ctx, span := syncTracer.Start(ctx, "sync.sync_all")
	defer span.End()

	practitioners, err := s.upstream.GetAllPractitioners(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sync: list practitioners: %w", err)
	}

	summaries := make([]PractitionerSummary, 0, len(practitioners))
	for i := range practitioners {
		p := practitioners[i]
		res := s.FullSync(ctx, p.ID, &p)
		summaries = append(summaries, PractitionerSummary{
			PractitionerID:   p.ID,
			Name:             practitionerDisplayName(p),
			Success:          res.Success,
			RecordsProcessed: res.RecordsProcessed,
			DurationMillis:   res.DurationMillis,
			Errors:           res.Errors,
		})
	}

	span.SetAttributes(attribute.Int("sync.practitioner_count", len(summaries)))
	return summaries, nil
}

func (s *Service) recordStatus(ctx context.Context, practitionerID string, result SyncResult) {
	status := store.SyncStatus{
		PractitionerID:   practitionerID,
		Success:          result.Success,
		RecordsProcessed: result.RecordsProcessed,
		DurationMillis:   result.DurationMillis,
		SyncedAt:         s.now(),
	}
	if len(result.Errors) > 0 {
		status.ErrorDetail = result.Errors[0].Message
	}
	if err := s.store.RecordSyncStatus(ctx, status); err != nil {
		s.logger.Error("failed to record sync status", "practitioner_id", practitionerID, "error", err)
	}
}

func practitionerDisplayName(p halaxy.Practitioner) string {
	return displayName(p.Name)
}

// groupAppointmentsByPatient buckets appointments by their patient
// participant, chronologically ordered so the bucket index doubles as the
// session number.
func groupAppointmentsByPatient(appointments []halaxy.Appointment) (map[string][]halaxy.Appointment, []halaxy.Appointment) {
	grouped := make(map[string][]halaxy.Appointment)
	var orphans []halaxy.Appointment
	for _, appt := range appointments {
		patientID := PatientIDFromAppointment(appt)
		if patientID == "" {
			orphans = append(orphans, appt)
			continue
		}
		grouped[patientID] = append(grouped[patientID], appt)
	}
	for _, appts := range grouped {
		sort.SliceStable(appts, func(i, j int) bool { return appts[i].Start < appts[j].Start })
	}
	return grouped, orphans
}

func completedCount(appointments []halaxy.Appointment) int {
	count := 0
	for _, appt := range appointments {
		status, _ := MapAppointmentStatus(appt.Status)
		if IsCompletedStatus(status) {
			count++
		}
	}
	return count
}
