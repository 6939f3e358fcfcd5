package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists synced Halaxy entities in Postgres. Every write keyed
// by an upstream ID is an upsert so repeated sync passes stay idempotent.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

// UpsertPractitioner inserts or updates a practitioner keyed by its Halaxy ID
// and returns the local row ID.
func (r *Repository) UpsertPractitioner(ctx context.Context, p Practitioner) (string, error) {
	query := `
		INSERT INTO practitioners (id, halaxy_practitioner_id, first_name, last_name, display_name, email, phone, qualifications, specialty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (halaxy_practitioner_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			qualifications = EXCLUDED.qualifications,
			specialty = EXCLUDED.specialty,
			updated_at = now()
		RETURNING id
	`
	var id string
	if err := r.db.QueryRow(ctx, query,
		uuid.NewString(),
		p.HalaxyPractitionerID,
		p.FirstName,
		p.LastName,
		p.DisplayName,
		p.Email,
		p.Phone,
		p.Qualifications,
		p.Specialty,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("store: upsert practitioner: %w", err)
	}
	return id, nil
}

// UpsertClient inserts or updates a client keyed by (practitioner, Halaxy
// patient ID) and returns the local row ID.
func (r *Repository) UpsertClient(ctx context.Context, c Client) (string, error) {
	query := `
		INSERT INTO clients (id, practitioner_id, halaxy_patient_id, first_name, last_name, initials, email, phone, date_of_birth, mhcp_total_sessions, mhcp_used_sessions, mhcp_plan_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (practitioner_id, halaxy_patient_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			initials = EXCLUDED.initials,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			date_of_birth = EXCLUDED.date_of_birth,
			mhcp_total_sessions = EXCLUDED.mhcp_total_sessions,
			mhcp_used_sessions = EXCLUDED.mhcp_used_sessions,
			mhcp_plan_start = EXCLUDED.mhcp_plan_start,
			updated_at = now()
		RETURNING id
	`
	var id string
	if err := r.db.QueryRow(ctx, query,
		uuid.NewString(),
		c.PractitionerID,
		c.HalaxyPatientID,
		c.FirstName,
		c.LastName,
		c.Initials,
		c.Email,
		c.Phone,
		c.DateOfBirth,
		c.MHCPTotalSessions,
		c.MHCPUsedSessions,
		c.MHCPPlanStart,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("store: upsert client: %w", err)
	}
	return id, nil
}

// UpsertSession inserts or updates a session keyed by the Halaxy appointment
// ID and returns the local row ID.
func (r *Repository) UpsertSession(ctx context.Context, s Session) (string, error) {
	query := `
		INSERT INTO sessions (id, practitioner_id, client_id, halaxy_appointment_id, status, session_type, session_number, scheduled_start, scheduled_end, actual_start, actual_end, fee_amount, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (halaxy_appointment_id) DO UPDATE SET
			practitioner_id = EXCLUDED.practitioner_id,
			client_id = EXCLUDED.client_id,
			status = EXCLUDED.status,
			session_type = EXCLUDED.session_type,
			session_number = EXCLUDED.session_number,
			scheduled_start = EXCLUDED.scheduled_start,
			scheduled_end = EXCLUDED.scheduled_end,
			actual_start = EXCLUDED.actual_start,
			actual_end = EXCLUDED.actual_end,
			fee_amount = EXCLUDED.fee_amount,
			paid = EXCLUDED.paid,
			updated_at = now()
		RETURNING id
	`
	var id string
	if err := r.db.QueryRow(ctx, query,
		uuid.NewString(),
		s.PractitionerID,
		s.ClientID,
		s.HalaxyAppointmentID,
		string(s.Status),
		s.SessionType,
		s.SessionNumber,
		s.ScheduledStart,
		s.ScheduledEnd,
		s.ActualStart,
		s.ActualEnd,
		s.FeeAmount,
		s.Paid,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("store: upsert session: %w", err)
	}
	return id, nil
}

// SessionCountsByPatient reports how many sessions are stored for a patient
// and how many of those are completed, keyed by the Halaxy patient ID.
func (r *Repository) SessionCountsByPatient(ctx context.Context, halaxyPatientID string) (total int, completed int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE s.status = 'completed')
		FROM sessions s
		JOIN clients c ON s.client_id = c.id
		WHERE c.halaxy_patient_id = $1
	`
	if err := r.db.QueryRow(ctx, query, halaxyPatientID).Scan(&total, &completed); err != nil {
		return 0, 0, fmt.Errorf("store: session counts by patient: %w", err)
	}
	return total, completed, nil
}

// RecordSyncStatus appends a sync audit row for a practitioner.
func (r *Repository) RecordSyncStatus(ctx context.Context, s SyncStatus) error {
	query := `
		INSERT INTO sync_status (id, practitioner_id, success, records_processed, duration_ms, error_detail, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	syncedAt := s.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, query,
		uuid.NewString(),
		s.PractitionerID,
		s.Success,
		s.RecordsProcessed,
		s.DurationMillis,
		s.ErrorDetail,
		syncedAt,
	); err != nil {
		return fmt.Errorf("store: record sync status: %w", err)
	}
	return nil
}

// LatestSyncStatus returns the most recent sync row for a practitioner.
func (r *Repository) LatestSyncStatus(ctx context.Context, practitionerID string) (*SyncStatus, error) {
	query := `
		SELECT practitioner_id, success, records_processed, duration_ms, error_detail, synced_at
		FROM sync_status
		WHERE practitioner_id = $1
		ORDER BY synced_at DESC
		LIMIT 1
	`
	var s SyncStatus
	if err := r.db.QueryRow(ctx, query, practitionerID).Scan(
		&s.PractitionerID,
		&s.Success,
		&s.RecordsProcessed,
		&s.DurationMillis,
		&s.ErrorDetail,
		&s.SyncedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: latest sync status: %w", err)
	}
	return &s, nil
}

// GetPractitionerByHalaxyID returns the locally synced practitioner for an
// upstream ID, or ErrNotFound when it has never been synced.
func (r *Repository) GetPractitionerByHalaxyID(ctx context.Context, halaxyID string) (*Practitioner, error) {
	query := `
		SELECT id, halaxy_practitioner_id, first_name, last_name, display_name, email, phone, qualifications, specialty, created_at, updated_at
		FROM practitioners
		WHERE halaxy_practitioner_id = $1
	`
	var p Practitioner
	if err := r.db.QueryRow(ctx, query, halaxyID).Scan(
		&p.ID,
		&p.HalaxyPractitionerID,
		&p.FirstName,
		&p.LastName,
		&p.DisplayName,
		&p.Email,
		&p.Phone,
		&p.Qualifications,
		&p.Specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: practitioner by halaxy id: %w", err)
	}
	return &p, nil
}

// ListPractitioners returns all locally synced practitioners.
func (r *Repository) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	query := `
		SELECT id, halaxy_practitioner_id, first_name, last_name, display_name, email, phone, qualifications, specialty, created_at, updated_at
		FROM practitioners
		ORDER BY display_name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list practitioners: %w", err)
	}
	defer rows.Close()

	var out []Practitioner
	for rows.Next() {
		var p Practitioner
		if err := rows.Scan(
			&p.ID,
			&p.HalaxyPractitionerID,
			&p.FirstName,
			&p.LastName,
			&p.DisplayName,
			&p.Email,
			&p.Phone,
			&p.Qualifications,
			&p.Specialty,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan practitioner: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list practitioners: %w", err)
	}
	return out, nil
}
