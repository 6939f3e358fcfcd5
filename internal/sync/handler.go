package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wattlehealth/platform/internal/store"
	"github.com/wattlehealth/platform/pkg/logging"
)

// StatusReader exposes the last recorded sync outcome per practitioner.
type StatusReader interface {
	LatestSyncStatus(ctx context.Context, practitionerID string) (*store.SyncStatus, error)
}

// Handler serves the manual sync trigger and sync status endpoints.
type Handler struct {
	service  *Service
	lock     *Lock
	statuses StatusReader
	logger   *logging.Logger
}

func NewHandler(service *Service, lock *Lock, statuses StatusReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, lock: lock, statuses: statuses, logger: logger}
}

// TriggerResponse is the body returned by a manual sync trigger.
type TriggerResponse struct {
	Message             string                `json:"message"`
	TotalDurationMillis int64                 `json:"totalDurationMillis"`
	Practitioners       []PractitionerSummary `json:"practitioners"`
}

// TriggerSync runs a full practice sync on demand.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	acquired, err := h.lock.Acquire(r.Context())
	if err != nil {
		h.logger.Error("sync lock unavailable", "error", err)
		http.Error(w, "sync lock unavailable", http.StatusServiceUnavailable)
		return
	}
	if !acquired {
		http.Error(w, "a sync is already running", http.StatusConflict)
		return
	}
	defer h.lock.Release(r.Context())

	start := time.Now()
	summaries, err := h.service.SyncAll(r.Context())
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}

	resp := TriggerResponse{
		Message:             "sync completed",
		TotalDurationMillis: time.Since(start).Milliseconds(),
		Practitioners:       summaries,
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncStatusResponse reports the most recent pass for one practitioner.
type SyncStatusResponse struct {
	PractitionerID   string    `json:"practitionerId"`
	Success          bool      `json:"success"`
	RecordsProcessed int       `json:"recordsProcessed"`
	DurationMillis   int64     `json:"durationMillis"`
	ErrorDetail      string    `json:"errorDetail,omitempty"`
	SyncedAt         time.Time `json:"syncedAt"`
}

// Status returns the latest recorded sync outcome for a practitioner. The
// practitioner is identified by the "practitionerId" query parameter.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	practitionerID := r.URL.Query().Get("practitionerId")
	if practitionerID == "" {
		http.Error(w, "practitionerId is required", http.StatusBadRequest)
		return
	}

	status, err := h.statuses.LatestSyncStatus(r.Context(), practitionerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no sync recorded for practitioner", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load sync status", "practitioner_id", practitionerID, "error", err)
		http.Error(w, "failed to load sync status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, SyncStatusResponse{
		PractitionerID:   status.PractitionerID,
		Success:          status.Success,
		RecordsProcessed: status.RecordsProcessed,
		DurationMillis:   status.DurationMillis,
		ErrorDetail:      status.ErrorDetail,
		SyncedAt:         status.SyncedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
