package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wattlehealth/platform/internal/halaxy"
	"github.com/wattlehealth/platform/pkg/logging"
)

// Handler serves the public availability and booking endpoints.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// AvailabilityResponse lists bookable slots for the requested window.
type AvailabilityResponse struct {
	Slots []Slot `json:"slots"`
}

// Availability handles GET /availability. Accepts "from" and "to" RFC3339
// query parameters plus optional "durationMinutes" and "practitionerId".
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := AvailabilityQuery{
		PractitionerID: r.URL.Query().Get("practitionerId"),
	}

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		q.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		q.To = t
	}
	if raw := r.URL.Query().Get("durationMinutes"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins <= 0 {
			http.Error(w, "durationMinutes must be a positive integer", http.StatusBadRequest)
			return
		}
		q.DurationMinutes = mins
	}

	slots, err := h.service.Availability(r.Context(), q)
	if err != nil {
		h.logger.Error("availability lookup failed", "error", err)
		http.Error(w, "availability lookup failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{Slots: slots})
}

// Practitioners handles GET /practitioners.
func (h *Handler) Practitioners(w http.ResponseWriter, r *http.Request) {
	practitioners, err := h.service.Practitioners(r.Context())
	if err != nil {
		h.logger.Error("practitioner listing failed", "error", err)
		http.Error(w, "practitioner listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"practitioners": practitioners})
}

type bookingRequest struct {
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	SessionType    string    `json:"sessionType"`
	LocationType   string    `json:"locationType"`
	PractitionerID string    `json:"practitionerId"`
}

// Create handles POST /bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	conf, err := h.service.Book(r.Context(), Request{
		FirstName:      body.FirstName,
		LastName:       body.LastName,
		Email:          body.Email,
		Phone:          body.Phone,
		Start:          body.Start,
		End:            body.End,
		SessionType:    body.SessionType,
		LocationType:   body.LocationType,
		PractitionerID: body.PractitionerID,
	})
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Reason, http.StatusBadRequest)
			return
		}
		var upstreamVErr *halaxy.ValidationError
		if errors.As(err, &upstreamVErr) {
			http.Error(w, upstreamVErr.Reason, http.StatusBadRequest)
			return
		}
		h.logger.Error("booking failed", "error", err)
		http.Error(w, "booking failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, conf)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
