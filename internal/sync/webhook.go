package sync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wattlehealth/platform/pkg/logging"
)

// WebhookHandler reacts to Halaxy change notifications by syncing the
// affected practitioner. Payloads are authenticated with an HMAC-SHA256
// signature over the raw body.
type WebhookHandler struct {
	secret  string
	service *Service
	logger  *logging.Logger
}

func NewWebhookHandler(secret string, service *Service, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{secret: strings.TrimSpace(secret), service: service, logger: logger}
}

type webhookEvent struct {
	Event          string `json:"event"`
	PractitionerID string `json:"practitionerId"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Error("halaxy webhook secret not configured")
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !verifySignature(h.secret, payload, r.Header.Get("X-Halaxy-Signature")) {
		h.logger.Warn("invalid halaxy webhook signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if evt.PractitionerID == "" {
		http.Error(w, "practitionerId is required", http.StatusBadRequest)
		return
	}

	h.logger.Info("halaxy webhook received", "event", evt.Event, "practitioner_id", evt.PractitionerID)

	result := h.service.FullSync(r.Context(), evt.PractitionerID, nil)
	writeJSON(w, http.StatusOK, result)
}

func verifySignature(secret string, payload []byte, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return false
	}
	header = strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}
