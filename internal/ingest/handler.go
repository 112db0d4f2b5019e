// ABOUTME: HTTP layer for the per-platform webhook endpoints
// ABOUTME: POST receives deliveries, GET answers registration handshakes

package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halcyon-health/relay/internal/platform"
	"github.com/halcyon-health/relay/internal/store"
)

// maxWebhookBody caps webhook payload size. Platform deliveries are small;
// anything above this is hostile.
const maxWebhookBody = 1 << 20

// Handler exposes the webhook endpoints backed by the ingest service.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger.With("component", "webhook")}
}

// Mount registers the webhook routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/webhooks/{platform}/{account_id}", h.Receive)
	r.Get("/webhooks/{platform}/{account_id}", h.Verify)
}

// Receive handles one webhook delivery.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	platformName := chi.URLParam(r, "platform")
	accountID := chi.URLParam(r, "account_id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	count, err := h.service.HandleWebhook(r.Context(), platformName, accountID, body, r.Header)
	if err != nil {
		h.logger.Warn("webhook rejected",
			"platform", platformName,
			"account_id", accountID,
			"error", err)
		writeError(w, statusFor(err), "webhook rejected")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": count})
}

// Verify answers the GET challenge handshake for platforms that require
// one at webhook registration time.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	platformName := chi.URLParam(r, "platform")
	accountID := chi.URLParam(r, "account_id")

	challenge, ok, err := h.service.Challenge(r.Context(), platformName, accountID, r.URL.Query())
	if err != nil {
		writeError(w, statusFor(err), "verification rejected")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "verification rejected")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, platform.ErrUnknownPlatform):
		return http.StatusNotFound
	case errors.Is(err, ErrVerificationFailed), errors.Is(err, ErrAccountInactive):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
