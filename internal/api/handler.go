package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"settlement-service/internal/polling"
	"settlement-service/internal/settlement"
)

// Handler adapts the exposed settlement operations onto HTTP. It only
// translates requests and responses; all behavior lives in the components.
type Handler struct {
	orchestrator *settlement.Orchestrator
	manager      *polling.Manager
	logger       *slog.Logger
}

func NewHandler(orchestrator *settlement.Orchestrator, manager *polling.Manager, logger *slog.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, manager: manager, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /payments/callback", h.handleCallback)
	mux.HandleFunc("POST /webhooks/payments", h.handleWebhook)

	mux.HandleFunc("POST /polling/sessions", h.startSession)
	mux.HandleFunc("DELETE /polling/sessions/{id}", h.stopSession)
	mux.HandleFunc("POST /polling/sessions/{id}/restart", h.restartSession)
	mux.HandleFunc("GET /polling/sessions/{id}", h.getSession)
	mux.HandleFunc("GET /polling/sessions", h.listSessions)
	mux.HandleFunc("GET /polling/stats", h.stats)
	mux.HandleFunc("POST /polling/cleanup", h.cleanup)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	orderRef := r.URL.Query().Get("reference")

	outcome, err := h.orchestrator.HandleCallback(r.Context(), orderRef)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Callback handling ended in error outcome", "error", err)
		switch {
		case errors.Is(err, settlement.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"outcome": string(outcome), "error": "unknown order reference"})
		case errors.Is(err, settlement.ErrValidation):
			writeJSON(w, http.StatusBadRequest, map[string]string{"outcome": string(outcome), "error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	err = h.orchestrator.HandleWebhook(r.Context(), rawBody,
		r.Header.Get("Payment-Signature"),
		r.Header.Get("Payment-Timestamp"),
		r.Header.Get("Content-Digest"))

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, settlement.ErrAuthentication):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
	case errors.Is(err, settlement.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, settlement.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown order reference"})
	default:
		// Signal the provider to retry later.
		h.logger.ErrorContext(r.Context(), "Webhook handling failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
	}
}

type startSessionRequest struct {
	PaymentID         uuid.UUID `json:"paymentId"`
	OrderRef          string    `json:"orderRef"`
	IntervalMs        int       `json:"intervalMs"`
	MaxAttempts       int       `json:"maxAttempts"`
	BackoffMultiplier float64   `json:"backoffMultiplier"`
	MaxBackoffMs      int       `json:"maxBackoffMs"`
	EnableBroadcast   *bool     `json:"enableRealTimeBroadcast"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	cfg := polling.Config{
		IntervalMs:        req.IntervalMs,
		MaxAttempts:       req.MaxAttempts,
		BackoffMultiplier: req.BackoffMultiplier,
		MaxBackoffMs:      req.MaxBackoffMs,
		EnableBroadcast:   true,
	}
	if req.EnableBroadcast != nil {
		cfg.EnableBroadcast = *req.EnableBroadcast
	}

	sessionID, err := h.manager.Start(r.Context(), req.PaymentID, req.OrderRef, cfg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID.String()})
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	if !h.manager.Stop(sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) restartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	newID, err := h.manager.Restart(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": newID.String()})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	view, ok := h.manager.Get(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ListActive())
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Stats())
}

type cleanupRequest struct {
	MaxAgeHours int `json:"maxAgeHours"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	removed := h.manager.Cleanup(req.MaxAgeHours)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
