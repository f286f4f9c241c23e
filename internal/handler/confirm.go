package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmarchant/reverie/internal/enttoken"
	"github.com/jmarchant/reverie/internal/grant"
	"github.com/jmarchant/reverie/internal/model"
)

// retryAfterSeconds is the spacing the client is told to poll with while a
// payment is still settling.
const retryAfterSeconds = 3

type ConfirmHandler struct {
	reconciler *grant.Reconciler
	signer     *enttoken.Signer
	logger     *slog.Logger
}

func NewConfirmHandler(rec *grant.Reconciler, signer *enttoken.Signer, logger *slog.Logger) *ConfirmHandler {
	return &ConfirmHandler{reconciler: rec, signer: signer, logger: logger}
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

type confirmResponse struct {
	OK        bool            `json:"ok"`
	Pending   bool            `json:"pending,omitempty"`
	Type      model.GrantType `json:"type,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Code      *string         `json:"code,omitempty"`
	Token     string          `json:"token,omitempty"`
	RetryIn   int             `json:"retry_in_seconds,omitempty"`
}

// Confirm is the client-driven confirmation entry point. Idempotent; safe
// to call any number of times for the same session.
func (h *ConfirmHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	g, err := h.reconciler.ConfirmPayment(r.Context(), req.SessionID)
	if errors.Is(err, grant.ErrPaymentPending) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(confirmResponse{OK: false, Pending: true, RetryIn: retryAfterSeconds})
		return
	}
	if errors.Is(err, grant.ErrVerifyUnavailable) {
		h.logger.Warn("confirm: processor unreachable", "error", err)
		http.Error(w, "could not verify payment, try again later", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error("confirm: issue grant", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := confirmResponse{
		OK:        true,
		Type:      g.Type,
		ExpiresAt: g.ExpiresAt,
		Code:      g.Code,
	}
	if token, err := h.signer.Mint(g); err != nil {
		h.logger.Warn("confirm: mint token", "error", err)
	} else {
		resp.Token = token
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type verifyResponse struct {
	Paid bool            `json:"paid"`
	Type model.GrantType `json:"type,omitempty"`
}

// Verify is a read-only probe for lightweight polling. It never issues a
// grant.
func (h *ConfirmHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	paid, typ, err := h.reconciler.VerifySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("verify: processor unreachable", "error", err)
		http.Error(w, "could not verify payment, try again later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verifyResponse{Paid: paid, Type: typ})
}
