package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmarchant/reverie/internal/enttoken"
	"github.com/jmarchant/reverie/internal/grant"
	"github.com/jmarchant/reverie/internal/model"
)

type AccessHandler struct {
	issuer   *grant.Issuer
	resolver *grant.Resolver
	signer   *enttoken.Signer
	logger   *slog.Logger
}

func NewAccessHandler(issuer *grant.Issuer, resolver *grant.Resolver, signer *enttoken.Signer, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{issuer: issuer, resolver: resolver, signer: signer, logger: logger}
}

type saveRequest struct {
	SessionID string `json:"session_id"`
	Method    string `json:"method"`
	Email     string `json:"email,omitempty"`
}

type saveResponse struct {
	OK   bool   `json:"ok"`
	Code string `json:"code,omitempty"`
}

// Save binds a confirmed grant to a recoverable identifier. The user picks
// one method; re-saving returns the existing binding unchanged.
func (h *AccessHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case "code":
		code, err := h.issuer.BindCode(req.SessionID)
		if err != nil {
			h.writeSaveError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(saveResponse{OK: true, Code: code})
	case "email":
		if !strings.Contains(req.Email, "@") {
			http.Error(w, "invalid email", http.StatusBadRequest)
			return
		}
		if err := h.issuer.BindEmail(req.SessionID, req.Email); err != nil {
			h.writeSaveError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(saveResponse{OK: true})
	default:
		http.Error(w, "method must be \"code\" or \"email\"", http.StatusBadRequest)
	}
}

func (h *AccessHandler) writeSaveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grant.ErrNoGrant):
		http.Error(w, "no confirmed payment for session", http.StatusNotFound)
	case errors.Is(err, grant.ErrAlreadyBound):
		http.Error(w, "access already saved another way", http.StatusConflict)
	default:
		h.logger.Error("save access", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type recoverRequest struct {
	Code  string `json:"code,omitempty"`
	Email string `json:"email,omitempty"`
}

type recoverResponse struct {
	Type      model.GrantType `json:"type,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	HoursLeft *int            `json:"hours_left,omitempty"`
	Token     string          `json:"token,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Recover reconstructs an entitlement from a code or an email.
func (h *AccessHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if (req.Code == "") == (req.Email == "") {
		http.Error(w, "provide exactly one of code or email", http.StatusBadRequest)
		return
	}

	var res grant.Resolution
	var err error
	if req.Code != "" {
		res, err = h.resolver.ResolveCode(r.Context(), req.Code)
	} else {
		res, err = h.resolver.ResolveEmail(r.Context(), req.Email)
	}
	if err != nil {
		h.logger.Warn("recover access", "error", err)
		http.Error(w, "could not check access, try again later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch res.Status {
	case grant.StatusActive:
		resp := recoverResponse{
			Type:      res.Grant.Type,
			ExpiresAt: res.Grant.ExpiresAt,
		}
		if res.Grant.ExpiresAt != nil {
			hours := int(res.Remaining.Hours())
			resp.HoursLeft = &hours
		}
		if token, err := h.signer.Mint(res.Grant); err != nil {
			h.logger.Warn("recover: mint token", "error", err)
		} else {
			resp.Token = token
		}
		json.NewEncoder(w).Encode(resp)
	case grant.StatusExpired:
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(recoverResponse{Error: "expired"})
	case grant.StatusInactive:
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(recoverResponse{Error: "no_longer_active"})
	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(recoverResponse{Error: "not_found"})
	}
}
