package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmarchant/reverie/internal/accesscode"
	"github.com/jmarchant/reverie/internal/emailhash"
	"github.com/jmarchant/reverie/internal/model"
	"github.com/jmarchant/reverie/internal/payment"
	"github.com/jmarchant/reverie/internal/store"
)

type CheckoutHandler struct {
	paymentClient *payment.Client
	grants        *store.GrantStore
	hasher        *emailhash.Hasher
	logger        *slog.Logger
}

func NewCheckoutHandler(pc *payment.Client, grants *store.GrantStore, hasher *emailhash.Hasher, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{paymentClient: pc, grants: grants, hasher: hasher, logger: logger}
}

// CreateCheckoutSession creates a hosted checkout session for a grant type
// and returns the URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type model.GrantType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Type.Valid() {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	url, err := h.paymentClient.CreateCheckoutSession(r.Context(), req.Type)
	if err != nil {
		h.logger.Error("create checkout session", "error", err)
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// BillingPortal resolves a saved code or email to its customer and returns
// a billing portal URL for subscription management.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code,omitempty"`
		Email string `json:"email,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if (req.Code == "") == (req.Email == "") {
		http.Error(w, "provide exactly one of code or email", http.StatusBadRequest)
		return
	}

	var g *model.AccessGrant
	var err error
	if req.Code != "" {
		g, err = h.grants.GetByCode(accesscode.Normalize(req.Code))
	} else {
		var hash string
		hash, err = h.hasher.Hash(req.Email)
		if err == nil {
			g, err = h.grants.GetByEmailHash(hash)
		}
	}
	if err != nil {
		h.logger.Error("billing portal: grant lookup", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if g == nil || g.CustomerID == nil {
		http.Error(w, "no billing account", http.StatusNotFound)
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = "/account"
	}

	url, err := h.paymentClient.CreateBillingPortalSession(r.Context(), *g.CustomerID, returnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "error", err)
		http.Error(w, "failed to create portal session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}
