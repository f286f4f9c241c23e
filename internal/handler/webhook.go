package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/jmarchant/reverie/internal/grant"
	"github.com/jmarchant/reverie/internal/payment"
)

type WebhookHandler struct {
	paymentClient *payment.Client
	reconciler    *grant.Reconciler
	logger        *slog.Logger
}

func NewWebhookHandler(pc *payment.Client, rec *grant.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{paymentClient: pc, reconciler: rec, logger: logger}
}

// HandleStripeWebhook is the processor push endpoint. Signature failures
// are rejected with no state change; handler failures return 5xx so the
// processor's own redelivery takes care of retries.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.paymentClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook: signature verification failed")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		if !h.handleCheckoutCompleted(event) {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	case "customer.subscription.deleted":
		if !h.handleSubscriptionDeleted(event) {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) bool {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		// Malformed payload will not improve on redelivery.
		return true
	}

	view := payment.SessionFromCheckout(&sess)
	if !view.Paid {
		// Async payment methods complete checkout before the charge
		// settles; the later confirm poll picks those up.
		h.logger.Info("webhook: checkout completed but unpaid", "session", view.ID)
		return true
	}

	g, err := h.reconciler.ApplyCheckoutCompleted(view)
	if err != nil {
		h.logger.Error("webhook: apply checkout completed", "session", view.ID, "error", err)
		return false
	}
	h.logger.Info("webhook: grant ready", "session", view.ID, "type", g.Type)
	return true
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) bool {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return true
	}
	if sub.Customer == nil {
		h.logger.Warn("webhook: subscription deleted without customer")
		return true
	}

	if err := h.reconciler.ApplySubscriptionCancelled(sub.Customer.ID); err != nil {
		h.logger.Error("webhook: record cancellation", "customer", sub.Customer.ID, "error", err)
		return false
	}
	h.logger.Info("webhook: subscription cancelled", "customer", sub.Customer.ID)
	return true
}
