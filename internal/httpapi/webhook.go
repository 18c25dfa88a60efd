package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/digkill/InfographicAI/internal/payments"
)

const webhookTimeout = 30 * time.Second

func (s *Server) handleWebhookHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "endpoint": "dodo-payments-webhook"})
}

// handleDodoWebhook answers 401 only for deliveries that fail signature
// verification. Every verified delivery gets 200, including ones that were
// ignored or failed internally, so the provider does not retry them; those
// failures are logged and alerted instead.
func (s *Server) handleDodoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.deps.Verifier.Verify(r.Header, body); err != nil {
		s.log.Warn("dodo webhook rejected", "webhook_id", r.Header.Get("webhook-id"), "err", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	evt, err := payments.ParseEvent(body)
	if err != nil {
		s.log.Error("dodo webhook payload unreadable", "webhook_id", r.Header.Get("webhook-id"), "err", err)
		s.writeJSON(w, http.StatusOK, map[string]string{"received": "true", "outcome": "invalid"})
		return
	}

	// The purchase row and its credit must both land once the first one
	// commits, even if the provider hangs up in between.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()
	outcome, err := s.deps.Purchases.HandlePaymentEvent(ctx, evt)
	if err != nil {
		s.log.Error("dodo webhook processing failed", "webhook_id", r.Header.Get("webhook-id"), "transaction_id", evt.TransactionID, "outcome", outcome, "err", err)
	} else {
		s.log.Info("dodo webhook processed", "webhook_id", r.Header.Get("webhook-id"), "type", evt.Type, "transaction_id", evt.TransactionID, "outcome", outcome)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"received": "true", "outcome": string(outcome)})
}
