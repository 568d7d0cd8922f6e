package creem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/entitle-dev/entitle/pkg/billing"
	"github.com/entitle-dev/entitle/pkg/billing/internal"
)

// ackBody is the acknowledgement returned for every event that passed
// signature verification, including skipped and unknown ones. Business
// faults are visible only in logs and metrics, never to the provider: a
// provider retry cannot fix a code-level bug, it would only repeat the
// side effects.
var ackBody = map[string]string{"message": "Webhook received"}

// HandleWebhook runs the core pipeline on a raw body and signature header
// value: verify, parse, dispatch. It is the transport-independent entry
// point the framework adapters call; the returned error is
// billing.ErrProviderNotConfigured when no secret is set,
// billing.ErrInvalidWebhookSignature on verification failure, or wraps
// billing.ErrInvalidWebhookPayload on malformed payloads.
// Reconciliation faults never surface here.
func (p *Provider) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	startTime := time.Now()

	if p.webhookSecret == "" {
		return billing.ErrProviderNotConfigured
	}

	if !verifySignature(body, signature, p.webhookSecret) {
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return billing.ErrInvalidWebhookSignature
	}

	ev, err := ParseEvent(body)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return err
	}

	outcome := p.processEvent(ctx, ev)
	p.metrics.RecordWebhookEvent(providerName, string(ev.Type), outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, string(ev.Type), time.Since(startTime))
	return nil
}

// handleWebhook processes incoming Creem webhook requests.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, defaultMaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	if err := p.HandleWebhook(r.Context(), p.signatureFromRequest(r), body); err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook signature"})
			return
		}
		_ = internal.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, ackBody)
}

// signatureFromRequest extracts the signature header value.
func (p *Provider) signatureFromRequest(r *http.Request) string {
	return r.Header.Get(p.signatureHeader)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
