// Package http provides net/http helpers for mounting webhook providers.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/entitle-dev/entitle/pkg/billing"
)

// DefaultMaxBodyBytes caps webhook request bodies. Provider events are
// small; anything past this is hostile or broken.
const DefaultMaxBodyBytes = 256 * 1024

// Config holds webhook handler configuration.
type Config struct {
	// Processor handles verified webhook deliveries (required).
	Processor billing.WebhookProcessor

	// MaxBodyBytes caps the request body size.
	// Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler returns an http.Handler that reads the raw body, extracts the
// provider's signature header, and maps processor errors to HTTP status
// codes. Every verified event is acknowledged with 200 regardless of
// reconciliation outcome.
func Handler(config Config) http.Handler {
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
			return
		}

		signature := r.Header.Get(config.Processor.SignatureHeader())
		WriteResult(w, config.Processor.HandleWebhook(r.Context(), signature, body))
	})
}

// Mount registers a webhook handler for each processor on mux under
// prefix, e.g. Mount(mux, "/webhooks", p) serves p at "/webhooks/creem".
func Mount(mux *http.ServeMux, prefix string, processors ...billing.WebhookProcessor) {
	prefix = strings.TrimRight(prefix, "/")
	for _, p := range processors {
		mux.Handle(prefix+"/"+p.Name(), Handler(Config{Processor: p}))
	}
}

// WriteResult maps a HandleWebhook error to the wire response shared by
// all transport adapters.
func WriteResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook received"})
	case errors.Is(err, billing.ErrProviderNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "webhook not configured"})
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook signature"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
