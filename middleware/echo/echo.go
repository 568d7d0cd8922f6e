// Package echo provides an Echo handler for webhook providers.
package echo

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/entitle-dev/entitle/pkg/billing"
)

// DefaultMaxBodyBytes caps webhook request bodies.
const DefaultMaxBodyBytes = 256 * 1024

// Config holds webhook handler configuration.
type Config struct {
	// Processor handles verified webhook deliveries (required).
	Processor billing.WebhookProcessor

	// MaxBodyBytes caps the request body size.
	// Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler returns an Echo handler serving the provider's webhook endpoint.
//
//	e.POST("/webhooks/creem", echomw.Handler(echomw.Config{Processor: provider}))
func Handler(config Config) echo.HandlerFunc {
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxBody))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			}
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		}

		signature := req.Header.Get(config.Processor.SignatureHeader())
		err = config.Processor.HandleWebhook(req.Context(), signature, body)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, map[string]string{"message": "Webhook received"})
		case errors.Is(err, billing.ErrProviderNotConfigured):
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "webhook not configured"})
		case errors.Is(err, billing.ErrInvalidWebhookSignature):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook signature"})
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
		}
	}
}
