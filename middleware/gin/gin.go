// Package gin provides a Gin handler for webhook providers.
package gin

import (
	"errors"
	"io"
	"net/http"

	gongin "github.com/gin-gonic/gin"

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

// Handler returns a Gin handler serving the provider's webhook endpoint.
//
//	router.POST("/webhooks/creem", ginmw.Handler(ginmw.Config{Processor: provider}))
func Handler(config Config) gongin.HandlerFunc {
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return func(c *gongin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gongin.H{"error": "payload too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gongin.H{"error": "failed to read request body"})
			return
		}

		signature := c.GetHeader(config.Processor.SignatureHeader())
		err = config.Processor.HandleWebhook(c.Request.Context(), signature, body)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gongin.H{"message": "Webhook received"})
		case errors.Is(err, billing.ErrProviderNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "webhook not configured"})
		case errors.Is(err, billing.ErrInvalidWebhookSignature):
			c.JSON(http.StatusBadRequest, gongin.H{"error": "invalid webhook signature"})
		default:
			c.JSON(http.StatusBadRequest, gongin.H{"error": "invalid webhook payload"})
		}
	}
}
