// Package fiber provides a Fiber handler for webhook providers.
package fiber

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/entitle-dev/entitle/pkg/billing"
)

// DefaultMaxBodyBytes caps webhook request bodies. Fiber enforces its own
// BodyLimit as well; this is the lower bound the handler applies itself.
const DefaultMaxBodyBytes = 256 * 1024

// Config holds webhook handler configuration.
type Config struct {
	// Processor handles verified webhook deliveries (required).
	Processor billing.WebhookProcessor

	// MaxBodyBytes caps the request body size.
	// Default: DefaultMaxBodyBytes.
	MaxBodyBytes int
}

// Handler returns a Fiber handler serving the provider's webhook endpoint.
//
//	app.Post("/webhooks/creem", fibermw.Handler(fibermw.Config{Processor: provider}))
func Handler(config Config) fiber.Handler {
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return func(c *fiber.Ctx) error {
		body := c.Body()
		if len(body) > maxBody {
			return c.Status(http.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "payload too large"})
		}

		// Fiber reuses request buffers after the handler returns; the
		// processor may hand the payload to callbacks, so copy it.
		raw := make([]byte, len(body))
		copy(raw, body)

		signature := c.Get(config.Processor.SignatureHeader())
		err := config.Processor.HandleWebhook(c.UserContext(), signature, raw)
		switch {
		case err == nil:
			return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Webhook received"})
		case errors.Is(err, billing.ErrProviderNotConfigured):
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook not configured"})
		case errors.Is(err, billing.ErrInvalidWebhookSignature):
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook signature"})
		default:
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook payload"})
		}
	}
}
