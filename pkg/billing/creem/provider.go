// Package creem implements the webhook ingestion and subscription
// reconciliation engine for the Creem payment provider: signature
// verification, event parsing, a static event router, the subscription
// reconciler, access-signal derivation, and the trial-abuse guard.
package creem

import (
	"net/http"
	"strings"
	"time"

	"github.com/entitle-dev/entitle/pkg/billing"
	"github.com/entitle-dev/entitle/pkg/billing/internal"
	"github.com/entitle-dev/entitle/pkg/entitle"
)

const (
	providerName = "creem"

	defaultSignatureHeader   = "creem-signature"
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Creem-specific options.
type Config struct {
	billing.Config

	// SignatureHeader overrides the request header carrying the
	// hex-encoded HMAC-SHA256 signature. Default: "creem-signature".
	SignatureHeader string

	// Rate limit tuning for the webhook endpoint. Defaults: 100 requests
	// per minute per client IP.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Provider implements billing.Provider for Creem.
type Provider struct {
	store                 entitle.Store
	webhookSecret         string
	signatureHeader       string
	disableReconciliation bool

	onGrantAccess  billing.AccessCallback
	onRevokeAccess billing.AccessCallback
	eventCallbacks map[string]billing.EventCallback

	logger      entitle.Logger
	metrics     billing.Metrics
	rateLimiter *internal.RateLimiter
}

// NewProvider creates a new Creem webhook provider. A Store is required
// unless reconciliation is disabled; the webhook secret may be configured
// later in the deployment's lifetime, in which case the handler refuses
// requests until it is set.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil && !config.DisableReconciliation {
		return nil, billing.ErrProviderNotConfigured
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitle.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	signatureHeader := strings.TrimSpace(config.SignatureHeader)
	if signatureHeader == "" {
		signatureHeader = defaultSignatureHeader
	}

	rateLimitRequests := config.RateLimitRequests
	if rateLimitRequests <= 0 {
		rateLimitRequests = defaultRateLimitRequests
	}
	rateLimitWindow := config.RateLimitWindow
	if rateLimitWindow <= 0 {
		rateLimitWindow = defaultRateLimitWindow
	}

	return &Provider{
		store:                 config.Store,
		webhookSecret:         strings.TrimSpace(config.WebhookSecret),
		signatureHeader:       signatureHeader,
		disableReconciliation: config.DisableReconciliation,
		onGrantAccess:         config.OnGrantAccess,
		onRevokeAccess:        config.OnRevokeAccess,
		eventCallbacks:        config.EventCallbacks,
		logger:                logger,
		metrics:               metrics,
		rateLimiter:           internal.NewRateLimiter(rateLimitRequests, rateLimitWindow),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// SignatureHeader returns the request header carrying the webhook signature.
func (p *Provider) SignatureHeader() string {
	return p.signatureHeader
}

// WebhookHandler returns the HTTP handler for Creem webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}
