package creem

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the hex-encoded HMAC-SHA256 of the exact raw
// request body under the shared webhook secret. Exported so tests and
// local tooling can forge valid requests.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature authenticates a webhook request. It is a pure function of
// (body, signature, secret): no secret configured, a missing signature, or
// a mismatch all fail closed. The comparison is constant-time and
// byte-for-byte against the raw body, never against re-serialized JSON.
func verifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
