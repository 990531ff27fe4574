// Package webhooks implements inbound webhook processing: HMAC signature
// verification over the raw body, per-channel payload normalization into a
// canonical message shape, and the ingest flow that turns verified payloads
// into queued work, bookings, and reminders.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks a hex-encoded HMAC-SHA256 signature over the raw
// request body. The comparison is constant time. An empty secret or
// signature always fails: signature checking is opt-out only through the
// strictness config, never through a missing header.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the hex HMAC-SHA256 signature for a payload. Used by tests
// and by outbound webhook replies.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
