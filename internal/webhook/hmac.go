package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks an X-Hub-Signature-256 header against the raw
// request body using HMAC-SHA256 with the shared app secret.
//
// The header must carry the "sha256=" prefix; anything else is rejected
// outright. The comparison is constant-time (crypto/subtle) to prevent timing
// attacks. Malformed input never panics or errors; it returns false.
//
// body must be the exact bytes as transmitted. Re-serializing a parsed JSON
// object produces a different digest, so verification runs before any JSON
// decoding.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	received, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, received) == 1
}

// SignPayload produces the X-Hub-Signature-256 header value for a body.
// Used by tests and local tooling that replays webhook deliveries.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
