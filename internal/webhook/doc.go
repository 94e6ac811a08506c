// Package webhook implements the WhatsApp Cloud API webhook surface: the GET
// verification handshake and the authenticated, rate-limited POST ingestion
// path.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified with crypto/subtle (constant-time comparison)
// - Verification runs over the raw body bytes, before any JSON decoding
// - Body size limits enforced to prevent DoS
// - IP-level rate limiting before any cryptography
// - Request logging excludes payload bodies; user identifiers are redacted downstream
//
// # Request Flow (POST /webhook)
//
//  1. Body read with size limit (413 if too large)
//  2. IP-level fixed-window rate limit (429 + Retry-After if exceeded,
//     500 if the counter store is unreachable)
//  3. X-Hub-Signature-256 extracted (422 if structurally missing)
//  4. HMAC-SHA256 verified over the raw body (403 on mismatch)
//  5. JSON parsed (400 if malformed)
//  6. Envelope decoded into normalized messages; malformed branches dropped
//  7. Each message dispatched with per-message failure isolation
//  8. 200 with {status, messages_received, processed, failed}; business-level
//     partial failure lives in the body, never in the HTTP status
//
// # Verification Handshake (GET /webhook)
//
// hub.mode must equal "subscribe" and hub.verify_token must match the
// configured token; the hub.challenge value is echoed back as text/plain.
// Either mismatch yields 403 with a descriptive reason.
package webhook
