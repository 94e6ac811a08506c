package webhook

// Config holds webhook server configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string

	// VerifyToken is the token echoed during the platform's GET handshake.
	VerifyToken string

	// AppSecret is the HMAC key for X-Hub-Signature-256 verification.
	AppSecret string

	// MaxBodySize is the maximum allowed request body size in bytes
	// (default: 1MB).
	MaxBodySize int64
}

// IngestResponse is the JSON response for an accepted webhook delivery.
// Per-message failures are reported here, not via HTTP status: once a
// delivery passes admission and authentication, the HTTP exchange succeeds.
type IngestResponse struct {
	Status           string `json:"status"`
	MessagesReceived int    `json:"messages_received"`
	Processed        int    `json:"processed"`
	Failed           int    `json:"failed"`
}

// ErrorResponse is the JSON body for rejected requests.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB

	// subscribeMode is the only hub.mode the GET handshake accepts.
	subscribeMode = "subscribe"
)
