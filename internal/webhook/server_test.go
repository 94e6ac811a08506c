package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/reclaimhq/wagate/internal/counter"
	"github.com/reclaimhq/wagate/internal/dispatch"
	"github.com/reclaimhq/wagate/internal/payload"
	"github.com/reclaimhq/wagate/internal/ratelimit"
)

const testSecret = "test-app-secret"

// mockBatcher is a hand-rolled Batcher for testing.
type mockBatcher struct {
	processFn func(ctx context.Context, msgs []payload.Message) dispatch.BatchOutcome
	calls     int
}

func (m *mockBatcher) ProcessBatch(ctx context.Context, msgs []payload.Message) dispatch.BatchOutcome {
	m.calls++
	if m.processFn != nil {
		return m.processFn(ctx, msgs)
	}
	return dispatch.BatchOutcome{MessagesReceived: len(msgs), Processed: len(msgs)}
}

// brokenStore fails every operation, simulating a store outage.
type brokenStore struct{}

func (brokenStore) Increment(context.Context, string) (int64, error) {
	return 0, &counter.StoreError{Op: "incr", Err: errors.New("connection refused")}
}
func (brokenStore) Get(context.Context, string) (int64, bool, error) {
	return 0, false, &counter.StoreError{Op: "get", Err: errors.New("connection refused")}
}
func (brokenStore) SetWithTTL(context.Context, string, int64, time.Duration) error {
	return &counter.StoreError{Op: "set", Err: errors.New("connection refused")}
}
func (brokenStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, &counter.StoreError{Op: "ttl", Err: errors.New("connection refused")}
}
func (brokenStore) Delete(context.Context, string) (bool, error) {
	return false, &counter.StoreError{Op: "del", Err: errors.New("connection refused")}
}
func (brokenStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, maxRequests int, batcher Batcher) *Server {
	t.Helper()
	limiter, err := ratelimit.New(counter.NewMemoryStore(), maxRequests, time.Minute)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	return New(Config{
		Listen:      "127.0.0.1:0",
		VerifyToken: "verify-me",
		AppSecret:   testSecret,
	}, limiter, batcher, testLogger())
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", SignPayload(body, testSecret))
	return req
}

func TestHandleVerify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid handshake echoes challenge",
			query:      "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=challenge-123",
			wantStatus: http.StatusOK,
			wantBody:   "challenge-123",
		},
		{
			name:       "wrong mode",
			query:      "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=x",
			wantStatus: http.StatusForbidden,
			wantBody:   "Invalid mode",
		},
		{
			name:       "missing mode",
			query:      "hub.verify_token=verify-me&hub.challenge=x",
			wantStatus: http.StatusForbidden,
			wantBody:   "Invalid mode",
		},
		{
			name:       "wrong token",
			query:      "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=x",
			wantStatus: http.StatusForbidden,
			wantBody:   "Invalid verify token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, 100, &mockBatcher{})
			req := httptest.NewRequest("GET", "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()

			server.handleVerify(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleReceive_ValidDelivery(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [
						{"type": "text", "from": "15551234567", "id": "wamid.1", "timestamp": "1700000000", "text": {"body": "hello"}},
						{"type": "text", "from": "15551234567", "id": "wamid.2", "timestamp": "1700000001", "text": {"body": "world"}}
					]
				}
			}]
		}]
	}`)

	batcher := &mockBatcher{
		processFn: func(ctx context.Context, msgs []payload.Message) dispatch.BatchOutcome {
			if len(msgs) != 2 {
				t.Errorf("decoded %d messages, want 2", len(msgs))
			}
			return dispatch.BatchOutcome{MessagesReceived: len(msgs), Processed: 1, Failed: 1}
		},
	}
	server := newTestServer(t, 100, batcher)

	rec := httptest.NewRecorder()
	server.handleReceive(rec, signedRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("Status = %q, want success", resp.Status)
	}
	if resp.MessagesReceived != 2 || resp.Processed != 1 || resp.Failed != 1 {
		t.Errorf("counts = %+v, want received=2 processed=1 failed=1", resp)
	}
	if batcher.calls != 1 {
		t.Errorf("ProcessBatch calls = %d, want 1", batcher.calls)
	}
}

func TestHandleReceive_InvalidSignature(t *testing.T) {
	batcher := &mockBatcher{
		processFn: func(ctx context.Context, msgs []payload.Message) dispatch.BatchOutcome {
			t.Fatal("ProcessBatch should not be called with an invalid signature")
			return dispatch.BatchOutcome{}
		},
	}
	server := newTestServer(t, 100, batcher)

	body := []byte(`{"entry":[]}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=0000000000000000000000000000000000000000000000000000000000000000")
	rec := httptest.NewRecorder()

	server.handleReceive(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Detail != "Invalid signature" {
		t.Errorf("Detail = %q, want %q", resp.Detail, "Invalid signature")
	}
}

func TestHandleReceive_MissingSignatureHeader(t *testing.T) {
	server := newTestServer(t, 100, &mockBatcher{})

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`{"entry":[]}`)))
	rec := httptest.NewRecorder()

	server.handleReceive(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleReceive_RateLimited(t *testing.T) {
	server := newTestServer(t, 1, &mockBatcher{})
	body := []byte(`{"entry":[]}`)

	// First request consumes the window's only slot.
	rec := httptest.NewRecorder()
	server.handleReceive(rec, signedRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Second request from the same address must be rejected.
	rec = httptest.NewRecorder()
	server.handleReceive(rec, signedRequest(body))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.Detail, "Rate limit exceeded. Retry after ") {
		t.Errorf("Detail = %q, want rate limit message with retry hint", resp.Detail)
	}
}

func TestHandleReceive_StoreOutageIs500(t *testing.T) {
	limiter, err := ratelimit.New(brokenStore{}, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	server := New(Config{
		Listen:      "127.0.0.1:0",
		VerifyToken: "verify-me",
		AppSecret:   testSecret,
	}, limiter, &mockBatcher{}, testLogger())

	rec := httptest.NewRecorder()
	server.handleReceive(rec, signedRequest([]byte(`{"entry":[]}`)))

	// An unreachable store must not masquerade as a rate limit rejection.
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleReceive_MalformedJSON(t *testing.T) {
	server := newTestServer(t, 100, &mockBatcher{})

	rec := httptest.NewRecorder()
	server.handleReceive(rec, signedRequest([]byte(`{"entry": [`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleReceive_PayloadTooLarge(t *testing.T) {
	limiter, err := ratelimit.New(counter.NewMemoryStore(), 100, time.Minute)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	server := New(Config{
		Listen:      "127.0.0.1:0",
		VerifyToken: "verify-me",
		AppSecret:   testSecret,
		MaxBodySize: 64,
	}, limiter, &mockBatcher{}, testLogger())

	body := bytes.Repeat([]byte("x"), 65)
	rec := httptest.NewRecorder()
	server.handleReceive(rec, signedRequest(body))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, 100, &mockBatcher{})

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q, want it to contain \"ok\"", rec.Body.String())
	}
}

func TestRoutes_EndToEnd(t *testing.T) {
	server := newTestServer(t, 100, &mockBatcher{})
	router := server.setupRoutes()

	body := []byte(`{"entry":[]}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", SignPayload(body, testSecret))
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}
