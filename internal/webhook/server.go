package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reclaimhq/wagate/internal/dispatch"
	"github.com/reclaimhq/wagate/internal/payload"
	"github.com/reclaimhq/wagate/internal/ratelimit"
)

// signatureHeader is the platform's HMAC header on every POST delivery.
const signatureHeader = "X-Hub-Signature-256"

// Batcher processes one delivery's decoded messages.
type Batcher interface {
	ProcessBatch(ctx context.Context, msgs []payload.Message) dispatch.BatchOutcome
}

// Server is the webhook HTTP server: the GET verification handshake and the
// authenticated, rate-limited POST ingestion path.
type Server struct {
	config     Config
	ipLimiter  *ratelimit.Limiter
	dispatcher Batcher
	logger     *slog.Logger
	server     *http.Server
}

// New creates a webhook server instance.
func New(config Config, ipLimiter *ratelimit.Limiter, dispatcher Batcher, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:     config,
		ipLimiter:  ipLimiter,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/webhook", s.handleVerify)
	r.Post("/webhook", s.handleReceive)
	r.Get("/health", s.handleHealth)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload bodies).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleVerify handles the platform's GET verification handshake: echo the
// challenge when the mode and verify token match, 403 otherwise.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("hub.mode") != subscribeMode {
		s.respondError(w, http.StatusForbidden, "Invalid mode")
		return
	}
	if query.Get("hub.verify_token") != s.config.VerifyToken {
		s.respondError(w, http.StatusForbidden, "Invalid verify token")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(query.Get("hub.challenge")))
}

// handleReceive handles POST deliveries. Gates run cheapest-first: body size,
// IP rate limit, signature, JSON parse. Once a delivery is admitted and
// authenticated the response is 200 regardless of per-message failures.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	// IP gate runs before any cryptography; floods are rejected cheaply.
	ip := clientIP(r)
	if err := s.ipLimiter.CheckAndConsume(ctx, ip); err != nil {
		if ratelimit.IsLimitExceeded(err) {
			s.respondRateLimited(w, ip, err)
			return
		}
		// A store outage must not silently admit or silently block traffic.
		s.logger.Error("ip rate limit check failed", "client_ip", ip, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "Missing "+signatureHeader+" header")
		return
	}

	// Verify over the raw bytes, before any JSON decoding.
	if !VerifySignature(body, signature, s.config.AppSecret) {
		s.logger.Warn("webhook signature verification failed", "client_ip", ip)
		s.respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.respondError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	messages := payload.Decode(envelope)
	outcome := s.dispatcher.ProcessBatch(ctx, messages)

	s.respondJSON(w, http.StatusOK, IngestResponse{
		Status:           "success",
		MessagesReceived: outcome.MessagesReceived,
		Processed:        outcome.Processed,
		Failed:           outcome.Failed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondRateLimited(w http.ResponseWriter, clientIP string, err error) {
	retryAfter := ratelimit.RetryAfterSeconds(err)
	s.logger.Warn("ip rate limit exceeded", "client_ip", clientIP, "retry_after", retryAfter)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.respondError(w, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retryAfter))
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, ErrorResponse{Detail: detail})
}

// clientIP extracts the caller's address. middleware.RealIP has already
// folded X-Forwarded-For / X-Real-IP into RemoteAddr; strip the port if one
// remains.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
