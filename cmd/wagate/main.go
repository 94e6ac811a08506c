package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reclaimhq/wagate/internal/config"
	"github.com/reclaimhq/wagate/internal/counter"
	"github.com/reclaimhq/wagate/internal/dispatch"
	"github.com/reclaimhq/wagate/internal/log"
	"github.com/reclaimhq/wagate/internal/ratelimit"
	"github.com/reclaimhq/wagate/internal/redact"
	"github.com/reclaimhq/wagate/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("wagate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`wagate - WhatsApp webhook ingestion gateway

Usage:
  wagate <command> [flags]

Commands:
  start       Start the gateway in the foreground
  version     Show version information
  help        Show this help message

Start flags:
  --config    Path to the YAML configuration file (default: config.yaml)
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(cfg.Log.Level)
	logger := log.WithComponent("main")

	store, err := counter.NewRedisStore(counter.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		return 1
	}
	defer store.Close()

	ipLimiter, err := ratelimit.New(store, cfg.RateLimits.IP.MaxRequests, cfg.RateLimits.IP.Window.Std())
	if err != nil {
		logger.Error("invalid ip rate limit rule", "error", err)
		return 1
	}
	userLimiter, err := ratelimit.New(store, cfg.RateLimits.User.MaxRequests, cfg.RateLimits.User.Window.Std())
	if err != nil {
		logger.Error("invalid user rate limit rule", "error", err)
		return 1
	}

	// The conversation engine and outbound client are external collaborators;
	// until they are wired in, an acknowledging stub keeps the pipeline whole.
	dispatcher := dispatch.New(
		ackEngine{logger: log.WithComponent("engine")},
		logSender{logger: log.WithComponent("sender")},
		userLimiter,
		log.WithComponent("dispatch"),
	)

	server := webhook.New(webhook.Config{
		Listen:      cfg.Server.Listen,
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		MaxBodySize: cfg.Server.MaxBodySize,
	}, ipLimiter, dispatcher, log.WithComponent("webhook"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("wagate starting", "version", version, "listen", cfg.Server.Listen)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("wagate stopped")
	return 0
}

// ackEngine acknowledges every message without conversation state.
type ackEngine struct {
	logger *slog.Logger
}

func (e ackEngine) Process(_ context.Context, userID, text string) (dispatch.Reply, error) {
	e.logger.Info("message received", "from", redact.Phone(userID), "chars", len(text))
	return dispatch.Reply{
		Text:  "Thanks, your message has been received.",
		State: "acknowledged",
	}, nil
}

// logSender records outbound replies instead of calling the platform API.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) Send(_ context.Context, to, text string) error {
	s.logger.Info("reply sent", "to", redact.Phone(to), "chars", len(text))
	return nil
}
