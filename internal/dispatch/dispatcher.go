// Package dispatch routes decoded webhook messages to the conversation
// engine, one at a time, with per-message failure isolation: a message that
// fails never aborts its siblings in the same delivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reclaimhq/wagate/internal/payload"
	"github.com/reclaimhq/wagate/internal/ratelimit"
	"github.com/reclaimhq/wagate/internal/redact"
)

// Reply is what the conversation engine returns for one processed message.
type Reply struct {
	Text  string
	State string
}

// Conversation is the external engine deciding bot replies. Its internals
// (state machine, matching, persistence) live outside this service.
type Conversation interface {
	Process(ctx context.Context, userID, text string) (Reply, error)
}

// Sender delivers outbound platform messages. Fire-and-forget from this
// package's perspective.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// BatchOutcome aggregates the result of one webhook delivery.
type BatchOutcome struct {
	MessagesReceived int
	Processed        int
	Failed           int
}

// Dispatcher processes decoded messages sequentially and contains each
// message's failure to itself.
type Dispatcher struct {
	engine      Conversation
	sender      Sender
	userLimiter *ratelimit.Limiter
	logger      *slog.Logger
}

// New creates a dispatcher. The user limiter may be nil to disable the
// per-user admission check.
func New(engine Conversation, sender Sender, userLimiter *ratelimit.Limiter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		sender:      sender,
		userLimiter: userLimiter,
		logger:      logger,
	}
}

// ProcessBatch runs every message through ProcessOne in decode order and
// aggregates the counts. Processing is sequential so the counts and log
// ordering stay deterministic; delivery batches are small.
func (d *Dispatcher) ProcessBatch(ctx context.Context, msgs []payload.Message) BatchOutcome {
	batchLog := d.logger.With(slog.String("batch_id", uuid.NewString()))

	outcome := BatchOutcome{MessagesReceived: len(msgs)}
	for _, msg := range msgs {
		ok, _ := d.processOne(ctx, batchLog, msg)
		if ok {
			outcome.Processed++
		} else {
			outcome.Failed++
		}
	}

	if outcome.MessagesReceived > 0 {
		batchLog.Info("batch processed",
			"messages_received", outcome.MessagesReceived,
			"processed", outcome.Processed,
			"failed", outcome.Failed,
		)
	}
	return outcome
}

// ProcessOne handles a single message. It reports success and the effective
// text that was (or would have been) handed to the conversation engine.
func (d *Dispatcher) ProcessOne(ctx context.Context, msg payload.Message) (bool, string) {
	return d.processOne(ctx, d.logger, msg)
}

func (d *Dispatcher) processOne(ctx context.Context, logger *slog.Logger, msg payload.Message) (bool, string) {
	text := EffectiveText(msg)
	if text == "" {
		logger.Warn("skipping message without usable text",
			"from", redact.Phone(msg.From),
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return false, ""
	}

	if d.userLimiter != nil {
		err := d.userLimiter.CheckAndConsume(ctx, ratelimit.UserKey(msg.From))
		if err != nil {
			if ratelimit.IsLimitExceeded(err) {
				logger.Warn("user rate limit exceeded",
					"from", redact.Phone(msg.From),
					"message_id", msg.ID,
				)
			} else {
				// Store outage during the per-user check is contained to this
				// message; the IP-level gate is where store failures escalate.
				logger.Error("user rate limit check failed",
					"from", redact.Phone(msg.From),
					"message_id", msg.ID,
					"error", err,
				)
			}
			return false, text
		}
	}

	reply, err := d.engine.Process(ctx, msg.From, text)
	if err != nil {
		logger.Error("failed to process message",
			"from", redact.Phone(msg.From),
			"message_id", msg.ID,
			"error", err,
		)
		return false, text
	}

	if reply.Text != "" {
		if err := d.sender.Send(ctx, msg.From, reply.Text); err != nil {
			logger.Error("failed to send reply",
				"from", redact.Phone(msg.From),
				"message_id", msg.ID,
				"state", reply.State,
				"error", err,
			)
			return false, text
		}
	}

	logger.Info("message processed",
		"from", redact.Phone(msg.From),
		"message_id", msg.ID,
		"state", reply.State,
	)
	return true, text
}

// EffectiveText derives the text handed to the conversation engine.
//
// Locations synthesize a human-readable string from the coordinates plus any
// name/address. Interactive replies resolve to the button id, falling back to
// the list id. Text messages use the body verbatim. Everything else has no
// usable text and returns "".
func EffectiveText(msg payload.Message) string {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return msg.Text.Body
		}
	case "location":
		if msg.Location != nil {
			return locationText(msg.Location)
		}
	case "interactive":
		if msg.Interactive != nil {
			if msg.Interactive.ButtonID != "" {
				return msg.Interactive.ButtonID
			}
			return msg.Interactive.ListID
		}
	}
	return ""
}

func locationText(loc *payload.LocationContent) string {
	text := fmt.Sprintf("Location: %s, %s", loc.Latitude, loc.Longitude)
	if loc.Name != "" {
		text += fmt.Sprintf(" (%s)", loc.Name)
	}
	if loc.Address != "" {
		text += fmt.Sprintf(" - %s", loc.Address)
	}
	return text
}
