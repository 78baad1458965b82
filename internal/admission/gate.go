// Package admission decides whether a derived command may reach the modules.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"deskbridge/pkg/bridge"
)

// Limiter is the per-subject decision the gate delegates to.
type Limiter interface {
	Allow(subject string) (limited bool, retryAfter time.Duration)
}

// KeyFunc derives the limiter subject from a command event.
type KeyFunc func(command *bridge.Event) string

// Gate rate-limits commands per requester and answers rejected requesters.
type Gate struct {
	limiter    Limiter
	dispatcher bridge.SinkDispatcher
	keyFn      KeyFunc
	logger     *slog.Logger

	admitted atomic.Int64
	rejected atomic.Int64
}

// Option mutates gate construction configuration.
type Option func(*Gate)

// WithKeyFunc replaces the default <platform>:<actor id> subject key.
func WithKeyFunc(keyFn KeyFunc) Option {
	return func(gate *Gate) {
		if keyFn != nil {
			gate.keyFn = keyFn
		}
	}
}

// WithLogger configures the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(gate *Gate) {
		if logger != nil {
			gate.logger = logger
		}
	}
}

// Stats is a point-in-time view of gate decisions.
type Stats struct {
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

// New creates a gate. dispatcher delivers the rate-limit notice.
func New(limiter Limiter, dispatcher bridge.SinkDispatcher, options ...Option) (*Gate, error) {
	if limiter == nil {
		return nil, fmt.Errorf("new admission gate: nil limiter")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("new admission gate: nil dispatcher")
	}

	gate := &Gate{
		limiter:    limiter,
		dispatcher: dispatcher,
		keyFn:      (*bridge.Event).SubjectKey,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(gate)
	}

	return gate, nil
}

// Admit reports whether command may be published to modules.
//
// A rejected requester receives one rate-limit notice; the command itself
// never reaches a module. Commands without a subject are admitted.
func (g *Gate) Admit(ctx context.Context, command *bridge.Event) (bool, error) {
	if command == nil {
		return false, fmt.Errorf("admit command: nil event")
	}
	subject := g.keyFn(command)
	if subject == "" {
		g.admitted.Add(1)
		return true, nil
	}

	limited, retryAfter := g.limiter.Allow(subject)
	if !limited {
		g.admitted.Add(1)
		return true, nil
	}
	g.rejected.Add(1)

	limitErr := &bridge.RateLimitError{Subject: subject, RetryAfter: retryAfter}
	g.logger.DebugContext(ctx, "command rejected by rate limiter",
		"subject", subject,
		"command", commandName(command),
		"retry_after", retryAfter,
	)

	responder, err := bridge.NewDispatchResponder(g.dispatcher, command)
	if err != nil {
		return false, fmt.Errorf("admit command %s: %w", command.ID, err)
	}
	if err := responder.Respond(ctx, bridge.Reply{Text: RateLimitMessage(limitErr)}); err != nil {
		return false, fmt.Errorf("admit command %s: notify rate limit: %w", command.ID, err)
	}

	return false, nil
}

// Stats returns admitted and rejected command counts since construction.
func (g *Gate) Stats() Stats {
	return Stats{
		Admitted: g.admitted.Load(),
		Rejected: g.rejected.Load(),
	}
}

// RateLimitMessage renders the notice sent to a rejected requester.
func RateLimitMessage(limitErr *bridge.RateLimitError) string {
	return fmt.Sprintf("⚠️ Rate limit exceeded. Please try again in %d seconds.", limitErr.RetryAfterSeconds())
}

func commandName(event *bridge.Event) string {
	if event.Command == nil {
		return ""
	}

	return event.Command.Name
}

var _ bridge.CommandAdmission = (*Gate)(nil)
