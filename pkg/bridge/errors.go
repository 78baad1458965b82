package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("bridge: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("bridge: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("bridge: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("bridge: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("bridge: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("bridge: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("bridge: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("bridge: driver already registered")
	// ErrInvalidOutboundRequest indicates an outbound request that cannot be dispatched.
	ErrInvalidOutboundRequest = errors.New("bridge: invalid outbound request")
	// ErrOutboundUnsupported indicates that no sink can serve an outbound request.
	ErrOutboundUnsupported = errors.New("bridge: outbound operation unsupported")

	// ErrInvalidArgument marks user input rejected before any upstream work.
	ErrInvalidArgument = errors.New("bridge: invalid argument")
	// ErrRateLimited marks a request rejected by the admission limiter.
	ErrRateLimited = errors.New("bridge: rate limit exceeded")
	// ErrTicketNotFound marks a ticket the ticketing backend reports as absent.
	ErrTicketNotFound = errors.New("bridge: ticket not found")
	// ErrUpstream marks any other failure of a ticketing or summarization call.
	ErrUpstream = errors.New("bridge: upstream failure")
	// ErrInvalidConfig marks construction parameters that must abort startup.
	ErrInvalidConfig = errors.New("bridge: invalid config")
)

// ValidationError describes rejected command input.
//
// Reason is safe to show to the requesting user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return "validation error: " + e.Reason
	}

	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is matches ErrInvalidArgument.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// RateLimitError reports that a subject exhausted its request window.
type RateLimitError struct {
	// Subject is the limiter key of the rejected requester.
	Subject string
	// RetryAfter is the remaining wait until one slot frees up.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return fmt.Sprintf("rate limit exceeded: subject=%s retry_after=%s", e.Subject, e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}

	return int64((e.RetryAfter + time.Second - 1) / time.Second)
}

// UpstreamError wraps one failed call to a ticketing or summarization backend.
type UpstreamError struct {
	// Service names the backend, for example "zendesk" or "openai".
	Service string
	// Operation names the failed call, for example "fetch_ticket".
	Operation string
	// StatusCode carries the HTTP status when one was received.
	StatusCode int
	// Cause is the wrapped transport or decoding error.
	Cause error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return describeError("upstream error", e.Cause,
		"service", e.Service,
		"operation", e.Operation,
		"status", nonZero(e.StatusCode),
	)
}

// Unwrap returns the wrapped root cause.
func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Is matches ErrUpstream. Not-found causes are reached through Unwrap.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// ConfigError reports one invalid construction parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Is matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// AsValidationError extracts one ValidationError from wrapped error chains.
func AsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}

	return nil, false
}

// describeError renders "<head>: k=v k=v: cause", skipping blank values.
// pairs alternates keys and values.
func describeError(head string, cause error, pairs ...string) string {
	var b strings.Builder
	b.WriteString(head)
	separator := ": "
	for index := 0; index+1 < len(pairs); index += 2 {
		value := strings.TrimSpace(pairs[index+1])
		if value == "" {
			continue
		}
		b.WriteString(separator)
		b.WriteString(pairs[index])
		b.WriteByte('=')
		b.WriteString(value)
		separator = " "
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}

	return b.String()
}

func nonZero[T comparable](value T) string {
	var zero T
	if value == zero {
		return ""
	}

	return fmt.Sprint(value)
}
