package bridge

import (
	"errors"
	"time"
)

// OutboundOperation names a SinkDispatcher method in errors.
type OutboundOperation string

const (
	OutboundOperationSendMessage OutboundOperation = "send_message"
	OutboundOperationEditMessage OutboundOperation = "edit_message"
	OutboundOperationSetReaction OutboundOperation = "set_reaction"
)

// OutboundErrorKind says whether a failed reply is worth retrying.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited is platform flood control. RetryAfter may
	// say how long to wait.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	OutboundErrorKindTemporary   OutboundErrorKind = "temporary"
	OutboundErrorKindPermanent   OutboundErrorKind = "permanent"
	OutboundErrorKindUnknown     OutboundErrorKind = "unknown"
)

// OutboundError is a failed SinkDispatcher call with the platform's own
// error code and type when it sent one.
type OutboundError struct {
	Operation  OutboundOperation
	Kind       OutboundErrorKind
	Platform   Platform
	SinkID     string
	RetryAfter time.Duration
	Code       int
	Type       string
	Cause      error
}

func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return describeError("outbound error", e.Cause,
		"operation", string(e.Operation),
		"kind", string(e.Kind),
		"platform", string(e.Platform),
		"sink_id", e.SinkID,
		"retry_after", nonZero(e.RetryAfter),
		"code", nonZero(e.Code),
		"type", e.Type,
	)
}

// Unwrap returns Cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundRateLimit reports whether err is a rate-limited OutboundError and
// its retry hint, which is zero when the platform gave none.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) && outboundErr.Kind == OutboundErrorKindRateLimited {
		return outboundErr.RetryAfter, true
	}

	return 0, false
}
