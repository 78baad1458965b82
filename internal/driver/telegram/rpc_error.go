package telegram

import (
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"deskbridge/pkg/bridge"
)

// classifyRPCError turns an MTProto failure into a bridge.OutboundError so
// callers can decide on retries without importing gotd.
func classifyRPCError(operation bridge.OutboundOperation, sink bridge.EventSink, err error) error {
	if err == nil || errors.Is(err, bridge.ErrInvalidOutboundRequest) {
		return err
	}

	classified := &bridge.OutboundError{
		Operation: operation,
		Kind:      bridge.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}
	if rpcErr, ok := tgerr.As(err); ok {
		classified.Code = rpcErr.Code
		classified.Type = rpcErr.Type
		classified.Kind = rpcErrorKind(rpcErr.Code, rpcErr.Type)
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		classified.Kind = bridge.OutboundErrorKindRateLimited
		classified.RetryAfter = wait
	}

	return classified
}

// rpcErrorKind follows the MTProto error code families: 303 migrations and
// 5xx are transient, 4xx rejections are final, 420 and FLOOD_* are throttling.
func rpcErrorKind(code int, errorType string) bridge.OutboundErrorKind {
	switch {
	case code == 420 || code == 429 || strings.Contains(strings.ToUpper(errorType), "FLOOD"):
		return bridge.OutboundErrorKindRateLimited
	case code == 303 || code >= 500:
		return bridge.OutboundErrorKindTemporary
	case code >= 400 && code <= 406:
		return bridge.OutboundErrorKindPermanent
	default:
		return bridge.OutboundErrorKindUnknown
	}
}
