package core

import (
	"errors"
)

var (
	// ErrMissingReference: the event names a market or token that is not
	// registered. The event is skipped.
	ErrMissingReference = errors.New("missing reference")

	// ErrInvalidSource: the event was emitted by the wrong contract. The
	// event is skipped.
	ErrInvalidSource = errors.New("invalid event source")

	// ErrOutOfOrder: the event's log position does not advance past the last
	// processed one and the event is not a known duplicate. This is not a
	// skip: the event was never applied and must not be acknowledged.
	ErrOutOfOrder = errors.New("event out of log order")

	// ErrUnknownEvent: no handler exists for the event type.
	ErrUnknownEvent = errors.New("unknown event type")
)

// IsSkip reports whether err means the event was reported and dropped
// without touching state. Any other error is a processing failure the host
// should retry.
func IsSkip(err error) bool {
	return errors.Is(err, ErrMissingReference) ||
		errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrUnknownEvent)
}

// skipReason is the metric label of a skip error.
func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrInvalidSource):
		return "invalid_source"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown"
	default:
		return "error"
	}
}
