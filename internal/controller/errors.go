package controller

import (
	"errors"

	"github.com/Veraticus/sightings/internal/matcher"
)

var (
	// ErrInvalidSelection indicates a numbered reply outside the offered list,
	// or YES when more than one candidate is on offer.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrUnknownCommand indicates input that has no transition from the current state.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDuplicateMessage indicates a message ID already processed for the identity.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrFinalizeFailed indicates the finalizer rejected a completed sighting.
	ErrFinalizeFailed = errors.New("finalize failed")

	// ErrNameTooLong indicates a contributor name over MaxNameLength.
	ErrNameTooLong = errors.New("contributor name too long")

	// ErrInvalidEvent indicates an event missing its identity or kind.
	ErrInvalidEvent = errors.New("invalid event")
)

// ErrorKind maps a recoverable error to a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, matcher.ErrRegistryUnavailable):
		return "registry_unavailable"
	case errors.Is(err, matcher.ErrMalformedPlate):
		return "malformed_plate"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrDuplicateMessage):
		return "duplicate_message"
	case errors.Is(err, ErrFinalizeFailed):
		return "finalize_failed"
	case errors.Is(err, ErrNameTooLong):
		return "name_too_long"
	default:
		return "other"
	}
}
