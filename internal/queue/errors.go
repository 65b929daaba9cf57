package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates an identity is sending faster than allowed.
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueStopped indicates the queue has been stopped.
	ErrQueueStopped = errors.New("queue stopped")
)

// RateLimitError reports which identity was throttled.
type RateLimitError struct {
	Identity  string
	MessageID string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: identity %s, message %s", e.Identity, e.MessageID)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
