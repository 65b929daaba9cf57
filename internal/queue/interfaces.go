package queue

import (
	"context"

	"github.com/Veraticus/sightings/internal/controller"
)

// EventHandler applies one event to its conversation.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev controller.Event) (controller.Outcome, error)
}

// RateLimiter decides whether an identity may submit another message now.
type RateLimiter interface {
	Allow(identity string) bool
}
