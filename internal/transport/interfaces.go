package transport

import (
	"context"

	"github.com/Veraticus/sightings/internal/queue"
)

// Messenger abstracts the message bus.
type Messenger interface {
	// Send delivers text to recipient.
	Send(ctx context.Context, recipient string, text string) error

	// Subscribe returns a channel of incoming messages. The channel is
	// closed when ctx is canceled.
	Subscribe(ctx context.Context) (<-chan IncomingMessage, error)
}

// Enqueuer accepts messages for processing.
type Enqueuer interface {
	Submit(msg *queue.Message) error
}

// Recorder observes messages the handler could not enqueue.
type Recorder interface {
	ObserveDropped(reason string)
}
