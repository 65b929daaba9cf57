package queue

import (
	"time"

	"github.com/Veraticus/sightings/internal/controller"
)

// Message is a queued inbound event.
type Message struct {
	EnqueuedAt time.Time
	Event      controller.Event
}

// NewMessage wraps an event for queuing.
func NewMessage(ev controller.Event) *Message {
	return &Message{Event: ev, EnqueuedAt: time.Now()}
}

// Identity is the conversation key.
func (m *Message) Identity() string {
	return m.Event.Identity
}
