// Package transport moves contributor messages between a message bus and the
// conversation queue.
package transport

import (
	"time"

	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/session"
)

// MessageKind distinguishes inbound message shapes.
type MessageKind string

const (
	// KindText is a plain text message.
	KindText MessageKind = "text"
	// KindPhoto carries an image reference.
	KindPhoto MessageKind = "photo"
)

// IncomingMessage is a message received from a contributor.
type IncomingMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Location  *session.Location `json:"location,omitempty"`
	ID        string            `json:"id"`
	From      string            `json:"from"`
	Kind      MessageKind       `json:"kind"`
	Text      string            `json:"text,omitempty"`
	ImageRef  string            `json:"image_ref,omitempty"`
}

// Event converts the message into a controller event.
func (m IncomingMessage) Event() controller.Event {
	kind := controller.EventText
	if m.Kind == KindPhoto {
		kind = controller.EventPhoto
	}
	return controller.Event{
		MessageID:  m.ID,
		Identity:   m.From,
		Kind:       kind,
		Text:       m.Text,
		ImageRef:   m.ImageRef,
		Location:   m.Location,
		ReceivedAt: m.Timestamp,
	}
}

// OutgoingMessage is a reply published to a contributor.
type OutgoingMessage struct {
	SentAt time.Time `json:"sent_at"`
	To     string    `json:"to"`
	Text   string    `json:"text"`
}
