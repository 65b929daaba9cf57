package controller

import (
	"time"

	"github.com/Veraticus/sightings/internal/session"
)

// EventKind distinguishes inbound message shapes.
type EventKind string

const (
	// EventPhoto carries an image reference and optional location.
	EventPhoto EventKind = "PHOTO"
	// EventText carries a text body.
	EventText EventKind = "TEXT"
)

// Event is one inbound message for an identity.
type Event struct {
	ReceivedAt time.Time
	Location   *session.Location
	MessageID  string
	Identity   string
	Kind       EventKind
	ImageRef   string
	Text       string
}

// Outcome reports what HandleEvent did.
type Outcome struct {
	// Err carries a recoverable error kind; the session is still consistent.
	Err        error
	Reply      string
	Previous   session.State
	State      session.State
	Class      Class
	SightingID string
	Duplicate  bool
}
