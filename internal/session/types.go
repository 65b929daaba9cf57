// Package session tracks per-contributor conversation state.
//
// A Session is a plain value: callers copy it, compute the next value, and
// save the whole thing back. The Manager serializes access per identity and
// never holds a lock across identities.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
)

// State is the conversation position of a session.
type State string

const (
	// StateIdle is both the initial and terminal state.
	StateIdle State = "IDLE"

	// StateAwaitingLocation waits for a place after a photo without location data.
	StateAwaitingLocation State = "AWAITING_LOCATION"

	// StateAwaitingPlate waits for plate text.
	StateAwaitingPlate State = "AWAITING_PLATE"

	// StateAwaitingConfirmation waits for YES or a numbered selection.
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"

	// StateAwaitingName waits for a contributor name or SKIP.
	StateAwaitingName State = "AWAITING_NAME"
)

// States lists every state in conversation order.
var States = []State{
	StateIdle,
	StateAwaitingLocation,
	StateAwaitingPlate,
	StateAwaitingConfirmation,
	StateAwaitingName,
}

// Valid reports whether s is one of the closed set of states.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// DefaultDedupWindow is how many processed message IDs a session remembers.
const DefaultDedupWindow = 20

// ErrInvalidSession indicates a session value violates its invariants.
var ErrInvalidSession = errors.New("invalid session")

// Location is where a sighting happened.
type Location struct {
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Location sources.
const (
	LocationSourcePhoto = "photo"
	LocationSourceText  = "text"
)

// HasCoordinates reports whether both coordinates are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// ProcessedMessage remembers the reply produced for an inbound message ID.
type ProcessedMessage struct {
	ProcessedAt time.Time `json:"processed_at"`
	MessageID   string    `json:"message_id"`
	Reply       string    `json:"reply"`
}

// Session is the conversation state for one contributor identity.
type Session struct {
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Location         *Location           `json:"location,omitempty"`
	Selected         *registry.Record    `json:"selected,omitempty"`
	Identity         string              `json:"identity"`
	State            State               `json:"state"`
	PendingImageRef  string              `json:"pending_image_ref,omitempty"`
	PendingPlateText string              `json:"pending_plate_text,omitempty"`
	ContributorName  string              `json:"contributor_name,omitempty"`
	Candidates       []matcher.Candidate `json:"candidates,omitempty"`
	Processed        []ProcessedMessage  `json:"processed,omitempty"`
}

// New returns an idle session for identity.
func New(identity string, now time.Time) Session {
	return Session{
		Identity:  identity,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so the caller can mutate it freely.
func (s Session) Clone() Session {
	out := s
	if s.Location != nil {
		loc := *s.Location
		if s.Location.Latitude != nil {
			lat := *s.Location.Latitude
			loc.Latitude = &lat
		}
		if s.Location.Longitude != nil {
			lon := *s.Location.Longitude
			loc.Longitude = &lon
		}
		out.Location = &loc
	}
	if s.Selected != nil {
		rec := *s.Selected
		out.Selected = &rec
	}
	if s.Candidates != nil {
		out.Candidates = append([]matcher.Candidate(nil), s.Candidates...)
	}
	if s.Processed != nil {
		out.Processed = append([]ProcessedMessage(nil), s.Processed...)
	}
	return out
}

// Reset returns the session back at IDLE with every pending field cleared.
// Identity, creation time, and the dedup window survive.
func (s Session) Reset() Session {
	out := s.Clone()
	out.State = StateIdle
	out.PendingImageRef = ""
	out.PendingPlateText = ""
	out.Location = nil
	out.Candidates = nil
	out.Selected = nil
	out.ContributorName = ""
	return out
}

// Expired reports whether the session has been inactive longer than timeout.
func (s Session) Expired(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.UpdatedAt) > timeout
}

// Lookup returns the remembered reply for messageID.
func (s Session) Lookup(messageID string) (ProcessedMessage, bool) {
	if messageID == "" {
		return ProcessedMessage{}, false
	}
	for _, p := range s.Processed {
		if p.MessageID == messageID {
			return p, true
		}
	}
	return ProcessedMessage{}, false
}

// Remember records messageID and its reply, keeping at most window entries.
func (s Session) Remember(messageID, reply string, now time.Time, window int) Session {
	if messageID == "" {
		return s
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	out := s.Clone()
	out.Processed = append(out.Processed, ProcessedMessage{
		MessageID:   messageID,
		Reply:       reply,
		ProcessedAt: now,
	})
	if excess := len(out.Processed) - window; excess > 0 {
		out.Processed = append([]ProcessedMessage(nil), out.Processed[excess:]...)
	}
	return out
}

// Validate checks the structural invariants of a session value.
func (s Session) Validate() error {
	if s.Identity == "" {
		return fmt.Errorf("%w: empty identity", ErrInvalidSession)
	}
	if !s.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidSession, s.State)
	}
	if len(s.Candidates) > 0 && s.State != StateAwaitingConfirmation {
		return fmt.Errorf("%w: candidates held in state %s", ErrInvalidSession, s.State)
	}
	if s.State == StateAwaitingConfirmation && len(s.Candidates) == 0 {
		return fmt.Errorf("%w: confirmation without candidates", ErrInvalidSession)
	}
	if s.State == StateAwaitingName && s.Selected == nil {
		return fmt.Errorf("%w: name requested without a selection", ErrInvalidSession)
	}
	if s.Selected != nil && s.State != StateAwaitingName {
		return fmt.Errorf("%w: selection held in state %s", ErrInvalidSession, s.State)
	}
	return nil
}
