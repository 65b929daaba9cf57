package session

import "context"

// Store is keyed, mutable conversation state.
//
// Callers that read, modify, and save a session must hold the identity's lock
// for the whole sequence so two events for one identity never work from the
// same stale snapshot.
type Store interface {
	// Get returns the session for identity, creating an idle one if absent.
	Get(ctx context.Context, identity string) (Session, error)

	// Save atomically replaces the stored session.
	Save(ctx context.Context, s Session) error

	// Delete removes the session for identity.
	Delete(ctx context.Context, identity string) error

	// Lock acquires the identity's mutex and returns its release function.
	Lock(identity string) (unlock func())
}

// Persistence is durable backing for a Manager.
type Persistence interface {
	SaveSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, identity string) error
	LoadSessions(ctx context.Context) ([]Session, error)
}
