package session

import "context"

// NoopPersistence keeps nothing. It lets persistence stay optional.
type NoopPersistence struct{}

var _ Persistence = (*NoopPersistence)(nil)

// NewNoopPersistence creates a new no-op persistence handler.
func NewNoopPersistence() *NoopPersistence {
	return &NoopPersistence{}
}

// SaveSession does nothing.
func (n *NoopPersistence) SaveSession(context.Context, Session) error {
	return nil
}

// DeleteSession does nothing.
func (n *NoopPersistence) DeleteSession(context.Context, string) error {
	return nil
}

// LoadSessions returns nothing.
func (n *NoopPersistence) LoadSessions(context.Context) ([]Session, error) {
	return nil, nil
}
