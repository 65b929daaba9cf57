package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Veraticus/sightings/internal/session"
)

// SessionPersistence stores sessions as JSON under session:<identity>.
type SessionPersistence struct {
	store *Store
}

var _ session.Persistence = (*SessionPersistence)(nil)

// NewSessionPersistence returns the session table of store.
func NewSessionPersistence(store *Store) *SessionPersistence {
	return &SessionPersistence{store: store}
}

// SaveSession implements session.Persistence.
func (p *SessionPersistence) SaveSession(ctx context.Context, s session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.store.setJSON(sessionPrefix+s.Identity, s)
}

// DeleteSession implements session.Persistence.
func (p *SessionPersistence) DeleteSession(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.store.delete(sessionPrefix + identity)
}

// LoadSessions implements session.Persistence.
func (p *SessionPersistence) LoadSessions(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	err := p.store.scanPrefix(sessionPrefix, func(key, value []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var s session.Session
		if err := json.Unmarshal(value, &s); err != nil {
			return false, fmt.Errorf("decode session %s: %w", key, err)
		}
		out = append(out, s)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
