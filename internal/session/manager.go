package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInactivityTimeout is how long a session may sit idle mid-flow before
// it is reset on next access.
const DefaultInactivityTimeout = 30 * time.Minute

// Manager is the in-memory Store, optionally written through to a Persistence.
type Manager struct {
	persistence Persistence
	locks       *keyedMutex
	sessions    map[string]Session
	logger      *slog.Logger
	now         func() time.Time
	timeout     time.Duration
	mu          sync.RWMutex
}

var _ Store = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPersistence writes every Save and Delete through to p.
func WithPersistence(p Persistence) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.persistence = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager with the given inactivity timeout.
func NewManager(timeout time.Duration, opts ...ManagerOption) *Manager {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}

	m := &Manager{
		sessions:    make(map[string]Session),
		locks:       newKeyedMutex(),
		persistence: NewNoopPersistence(),
		logger:      slog.Default(),
		now:         time.Now,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "session.manager"))
	return m
}

// Lock implements Store.
func (m *Manager) Lock(identity string) func() {
	return m.locks.Lock(identity)
}

// Get implements Store. An expired session comes back reset to IDLE; the
// reset becomes durable on the caller's next Save.
func (m *Manager) Get(ctx context.Context, identity string) (Session, error) {
	if identity == "" {
		return Session{}, fmt.Errorf("%w: empty identity", ErrInvalidSession)
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	now := m.now()

	m.mu.RLock()
	sess, exists := m.sessions[identity]
	m.mu.RUnlock()

	if !exists {
		return New(identity, now), nil
	}

	sess = sess.Clone()
	if sess.State != StateIdle && sess.Expired(now, m.timeout) {
		m.logger.DebugContext(ctx, "Session expired, resetting",
			slog.String("identity", identity),
			slog.String("state", sess.State.String()),
			slog.Time("updated_at", sess.UpdatedAt))
		sess = sess.Reset()
	}
	return sess, nil
}

// Save implements Store.
func (m *Manager) Save(ctx context.Context, s Session) error {
	if s.State == "" {
		s.State = StateIdle
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	s.UpdatedAt = m.now()

	if err := m.persistence.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.Identity] = s.Clone()
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Manager) Delete(ctx context.Context, identity string) error {
	if err := m.persistence.DeleteSession(ctx, identity); err != nil {
		return fmt.Errorf("failed to delete persisted session: %w", err)
	}

	m.mu.Lock()
	delete(m.sessions, identity)
	m.mu.Unlock()
	return nil
}

// Peek returns a copy of the stored session without creating one.
// Expired sessions are reported as IDLE.
func (m *Manager) Peek(identity string) (Session, bool) {
	m.mu.RLock()
	sess, exists := m.sessions[identity]
	m.mu.RUnlock()

	if !exists {
		return Session{}, false
	}
	sess = sess.Clone()
	if sess.State != StateIdle && sess.Expired(m.now(), m.timeout) {
		sess = sess.Reset()
	}
	return sess, true
}

// CleanupExpired sweeps sessions inactive longer than the timeout and
// returns how many it touched. A session that expired mid-conversation is
// reset to IDLE with its dedup window intact; an idle one is removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	now := m.now()

	m.mu.RLock()
	var candidates []string
	for identity, sess := range m.sessions {
		if sess.Expired(now, m.timeout) {
			candidates = append(candidates, identity)
		}
	}
	m.mu.RUnlock()

	swept := 0
	for _, identity := range candidates {
		if m.sweep(ctx, identity) {
			swept++
		}
	}
	return swept
}

// sweep rechecks under the identity lock so an in-flight event is never
// raced.
func (m *Manager) sweep(ctx context.Context, identity string) bool {
	unlock := m.Lock(identity)
	defer unlock()

	m.mu.RLock()
	sess, exists := m.sessions[identity]
	m.mu.RUnlock()

	if !exists || !sess.Expired(m.now(), m.timeout) {
		return false
	}

	if sess.State != StateIdle {
		if err := m.Save(ctx, sess.Reset()); err != nil {
			m.logger.WarnContext(ctx, "Failed to reset expired session",
				slog.String("identity", identity),
				slog.Any("error", err))
			return false
		}
		return true
	}

	if err := m.Delete(ctx, identity); err != nil {
		m.logger.WarnContext(ctx, "Failed to remove expired session",
			slog.String("identity", identity),
			slog.Any("error", err))
		return false
	}
	return true
}

// RestoreSessions loads persisted sessions, skipping ones already expired.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	persisted, err := m.persistence.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	now := m.now()
	restored := make(map[string]Session, len(persisted))
	for _, sess := range persisted {
		if sess.Expired(now, m.timeout) {
			continue
		}
		if err := sess.Validate(); err != nil {
			m.logger.WarnContext(ctx, "Skipping invalid persisted session",
				slog.String("identity", sess.Identity),
				slog.Any("error", err))
			continue
		}
		restored[sess.Identity] = sess
	}

	m.mu.Lock()
	m.sessions = restored
	m.mu.Unlock()

	return len(restored), nil
}

// Stats returns session counts: total, active, and one entry per state.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := map[string]int{
		"total":  len(m.sessions),
		"active": 0,
	}
	for _, state := range States {
		stats[string(state)] = 0
	}
	for _, sess := range m.sessions {
		state := sess.State
		if sess.Expired(now, m.timeout) {
			state = StateIdle
		} else {
			stats["active"]++
		}
		stats[string(state)]++
	}
	return stats
}
