// Package controller runs the per-contributor sighting conversation.
//
// Each inbound event is classified, looked up in a fixed transition table
// for the session's current state, and applied to a copy of the session.
// The new value is saved whole, so a failure at any point leaves the stored
// session as it was.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
)

// DefaultRegistryTimeout bounds a single matcher call.
const DefaultRegistryTimeout = 2 * time.Second

// DefaultMaxCandidates is how many candidates a contributor is offered.
const DefaultMaxCandidates = 5

// Controller drives sessions through the sighting conversation.
type Controller struct {
	store           session.Store
	lookup          registry.Lookup
	finalizer       Finalizer
	sink            Sink
	templates       Templates
	recorder        Recorder
	logger          *slog.Logger
	now             func() time.Time
	matchOptions    matcher.Options
	registryTimeout time.Duration
	dedupWindow     int
}

// Option configures a Controller.
type Option func(*Controller) error

// WithTemplates replaces the outbound wording.
func WithTemplates(t Templates) Option {
	return func(c *Controller) error {
		if t == nil {
			return fmt.Errorf("templates cannot be nil")
		}
		c.templates = t
		return nil
	}
}

// WithRecorder reports activity to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) error {
		if r == nil {
			return fmt.Errorf("recorder cannot be nil")
		}
		c.recorder = r
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for the dedup window.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

// WithMatchOptions sets the options passed to every matcher call.
func WithMatchOptions(opts matcher.Options) Option {
	return func(c *Controller) error {
		if opts.Limit < 0 {
			return fmt.Errorf("match limit must be non-negative, got %d", opts.Limit)
		}
		c.matchOptions = opts
		return nil
	}
}

// WithRegistryTimeout bounds each matcher call.
func WithRegistryTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		if d <= 0 {
			return fmt.Errorf("registry timeout must be positive, got %s", d)
		}
		c.registryTimeout = d
		return nil
	}
}

// WithDedupWindow sets how many message IDs each session remembers.
func WithDedupWindow(n int) Option {
	return func(c *Controller) error {
		if n <= 0 {
			return fmt.Errorf("dedup window must be positive, got %d", n)
		}
		c.dedupWindow = n
		return nil
	}
}

// New creates a controller. Every collaborator is required.
func New(store session.Store, lookup registry.Lookup, finalizer Finalizer, sink Sink, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("registry lookup is required")
	}
	if finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	c := &Controller{
		store:     store,
		lookup:    lookup,
		finalizer: finalizer,
		sink:      sink,
		templates: DefaultTemplates{},
		recorder:  noopRecorder{},
		logger:    slog.Default(),
		now:       time.Now,
		matchOptions: matcher.Options{
			Limit:           DefaultMaxCandidates,
			ExpandShortForm: true,
		},
		registryTimeout: DefaultRegistryTimeout,
		dedupWindow:     session.DefaultDedupWindow,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	c.logger = c.logger.With(slog.String("component", "controller"))

	return c, nil
}

// HandleEvent applies one inbound event to its identity's session and sends
// the reply. Recoverable problems are reported in Outcome.Err; the returned
// error is non-nil only when the event is malformed or the session could not
// be loaded or saved.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return Outcome{}, err
	}

	unlock := c.store.Lock(ev.Identity)
	defer unlock()

	current, err := c.store.Get(ctx, ev.Identity)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load session: %w", err)
	}

	if processed, seen := current.Lookup(ev.MessageID); seen {
		return c.resend(ctx, ev, current, processed), nil
	}

	cmd := classifyEvent(ev)
	c.recorder.ObserveEvent(cmd.Class)

	result := lookupTransition(current.State, cmd.Class)(ctx, c, current.Clone(), cmd, ev)
	next := result.session.Remember(ev.MessageID, result.reply, c.now(), c.dedupWindow)

	if err := c.store.Save(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("failed to save session: %w", err)
	}

	outcome := Outcome{
		Reply:      result.reply,
		Previous:   current.State,
		State:      next.State,
		Class:      cmd.Class,
		SightingID: result.sightingID,
		Err:        result.err,
	}
	c.observe(ctx, ev, outcome)
	c.send(ctx, ev.Identity, outcome.Reply)

	return outcome, nil
}

// SessionState returns a read-only copy of the identity's session.
func (c *Controller) SessionState(ctx context.Context, identity string) (session.Session, error) {
	if identity == "" {
		return session.Session{}, fmt.Errorf("%w: empty identity", ErrInvalidEvent)
	}

	unlock := c.store.Lock(identity)
	defer unlock()

	s, err := c.store.Get(ctx, identity)
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

func (c *Controller) resend(ctx context.Context, ev Event, s session.Session, processed session.ProcessedMessage) Outcome {
	c.recorder.ObserveDuplicate()
	c.logger.InfoContext(ctx, "Duplicate message, resending stored reply",
		slog.String("identity", ev.Identity),
		slog.String("message_id", ev.MessageID),
		slog.Time("first_processed_at", processed.ProcessedAt))

	c.send(ctx, ev.Identity, processed.Reply)

	return Outcome{
		Reply:     processed.Reply,
		Previous:  s.State,
		State:     s.State,
		Duplicate: true,
		Err:       ErrDuplicateMessage,
	}
}

func (c *Controller) observe(ctx context.Context, ev Event, o Outcome) {
	if o.Previous != o.State {
		c.recorder.ObserveTransition(o.Previous, o.State)
		c.logger.InfoContext(ctx, "Session transition",
			slog.String("identity", ev.Identity),
			slog.String("message_id", ev.MessageID),
			slog.String("class", string(o.Class)),
			slog.String("from", o.Previous.String()),
			slog.String("to", o.State.String()))
	}

	if o.SightingID != "" {
		c.logger.InfoContext(ctx, "Sighting finalized",
			slog.String("identity", ev.Identity),
			slog.String("sighting_id", o.SightingID))
	}

	if o.Err == nil {
		return
	}
	kind := ErrorKind(o.Err)
	c.recorder.ObserveError(kind)

	level := slog.LevelInfo
	if errors.Is(o.Err, matcher.ErrRegistryUnavailable) || errors.Is(o.Err, ErrFinalizeFailed) {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "Event not applied",
		slog.String("identity", ev.Identity),
		slog.String("message_id", ev.MessageID),
		slog.String("state", o.State.String()),
		slog.String("kind", kind),
		slog.Any("error", o.Err))
}

func (c *Controller) send(ctx context.Context, identity, text string) {
	if text == "" {
		return
	}
	if err := c.sink.Send(ctx, identity, text); err != nil {
		c.logger.ErrorContext(ctx, "Failed to send reply",
			slog.String("identity", identity),
			slog.Any("error", err))
	}
}

func validateEvent(ev Event) error {
	if ev.Identity == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidEvent)
	}
	switch ev.Kind {
	case EventText:
		return nil
	case EventPhoto:
		if ev.ImageRef == "" {
			return fmt.Errorf("%w: photo without image reference", ErrInvalidEvent)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
}
