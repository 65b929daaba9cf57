package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultCleanupInterval is how often expired sessions are swept when no
// schedule is configured.
const DefaultCleanupInterval = time.Minute

// Sweeper is what the cleanup service drives.
type Sweeper interface {
	CleanupExpired(ctx context.Context) int
	Stats() map[string]int
}

// CleanupService periodically removes expired sessions.
type CleanupService struct {
	sweeper  Sweeper
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	schedule string
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// CleanupOption configures a CleanupService.
type CleanupOption func(*CleanupService) error

// WithInterval sweeps on a fixed interval.
func WithInterval(d time.Duration) CleanupOption {
	return func(c *CleanupService) error {
		if d <= 0 {
			return fmt.Errorf("cleanup interval must be positive, got %s", d)
		}
		c.interval = d
		return nil
	}
}

// WithSchedule sweeps on a cron expression instead of a fixed interval.
func WithSchedule(expr string) CleanupOption {
	return func(c *CleanupService) error {
		if expr == "" {
			return nil
		}
		if !gronx.IsValid(expr) {
			return fmt.Errorf("invalid cleanup schedule %q", expr)
		}
		c.schedule = expr
		return nil
	}
}

// WithCleanupLogger sets a custom logger.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(c *CleanupService) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewCleanupService creates a cleanup service for sweeper.
func NewCleanupService(sweeper Sweeper, opts ...CleanupOption) (*CleanupService, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}

	c := &CleanupService{
		sweeper:  sweeper,
		interval: DefaultCleanupInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With(slog.String("component", "session.cleanup"))
	return c, nil
}

// Start begins the periodic cleanup process.
func (c *CleanupService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.runCleanup(cleanupCtx)

	return nil
}

// Stop cancels the loop and waits for it to exit.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning returns whether the cleanup service is currently running.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *CleanupService) runCleanup(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		if c.done != nil {
			close(c.done)
		}
		c.mu.Unlock()
	}()

	c.performCleanup(ctx)

	for {
		wait, err := c.nextWait(time.Now())
		if err != nil {
			c.logger.ErrorContext(ctx, "Cannot compute next cleanup", slog.Any("error", err))
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.InfoContext(ctx, "Cleanup service stopping")
			return
		case <-timer.C:
			c.performCleanup(ctx)
		}
	}
}

// nextWait returns the delay until the next sweep.
func (c *CleanupService) nextWait(now time.Time) (time.Duration, error) {
	if c.schedule == "" {
		return c.interval, nil
	}
	next, err := gronx.NextTickAfter(c.schedule, now, false)
	if err != nil {
		return 0, fmt.Errorf("next tick for %q: %w", c.schedule, err)
	}
	return next.Sub(now), nil
}

func (c *CleanupService) performCleanup(ctx context.Context) {
	startTime := time.Now()
	swept := c.sweeper.CleanupExpired(ctx)
	duration := time.Since(startTime)

	if swept > 0 {
		c.logger.InfoContext(ctx, "Cleaned up expired sessions",
			slog.Int("swept", swept),
			slog.Duration("duration", duration),
		)
	}

	stats := c.sweeper.Stats()
	c.logger.DebugContext(ctx, "Session stats after cleanup",
		slog.Int("total", stats["total"]),
		slog.Int("active", stats["active"]),
	)
}
