package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/sightings/internal/queue"
)

// Handler pumps a messenger subscription into the queue.
type Handler struct {
	messenger Messenger
	queue     Enqueuer
	recorder  Recorder
	logger    *slog.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRecorder reports dropped messages.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) {
		h.recorder = r
	}
}

// NewHandler creates a new transport handler.
func NewHandler(messenger Messenger, queue Enqueuer, opts ...HandlerOption) (*Handler, error) {
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	h := &Handler{
		messenger: messenger,
		queue:     queue,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(slog.String("component", "transport.handler"))

	return h, nil
}

// Start subscribes and enqueues messages until ctx is canceled.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("handler already running")
	}
	h.running = true
	h.mu.Unlock()

	messages, err := h.messenger.Subscribe(ctx)
	if err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	h.logger.InfoContext(ctx, "Transport handler started")

	h.wg.Add(1)
	go h.processMessages(ctx, messages)

	<-ctx.Done()

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	h.wg.Wait()

	h.logger.Info("Transport handler stopped")
	return nil
}

func (h *Handler) processMessages(ctx context.Context, messages <-chan IncomingMessage) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				h.logger.DebugContext(ctx, "Message channel closed")
				return
			}
			h.handleMessage(ctx, msg)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg IncomingMessage) {
	h.logger.DebugContext(ctx, "Received message",
		slog.String("from", msg.From),
		slog.String("message_id", msg.ID),
		slog.String("kind", string(msg.Kind)),
		slog.Int("text_length", len(msg.Text)))

	err := h.queue.Submit(queue.NewMessage(msg.Event()))
	if err == nil {
		return
	}

	reason := "error"
	level := slog.LevelError
	switch {
	case errors.Is(err, queue.ErrRateLimited):
		reason, level = "rate_limited", slog.LevelWarn
	case errors.Is(err, queue.ErrQueueStopped):
		reason, level = "stopped", slog.LevelInfo
	}
	if h.recorder != nil {
		h.recorder.ObserveDropped(reason)
	}
	h.logger.Log(ctx, level, "Failed to enqueue message",
		slog.String("from", msg.From),
		slog.String("message_id", msg.ID),
		slog.Any("error", err))
}

// IsRunning returns whether the handler is currently running.
func (h *Handler) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
