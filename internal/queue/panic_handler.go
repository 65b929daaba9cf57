package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// PanicHandler is told about every panic recovered from an event handler.
type PanicHandler interface {
	HandlePanic(workerID string, identity string, panicValue any, stackTrace []byte)
}

// DefaultPanicHandler logs panics with stack traces.
type DefaultPanicHandler struct {
	logger *slog.Logger
}

// NewDefaultPanicHandler returns the default panic handler.
func NewDefaultPanicHandler() *DefaultPanicHandler {
	return &DefaultPanicHandler{logger: slog.Default().With(slog.String("component", "queue.panic"))}
}

// HandlePanic logs the panic with its stack trace.
func (h *DefaultPanicHandler) HandlePanic(workerID, identity string, panicValue any, stackTrace []byte) {
	h.logger.ErrorContext(context.Background(), "PANIC in worker",
		slog.String("worker_id", workerID),
		slog.String("identity", identity),
		slog.Any("panic", panicValue),
		slog.String("stack_trace", string(stackTrace)))
}

// MetricsPanicHandler counts panics before delegating.
type MetricsPanicHandler struct {
	wrapped PanicHandler
	onPanic func(workerID string)
}

// NewMetricsPanicHandler wraps another handler to add metrics tracking.
func NewMetricsPanicHandler(wrapped PanicHandler, onPanic func(workerID string)) *MetricsPanicHandler {
	return &MetricsPanicHandler{wrapped: wrapped, onPanic: onPanic}
}

// HandlePanic calls the metrics callback and delegates to the wrapped handler.
func (h *MetricsPanicHandler) HandlePanic(workerID, identity string, panicValue any, stackTrace []byte) {
	if h.onPanic != nil {
		h.onPanic(workerID)
	}
	if h.wrapped != nil {
		h.wrapped.HandlePanic(workerID, identity, panicValue, stackTrace)
	}
}

func handleRecoveredPanic(handler PanicHandler, workerID, identity string, panicValue any) {
	if handler == nil {
		handler = NewDefaultPanicHandler()
	}
	handler.HandlePanic(workerID, identity, panicValue, debug.Stack())
}
