package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/sightings/internal/controller"
)

// ErrHandlerPanic indicates the event handler panicked; the worker recovered.
var ErrHandlerPanic = errors.New("event handler panicked")

// Worker pulls messages from a Manager and applies them.
type Worker struct {
	manager      *Manager
	handler      EventHandler
	panicHandler PanicHandler
	logger       *slog.Logger
	id           string
}

// NewWorker creates a worker.
func NewWorker(id int, manager *Manager, handler EventHandler, panicHandler PanicHandler) *Worker {
	if panicHandler == nil {
		panicHandler = NewDefaultPanicHandler()
	}
	workerID := fmt.Sprintf("worker-%d", id)
	return &Worker{
		id:           workerID,
		manager:      manager,
		handler:      handler,
		panicHandler: panicHandler,
		logger: slog.Default().With(
			slog.String("component", "queue.worker"),
			slog.String("worker_id", workerID)),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Start processes messages until ctx is canceled or the manager shuts down.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.DebugContext(ctx, "Worker starting")

	for {
		msg, err := w.manager.RequestMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msg == nil {
			w.logger.DebugContext(ctx, "Worker stopping, queue shut down")
			return nil
		}

		if err := w.Process(ctx, msg); err != nil {
			w.logger.ErrorContext(ctx, "Failed to process message",
				slog.String("identity", msg.Identity()),
				slog.String("message_id", msg.Event.MessageID),
				slog.Any("error", err))
		}
	}
}

// Process applies one message. A handler panic is recovered, reported, and
// returned as ErrHandlerPanic; the identity is released either way.
func (w *Worker) Process(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if completeErr := w.manager.CompleteMessage(msg); completeErr != nil {
			w.logger.WarnContext(ctx, "Failed to complete message",
				slog.String("identity", msg.Identity()),
				slog.Any("error", completeErr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			handleRecoveredPanic(w.panicHandler, w.id, msg.Identity(), r)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	outcome, err := w.handler.HandleEvent(ctx, msg.Event)
	if err != nil {
		return fmt.Errorf("handle event: %w", err)
	}

	w.logger.DebugContext(ctx, "Message processed",
		slog.String("identity", msg.Identity()),
		slog.String("message_id", msg.Event.MessageID),
		slog.String("state", outcome.State.String()),
		slog.String("error_kind", controller.ErrorKind(outcome.Err)))
	return nil
}

// WorkerPool runs a fixed number of workers against one Manager.
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool creates size workers.
func NewWorkerPool(size int, manager *Manager, handler EventHandler, panicHandler PanicHandler) (*WorkerPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if manager == nil {
		return nil, fmt.Errorf("queue manager is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}

	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(i+1, manager, handler, panicHandler)
	}
	return &WorkerPool{workers: workers}, nil
}

// Start launches every worker and returns immediately.
func (wp *WorkerPool) Start(ctx context.Context) {
	for _, w := range wp.workers {
		wp.wg.Add(1)
		go func(w *Worker) {
			defer wp.wg.Done()
			if err := w.Start(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Worker stopped with error", slog.Any("error", err))
			}
		}(w)
	}
}

// Wait blocks until all workers have stopped.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Size returns the number of workers in the pool.
func (wp *WorkerPool) Size() int {
	return len(wp.workers)
}
