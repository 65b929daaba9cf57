package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager constants.
const (
	incomingChannelSize  = 100
	requestChannelSize   = 10
	defaultSubmitTimeout = 5 * time.Second
	startWaitTimeout     = 100 * time.Millisecond
)

// Manager keeps one FIFO per identity and hands messages to workers in
// round-robin order across identities. An identity never has more than one
// message in flight.
type Manager struct {
	ctx            context.Context
	limiter        RateLimiter
	logger         *slog.Logger
	cancel         context.CancelFunc
	queues         map[string]*identityQueue
	incomingCh     chan *Message
	requestCh      chan *request
	started        chan struct{}
	order          []string
	waitingWorkers []*request
	wg             sync.WaitGroup
	submitTimeout  time.Duration
	currentIndex   int
	collapsed      int
	mu             sync.Mutex
	shutdown       bool
	startOnce      sync.Once
}

type request struct {
	ctx  context.Context
	resp chan *Message
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRateLimiter throttles Submit per identity.
func WithRateLimiter(l RateLimiter) ManagerOption {
	return func(m *Manager) {
		m.limiter = l
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

// WithSubmitTimeout bounds how long Submit waits for room in the intake.
func WithSubmitTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.submitTimeout = d
		}
	}
}

// NewManager creates a new queue manager.
func NewManager(ctx context.Context, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(ctx)

	m := &Manager{
		queues:        make(map[string]*identityQueue),
		incomingCh:    make(chan *Message, incomingChannelSize),
		requestCh:     make(chan *request, requestChannelSize),
		started:       make(chan struct{}),
		logger:        slog.Default(),
		submitTimeout: defaultSubmitTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "queue.manager"))
	return m
}

// Start runs the dispatch loop until Shutdown. Call it in a goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	defer m.wg.Done()
	defer m.releaseWaiters()

	m.startOnce.Do(func() { close(m.started) })

	for {
		select {
		case <-m.ctx.Done():
			return

		case msg := <-m.incomingCh:
			queued, err := m.enqueue(msg)
			if err != nil {
				m.logger.ErrorContext(m.ctx, "Failed to enqueue message",
					slog.String("identity", msg.Identity()),
					slog.Any("error", err))
				continue
			}
			if !queued {
				m.logger.DebugContext(m.ctx, "Collapsed redelivered message",
					slog.String("identity", msg.Identity()),
					slog.String("message_id", msg.Event.MessageID))
				continue
			}
			m.tryDispatch()

		case req := <-m.requestCh:
			if req.ctx.Err() != nil {
				continue
			}
			m.mu.Lock()
			msg := m.nextMessageLocked()
			if msg == nil {
				m.waitingWorkers = append(m.waitingWorkers, req)
			}
			m.mu.Unlock()
			if msg != nil {
				req.resp <- msg
				if req.ctx.Err() != nil {
					m.reclaim(req)
				}
			}
		}
	}
}

// Submit queues an event. It fails with a *RateLimitError when the identity
// is over its rate, and with ErrQueueStopped after Shutdown.
func (m *Manager) Submit(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot submit nil message")
	}
	if msg.Identity() == "" {
		return fmt.Errorf("cannot submit message without identity")
	}

	m.mu.Lock()
	stopped := m.shutdown
	m.mu.Unlock()
	if stopped {
		return ErrQueueStopped
	}

	if m.limiter != nil && !m.limiter.Allow(msg.Identity()) {
		return &RateLimitError{Identity: msg.Identity(), MessageID: msg.Event.MessageID}
	}

	timer := time.NewTimer(m.submitTimeout)
	defer timer.Stop()

	select {
	case m.incomingCh <- msg:
		return nil
	case <-m.ctx.Done():
		return ErrQueueStopped
	case <-timer.C:
		return fmt.Errorf("timeout submitting message for %s", msg.Identity())
	}
}

// RequestMessage blocks until a message is available for a worker. A nil
// message with a nil error means the manager has shut down. A message handed
// over after ctx ends goes back to the front of its identity's queue.
func (m *Manager) RequestMessage(ctx context.Context) (*Message, error) {
	req := &request{ctx: ctx, resp: make(chan *Message, 1)}

	select {
	case m.requestCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, nil
	}

	select {
	case msg := <-req.resp:
		return msg, nil
	case <-ctx.Done():
		m.reclaim(req)
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, nil
	}
}

// reclaim requeues a message delivered to a worker that stopped waiting.
// The worker and the dispatcher may both call it; whoever drains resp first
// puts the message back.
func (m *Manager) reclaim(req *request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reclaimLocked(req) {
		m.dispatchLocked()
	}
}

func (m *Manager) reclaimLocked(req *request) bool {
	var msg *Message
	select {
	case msg = <-req.resp:
	default:
		return false
	}
	if msg == nil {
		return false
	}

	queue, exists := m.queues[msg.Identity()]
	if !exists || !queue.unpop(msg) {
		return false
	}
	m.logger.DebugContext(m.ctx, "Requeued message abandoned by worker",
		slog.String("identity", msg.Identity()),
		slog.String("message_id", msg.Event.MessageID))
	return true
}

// CompleteMessage releases the identity for its next message.
func (m *Manager) CompleteMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot complete nil message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.queues[msg.Identity()]
	if !exists {
		return fmt.Errorf("no queue found for identity %s", msg.Identity())
	}
	queue.done()

	if queue.idle() {
		m.removeLocked(msg.Identity())
	}

	m.dispatchLocked()
	return nil
}

// Shutdown stops dispatching and waits for the loop to exit.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.cancel()

	select {
	case <-m.started:
	case <-time.After(startWaitTimeout):
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// Stats returns current queue statistics.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued, processing := 0, 0
	for _, queue := range m.queues {
		queued += queue.waiting()
		if queue.busy() {
			processing++
		}
	}

	return map[string]int{
		"identities":      len(m.queues),
		"queued":          queued,
		"processing":      processing,
		"waiting_workers": len(m.waitingWorkers),
		"collapsed":       m.collapsed,
	}
}

// enqueue files msg under its identity. It reports false when the same
// MessageID is already waiting or in flight.
func (m *Manager) enqueue(msg *Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.queues[msg.Identity()]
	if !exists {
		queue = newIdentityQueue(msg.Identity())
		m.queues[msg.Identity()] = queue
		m.order = append(m.order, msg.Identity())
	}
	queued, err := queue.push(msg)
	if err != nil {
		return false, err
	}
	if !queued {
		m.collapsed++
	}
	return queued, nil
}

func (m *Manager) tryDispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchLocked()
}

// dispatchLocked hands messages to waiting workers while both are available.
func (m *Manager) dispatchLocked() {
	for len(m.waitingWorkers) > 0 {
		req := m.waitingWorkers[0]
		if req.ctx.Err() != nil {
			m.waitingWorkers = m.waitingWorkers[1:]
			continue
		}

		msg := m.nextMessageLocked()
		if msg == nil {
			return
		}
		m.waitingWorkers = m.waitingWorkers[1:]
		req.resp <- msg
		if req.ctx.Err() != nil {
			m.reclaimLocked(req)
		}
	}
}

// nextMessageLocked picks the next identity in round-robin order that has a
// waiting message and nothing in flight.
func (m *Manager) nextMessageLocked() *Message {
	for attempts := len(m.order); attempts > 0 && len(m.order) > 0; attempts-- {
		if m.currentIndex >= len(m.order) {
			m.currentIndex = 0
		}

		identity := m.order[m.currentIndex]
		queue, exists := m.queues[identity]
		if !exists {
			m.order = append(m.order[:m.currentIndex], m.order[m.currentIndex+1:]...)
			continue
		}

		m.currentIndex++

		if msg := queue.pop(); msg != nil {
			return msg
		}
		if queue.idle() {
			m.removeLocked(identity)
		}
	}
	return nil
}

func (m *Manager) removeLocked(identity string) {
	delete(m.queues, identity)
	for i, id := range m.order {
		if id == identity {
			m.order = append(m.order[:i], m.order[i+1:]...)
			if m.currentIndex > i {
				m.currentIndex--
			}
			return
		}
	}
}

// releaseWaiters unblocks workers still waiting when the loop exits.
func (m *Manager) releaseWaiters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, req := range m.waitingWorkers {
		select {
		case req.resp <- nil:
		default:
		}
	}
	m.waitingWorkers = nil
}
