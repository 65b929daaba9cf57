// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/session"
	"github.com/Veraticus/sightings/internal/transport"
)

// incomingChannelSize is the buffer size for incoming message channels.
const incomingChannelSize = 100

// Compile-time checks to ensure mocks implement their interfaces.
var (
	_ controller.Finalizer = (*MockFinalizer)(nil)
	_ controller.Sink      = (*MockMessenger)(nil)
	_ controller.Recorder  = (*MockRecorder)(nil)
	_ transport.Messenger  = (*MockMessenger)(nil)
	_ transport.Recorder   = (*MockRecorder)(nil)
	_ registry.Lookup      = (*MockLookup)(nil)
)

// MockFinalizer records finalize requests and keeps the same tallies a
// real sighting log would.
type MockFinalizer struct {
	err      error
	byPlate  map[string]int
	byWho    map[string]int
	requests []controller.FinalizeRequest
	mu       sync.Mutex
	nextID   int
}

// NewMockFinalizer creates a new mock finalizer.
func NewMockFinalizer() *MockFinalizer {
	return &MockFinalizer{
		byPlate: make(map[string]int),
		byWho:   make(map[string]int),
	}
}

// Finalize implements controller.Finalizer.
func (m *MockFinalizer) Finalize(_ context.Context, req controller.FinalizeRequest) (controller.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return controller.Receipt{}, m.err
	}
	m.requests = append(m.requests, req)
	m.nextID++
	m.byPlate[req.Plate]++
	m.byWho[req.Identity]++
	return controller.Receipt{
		SightingID:       fmt.Sprintf("sighting-%d", m.nextID),
		PlateCount:       m.byPlate[req.Plate],
		TotalCount:       len(m.requests),
		ContributorCount: m.byWho[req.Identity],
	}, nil
}

// SetError makes subsequent calls fail with err. Pass nil to clear it.
func (m *MockFinalizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns every successful request.
func (m *MockFinalizer) Requests() []controller.FinalizeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]controller.FinalizeRequest(nil), m.requests...)
}

// SentMessage records a message sent through MockMessenger.
type SentMessage struct {
	Timestamp time.Time
	Recipient string
	Message   string
}

// MockMessenger is a test implementation of the Messenger interface.
type MockMessenger struct {
	sendErr   error
	incoming  chan transport.IncomingMessage
	sent      []SentMessage
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewMockMessenger creates a new mock messenger.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{
		incoming: make(chan transport.IncomingMessage, incomingChannelSize),
	}
}

// Send implements the Messenger interface.
func (m *MockMessenger) Send(_ context.Context, recipient, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{
		Recipient: recipient,
		Message:   message,
		Timestamp: time.Now(),
	})
	return nil
}

// Subscribe implements the Messenger interface.
func (m *MockMessenger) Subscribe(ctx context.Context) (<-chan transport.IncomingMessage, error) {
	out := make(chan transport.IncomingMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-m.incoming:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Inject queues msg for delivery to subscribers.
func (m *MockMessenger) Inject(msg transport.IncomingMessage) {
	m.incoming <- msg
}

// Close ends every subscription.
func (m *MockMessenger) Close() {
	m.closeOnce.Do(func() { close(m.incoming) })
}

// SetSendError makes subsequent sends fail with err.
func (m *MockMessenger) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// GetSentMessages returns all sent messages.
func (m *MockMessenger) GetSentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SentTo returns the texts sent to recipient, in order.
func (m *MockMessenger) SentTo(recipient string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, s := range m.sent {
		if s.Recipient == recipient {
			out = append(out, s.Message)
		}
	}
	return out
}

// LastSentTo returns the most recent text sent to recipient.
func (m *MockMessenger) LastSentTo(recipient string) string {
	msgs := m.SentTo(recipient)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// MockLookup wraps an in-memory registry and can be made to fail.
type MockLookup struct {
	*registry.Memory
	err   error
	mu    sync.Mutex
	calls int
}

// NewMockLookup creates a lookup over records.
func NewMockLookup(records ...registry.Record) *MockLookup {
	return &MockLookup{Memory: registry.NewMemory(records...)}
}

// SetError makes subsequent lookups fail with err.
func (m *MockLookup) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many lookups were made.
func (m *MockLookup) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLookup) record() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

// LookupExact implements registry.Lookup.
func (m *MockLookup) LookupExact(ctx context.Context, plate string) (*registry.Record, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	return m.Memory.LookupExact(ctx, plate)
}

// Scan implements registry.Lookup.
func (m *MockLookup) Scan(ctx context.Context, pred registry.Predicate) ([]registry.Record, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	return m.Memory.Scan(ctx, pred)
}

// MockRecorder counts observations by label.
type MockRecorder struct {
	counts map[string]int
	mu     sync.Mutex
}

// NewMockRecorder creates a new mock recorder.
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{counts: make(map[string]int)}
}

func (m *MockRecorder) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

// Count returns the number of observations recorded under key, for example
// "event:PHOTO", "transition:IDLE->AWAITING_PLATE", "match:EXACT",
// "duplicate", "finalize:true", "error:invalid_selection" or "dropped:rate_limited".
func (m *MockRecorder) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// ObserveEvent implements controller.Recorder.
func (m *MockRecorder) ObserveEvent(class controller.Class) {
	m.inc("event:" + string(class))
}

// ObserveTransition implements controller.Recorder.
func (m *MockRecorder) ObserveTransition(from, to session.State) {
	m.inc(fmt.Sprintf("transition:%s->%s", from, to))
}

// ObserveMatch implements controller.Recorder.
func (m *MockRecorder) ObserveMatch(tier string, _ int) {
	m.inc("match:" + tier)
}

// ObserveDuplicate implements controller.Recorder.
func (m *MockRecorder) ObserveDuplicate() {
	m.inc("duplicate")
}

// ObserveFinalize implements controller.Recorder.
func (m *MockRecorder) ObserveFinalize(ok bool) {
	m.inc(fmt.Sprintf("finalize:%t", ok))
}

// ObserveError implements controller.Recorder.
func (m *MockRecorder) ObserveError(kind string) {
	m.inc("error:" + kind)
}

// ObserveDropped implements transport.Recorder.
func (m *MockRecorder) ObserveDropped(reason string) {
	m.inc("dropped:" + reason)
}
