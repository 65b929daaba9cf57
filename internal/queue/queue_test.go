package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/sightings/internal/controller"
)

type handlerFunc func(ctx context.Context, ev controller.Event) (controller.Outcome, error)

func (f handlerFunc) HandleEvent(ctx context.Context, ev controller.Event) (controller.Outcome, error) {
	return f(ctx, ev)
}

func textMessage(identity, id string) *Message {
	return NewMessage(controller.Event{Identity: identity, MessageID: id, Kind: controller.EventText, Text: id})
}

func startManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(context.Background(), opts...)
	go m.Start()
	t.Cleanup(func() {
		_ = m.Shutdown(time.Second)
	})
	return m
}

func TestIdentityQueueOneInFlight(t *testing.T) {
	q := newIdentityQueue("alice")

	for _, id := range []string{"1", "2"} {
		queued, err := q.push(textMessage("alice", id))
		require.NoError(t, err)
		assert.True(t, queued)
	}
	_, err := q.push(textMessage("bob", "3"))
	assert.Error(t, err)
	_, err = q.push(nil)
	assert.Error(t, err)

	first := q.pop()
	require.NotNil(t, first)
	assert.Equal(t, "1", first.Event.MessageID)
	assert.Nil(t, q.pop(), "second message must wait for the first")
	assert.True(t, q.busy())

	q.done()
	second := q.pop()
	require.NotNil(t, second)
	assert.Equal(t, "2", second.Event.MessageID)

	q.done()
	assert.True(t, q.idle())
}

func TestIdentityQueueCollapsesHeldMessageIDs(t *testing.T) {
	q := newIdentityQueue("alice")

	queued, err := q.push(textMessage("alice", "m1"))
	require.NoError(t, err)
	require.True(t, queued)

	queued, err = q.push(textMessage("alice", "m1"))
	require.NoError(t, err)
	assert.False(t, queued, "waiting duplicate")

	msg := q.pop()
	require.NotNil(t, msg)
	queued, err = q.push(textMessage("alice", "m1"))
	require.NoError(t, err)
	assert.False(t, queued, "in-flight duplicate")
	assert.Equal(t, 0, q.waiting())

	q.done()
	queued, err = q.push(textMessage("alice", "m1"))
	require.NoError(t, err)
	assert.True(t, queued, "the controller dedup window owns completed IDs")

	anon := NewMessage(controller.Event{Identity: "alice", Kind: controller.EventText, Text: "hi"})
	for range 2 {
		queued, err = q.push(anon)
		require.NoError(t, err)
		assert.True(t, queued, "events without an ID are never collapsed")
	}
}

func TestIdentityQueueUnpopRestoresHead(t *testing.T) {
	q := newIdentityQueue("alice")
	_, _ = q.push(textMessage("alice", "1"))
	_, _ = q.push(textMessage("alice", "2"))

	first := q.pop()
	require.NotNil(t, first)
	assert.False(t, q.unpop(textMessage("alice", "1")), "only the in-flight message can be returned")
	assert.True(t, q.unpop(first))
	assert.False(t, q.busy())

	again := q.pop()
	require.NotNil(t, again)
	assert.Equal(t, "1", again.Event.MessageID)
}

func TestManagerCollapsesRedeliveries(t *testing.T) {
	m := startManager(t)

	release := make(chan struct{})
	var calls atomic.Int32
	handler := handlerFunc(func(_ context.Context, ev controller.Event) (controller.Outcome, error) {
		calls.Add(1)
		if ev.MessageID == "m1" {
			<-release
		}
		return controller.Outcome{}, nil
	})

	pool, err := NewWorkerPool(2, m, handler, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, m.Submit(textMessage("alice", "m1")))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	for range 3 {
		require.NoError(t, m.Submit(textMessage("alice", "m1")))
	}
	require.NoError(t, m.Submit(textMessage("alice", "m2")))
	require.Eventually(t, func() bool { return m.Stats()["collapsed"] == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, m.Stats()["queued"])

	close(release)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Stats()["identities"] == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManagerRequeuesMessageAbandonedByWorker(t *testing.T) {
	m := NewManager(context.Background())
	defer func() { _ = m.Shutdown(time.Second) }()

	queued, err := m.enqueue(textMessage("alice", "1"))
	require.NoError(t, err)
	require.True(t, queued)
	_, err = m.enqueue(textMessage("alice", "2"))
	require.NoError(t, err)

	m.mu.Lock()
	msg := m.nextMessageLocked()
	m.mu.Unlock()
	require.NotNil(t, msg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := &request{ctx: ctx, resp: make(chan *Message, 1)}
	req.resp <- msg

	m.reclaim(req)
	assert.Equal(t, 0, m.Stats()["processing"])
	assert.Equal(t, 2, m.Stats()["queued"])

	m.mu.Lock()
	next := m.nextMessageLocked()
	m.mu.Unlock()
	require.NotNil(t, next)
	assert.Equal(t, "1", next.Event.MessageID, "abandoned message keeps its place")

	m.reclaim(req)
	assert.Equal(t, 1, m.Stats()["processing"], "an empty response is a no-op")
}

func TestManagerPreservesPerIdentityOrder(t *testing.T) {
	m := startManager(t)

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		done = make(chan struct{})
	)
	const perIdentity = 20
	identities := []string{"alice", "bob", "carol"}
	var total atomic.Int32

	handler := handlerFunc(func(_ context.Context, ev controller.Event) (controller.Outcome, error) {
		mu.Lock()
		seen[ev.Identity] = append(seen[ev.Identity], ev.MessageID)
		mu.Unlock()
		if total.Add(1) == int32(perIdentity*len(identities)) {
			close(done)
		}
		return controller.Outcome{}, nil
	})

	pool, err := NewWorkerPool(4, m, handler, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := range perIdentity {
		for _, id := range identities {
			require.NoError(t, m.Submit(textMessage(id, fmt.Sprintf("%02d", i))))
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all processed")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range identities {
		require.Len(t, seen[id], perIdentity)
		for i, got := range seen[id] {
			assert.Equal(t, fmt.Sprintf("%02d", i), got, "identity %s out of order", id)
		}
	}
}

func TestManagerNeverRunsOneIdentityConcurrently(t *testing.T) {
	m := startManager(t)

	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		count    atomic.Int32
		done     = make(chan struct{})
	)
	const messages = 30

	handler := handlerFunc(func(_ context.Context, _ controller.Event) (controller.Outcome, error) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		if count.Add(1) == messages {
			close(done)
		}
		return controller.Outcome{}, nil
	})

	pool, err := NewWorkerPool(8, m, handler, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := range messages {
		require.NoError(t, m.Submit(textMessage("alice", fmt.Sprint(i))))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all processed")
	}
	assert.False(t, overlap.Load())
}

func TestManagerRateLimitsPerIdentity(t *testing.T) {
	limiter := NewIdentityLimiter(0.001, 2)
	m := startManager(t, WithRateLimiter(limiter))

	require.NoError(t, m.Submit(textMessage("alice", "1")))
	require.NoError(t, m.Submit(textMessage("alice", "2")))

	err := m.Submit(textMessage("alice", "3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "alice", rle.Identity)
	assert.Equal(t, "3", rle.MessageID)

	assert.NoError(t, m.Submit(textMessage("bob", "1")), "other identities keep their own budget")
}

func TestManagerSubmitAfterShutdown(t *testing.T) {
	m := NewManager(context.Background())
	go m.Start()
	require.NoError(t, m.Shutdown(time.Second))

	assert.ErrorIs(t, m.Submit(textMessage("alice", "1")), ErrQueueStopped)

	msg, err := m.RequestMessage(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestManagerSubmitValidation(t *testing.T) {
	m := startManager(t)
	assert.Error(t, m.Submit(nil))
	assert.Error(t, m.Submit(NewMessage(controller.Event{})))
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	m := startManager(t)

	var panics atomic.Int32
	panicHandler := NewMetricsPanicHandler(nil, func(string) { panics.Add(1) })

	processed := make(chan string, 2)
	handler := handlerFunc(func(_ context.Context, ev controller.Event) (controller.Outcome, error) {
		if ev.MessageID == "boom" {
			panic("handler exploded")
		}
		processed <- ev.MessageID
		return controller.Outcome{}, nil
	})

	pool, err := NewWorkerPool(1, m, handler, panicHandler)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, m.Submit(textMessage("alice", "boom")))
	require.NoError(t, m.Submit(textMessage("alice", "after")))

	select {
	case id := <-processed:
		assert.Equal(t, "after", id)
	case <-time.After(5 * time.Second):
		t.Fatal("worker stopped serving after a panic")
	}
	assert.Equal(t, int32(1), panics.Load())
}

func TestWorkerProcessReturnsPanicError(t *testing.T) {
	m := startManager(t)
	require.NoError(t, m.Submit(textMessage("alice", "1")))

	msg, err := m.RequestMessage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, msg)

	w := NewWorker(1, m, handlerFunc(func(context.Context, controller.Event) (controller.Outcome, error) {
		panic("nope")
	}), NewMetricsPanicHandler(nil, nil))

	err = w.Process(context.Background(), msg)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Equal(t, 0, m.Stats()["processing"])
}

func TestIdentityLimiterPrune(t *testing.T) {
	l := NewIdentityLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.Equal(t, 1, l.Len())

	now = now.Add(time.Hour)
	assert.Equal(t, 1, l.Prune())
	assert.Zero(t, l.Len())
}

func TestNewWorkerPoolValidation(t *testing.T) {
	m := NewManager(context.Background())
	h := handlerFunc(func(context.Context, controller.Event) (controller.Outcome, error) {
		return controller.Outcome{}, nil
	})

	_, err := NewWorkerPool(0, m, h, nil)
	assert.Error(t, err)
	_, err = NewWorkerPool(1, nil, h, nil)
	assert.Error(t, err)
	_, err = NewWorkerPool(1, m, nil, nil)
	assert.Error(t, err)
}
