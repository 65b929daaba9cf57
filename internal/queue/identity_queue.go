package queue

import "fmt"

// identityQueue is one contributor's backlog. Events leave in arrival
// order, one at a time, and a MessageID already waiting or in flight is
// absorbed instead of queued twice.
type identityQueue struct {
	inFlight *Message
	ids      map[string]struct{}
	identity string
	pending  []*Message
}

func newIdentityQueue(identity string) *identityQueue {
	return &identityQueue{identity: identity, ids: make(map[string]struct{})}
}

// push appends msg. It reports false when msg repeats a MessageID the queue
// already holds.
func (q *identityQueue) push(msg *Message) (bool, error) {
	if msg == nil {
		return false, fmt.Errorf("cannot enqueue nil message")
	}
	if msg.Identity() != q.identity {
		return false, fmt.Errorf("message identity %s does not match queue %s", msg.Identity(), q.identity)
	}

	if id := msg.Event.MessageID; id != "" {
		if _, held := q.ids[id]; held {
			return false, nil
		}
		q.ids[id] = struct{}{}
	}
	q.pending = append(q.pending, msg)
	return true, nil
}

// pop hands out the oldest event, or nil while one is still in flight.
func (q *identityQueue) pop() *Message {
	if q.inFlight != nil || len(q.pending) == 0 {
		return nil
	}
	msg := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.inFlight = msg
	return msg
}

// done releases the in-flight event so the next one can go.
func (q *identityQueue) done() {
	if q.inFlight == nil {
		return
	}
	if id := q.inFlight.Event.MessageID; id != "" {
		delete(q.ids, id)
	}
	q.inFlight = nil
}

// unpop returns an in-flight event nobody picked up to the head of the line.
func (q *identityQueue) unpop(msg *Message) bool {
	if q.inFlight != msg {
		return false
	}
	q.inFlight = nil
	q.pending = append([]*Message{msg}, q.pending...)
	return true
}

func (q *identityQueue) waiting() int {
	return len(q.pending)
}

func (q *identityQueue) busy() bool {
	return q.inFlight != nil
}

func (q *identityQueue) idle() bool {
	return len(q.pending) == 0 && q.inFlight == nil
}
