package room

import (
	"context"
	"sync"

	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
)

// PendingEvent is spec.md §3's "(txn_id, event_type, content)"; txn_id is
// minted once at enqueue and never regenerated on retry.
type PendingEvent struct {
	TxnID     string
	EventType string
	Content   interface{}
}

// SendFunc performs one send attempt against the API client. It is a narrow
// seam over hsapi.Client.Send so Queue can be tested without a Fetcher.
type SendFunc func(ctx context.Context, roomID string, ev PendingEvent, onSuccess func(hsapi.SendResult), onTransportErr func(*hsapi.TransportError), onBadResponse func(*hsapi.BadResponseError, []byte))

// Queue is the per-room outbound FIFO of spec.md §4.5: a single worker drains
// it by sending the head entry; on success the head is popped and the next
// entry (if any) is sent immediately; on any failure the head is left in
// place and the in-flight slot clears so the next Enqueue, which runs the
// drain loop again, retries it.
//
// Queue enforces "at most one send request in flight per room" (spec.md §3
// invariant) itself, via inFlight, rather than relying on an external
// singleflight.Group keyed by room id — there is exactly one Queue per room,
// so a plain boolean guard is equivalent and avoids a second collaborator.
type Queue struct {
	mu        sync.Mutex
	roomID    string
	entries   []PendingEvent
	inFlight  bool
	send      SendFunc
	onFailure func(err error)
	shutdown  bool
}

func NewQueue(roomID string, send SendFunc, onFailure func(err error)) *Queue {
	return &Queue{roomID: roomID, send: send, onFailure: onFailure}
}

// Enqueue appends a new pending event and kicks the drain loop if idle.
// Suppressed once Shutdown has been called (spec.md §4.5: "If the connection
// is shutting down, new sends are suppressed").
func (q *Queue) Enqueue(ctx context.Context, txnID, eventType string, content interface{}) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.entries = append(q.entries, PendingEvent{TxnID: txnID, EventType: eventType, Content: content})
	q.mu.Unlock()
	q.drain(ctx)
}

func (q *Queue) drain(ctx context.Context) {
	q.mu.Lock()
	if q.inFlight || q.shutdown || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.entries[0]
	q.inFlight = true
	q.mu.Unlock()

	q.send(ctx, q.roomID, head,
		func(res hsapi.SendResult) {
			q.mu.Lock()
			if len(q.entries) > 0 && q.entries[0].TxnID == head.TxnID {
				q.entries = q.entries[1:]
			}
			q.inFlight = false
			more := len(q.entries) > 0 && !q.shutdown
			q.mu.Unlock()
			if more {
				q.drain(ctx)
			}
		},
		func(terr *hsapi.TransportError) {
			q.mu.Lock()
			q.inFlight = false
			q.mu.Unlock()
			if q.onFailure != nil {
				q.onFailure(terr)
			}
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			q.mu.Lock()
			q.inFlight = false
			q.mu.Unlock()
			if q.onFailure != nil {
				q.onFailure(berr)
			}
		},
	)
}

// Shutdown suppresses future sends; entries already queued are left in
// place (the caller is expected to discard the Queue along with the room).
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
}

// Len reports the number of entries still pending, for tests and UI
// diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Peek returns a copy of the head entry, if any.
func (q *Queue) Peek() (PendingEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return PendingEvent{}, false
	}
	return q.entries[0], true
}
