package sentinel

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

// State is a notice's position in the processing lifecycle.
type State string

const (
	StateReceived        State = "received"
	StateQueued          State = "queued"
	StateParsing         State = "parsing"
	StateClassifying     State = "classifying"
	StateBuildingTargets State = "building-targets"
	StatePersisting      State = "persisting"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// OriginManual marks entries enqueued through the control surface.
const OriginManual = "manual"

// Entry is one queued payload.
type Entry struct {
	ID       string      `json:"id"`
	NoticeID string      `json:"notice_id"`
	Role     notice.Role `json:"role"`
	Origin   string      `json:"origin"`
	Received time.Time   `json:"received"`
	Attempts int         `json:"attempts"`
	InFlight bool        `json:"in_flight"`
	State    State       `json:"state"`
	Payload  []byte      `json:"-"`
}

// Queue is the ordered buffer between the notice source and the worker.
// An entry stays in the queue while it is processed and is removed only
// by Done. Every method takes the queue lock, so List and Clear never
// observe a half-updated queue.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	ready   chan struct{}
	closed  bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends a payload and returns its entry ID.
func (q *Queue) Push(env notice.Envelope, origin string, payload []byte, received time.Time) string {
	e := &Entry{
		ID:       ulid.Make().String(),
		NoticeID: env.ID,
		Role:     env.Role,
		Origin:   origin,
		Received: received,
		State:    StateQueued,
		Payload:  payload,
	}
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	q.signal()
	return e.ID
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next blocks until an entry is available, marks it in flight and returns
// a copy of it. Only one entry is in flight at a time.
func (q *Queue) Next(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Entry{}, ErrQueueClosed
		}
		for _, e := range q.entries {
			if e.InFlight {
				break
			}
			e.InFlight = true
			cp := *e
			q.mu.Unlock()
			return cp, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// SetState records the lifecycle state of entry id.
func (q *Queue) SetState(id string, st State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.find(id); e != nil {
		e.State = st
	}
}

// Done removes entry id after terminal success or failure.
func (q *Queue) Done(id string) {
	q.mu.Lock()
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	q.signal()
}

// Requeue moves entry id to the back of the queue and counts the attempt.
func (q *Queue) Requeue(id string) {
	q.mu.Lock()
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			e.InFlight = false
			e.Attempts++
			e.State = StateQueued
			q.entries = append(q.entries, e)
			break
		}
	}
	q.mu.Unlock()
	q.signal()
}

// List returns copies of every entry in order, payloads omitted.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
		out[i].Payload = nil
	}
	return out
}

// Clear drops every entry that is not in flight and returns how many were
// dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.InFlight {
			kept = append(kept, e)
		}
	}
	n := len(q.entries) - len(kept)
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return n
}

// Len returns the number of entries, including one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Current returns a copy of the in-flight entry.
func (q *Queue) Current() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.InFlight {
			cp := *e
			cp.Payload = nil
			return cp, true
		}
	}
	return Entry{}, false
}

// Close wakes any blocked Next with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) find(id string) *Entry {
	for _, e := range q.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}
