// Package event groups notices into astrophysical events by following
// citation chains and source grouping keys, and tracks supersession and
// retraction.
package event

import (
	"time"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

// Status is the lifecycle state of an Event.
type Status string

const (
	StatusActive    Status = "active"
	StatusRetracted Status = "retracted"
)

// Event is the trigger behind one or more notices.
type Event struct {
	Key     string           `json:"key"`
	Source  string           `json:"source"`
	Status  Status           `json:"status"`
	Current *notice.Notice   `json:"current,omitempty"`
	History []*notice.Notice `json:"-"`
	Created time.Time        `json:"created"`
	Updated time.Time        `json:"updated"`
}

// Retracted reports whether the event has been retracted.
func (e *Event) Retracted() bool { return e.Status == StatusRetracted }

// NoticeIDs lists the event's notice identifiers in arrival order.
func (e *Event) NoticeIDs() []string {
	ids := make([]string, len(e.History))
	for i, n := range e.History {
		ids[i] = n.ID
	}
	return ids
}

func (e *Event) clone() *Event {
	cp := *e
	cp.History = append([]*notice.Notice(nil), e.History...)
	return &cp
}

// Kind describes what ingesting a notice did to its event.
type Kind string

const (
	KindNew       Kind = "new"
	KindUpdated   Kind = "updated"
	KindRetracted Kind = "retracted"
	KindDuplicate Kind = "duplicate"
)

// Update is the result of planning a notice against the tracker.
type Update struct {
	Kind   Kind
	Notice *notice.Notice
	// Event is the event state after the transition. For duplicates it is
	// the event as already recorded.
	Event *Event
	// Current is true when the notice became the event's current notice
	// and the event is active.
	Current bool
}
