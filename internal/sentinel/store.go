package sentinel

import (
	"context"
	"time"

	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/target"
)

// Record is everything one notice writes. A store commits a record
// atomically: the notice, the event state and all targets, or nothing.
type Record struct {
	Notice   *notice.Notice
	Event    *event.Event
	Strategy string
	Targets  []*target.Target
}

// StoredEvent is the persisted view of an event.
type StoredEvent struct {
	Key           string       `json:"key"`
	Source        string       `json:"source"`
	Status        event.Status `json:"status"`
	CurrentNotice string       `json:"current_notice,omitempty"`
	Strategy      string       `json:"strategy,omitempty"`
	Notices       []string     `json:"notices"`
	Created       time.Time    `json:"created"`
	Updated       time.Time    `json:"updated"`
}

// Store is the persistence interface for processed notices.
//
// Commit reports inserted=false without error when the notice identifier
// is already stored; nothing is written in that case. When the record's
// event is retracted, Commit invalidates every pending target of the event
// in the same transaction.
type Store interface {
	Commit(ctx context.Context, rec *Record) (inserted bool, err error)
	Event(ctx context.Context, key string) (*StoredEvent, bool, error)
	Targets(ctx context.Context, eventKey string) ([]*target.Target, error)
}

// StoredEventFrom builds the persisted view of ev.
func StoredEventFrom(ev *event.Event, strategyName string) *StoredEvent {
	se := &StoredEvent{
		Key:      ev.Key,
		Source:   ev.Source,
		Status:   ev.Status,
		Strategy: strategyName,
		Notices:  ev.NoticeIDs(),
		Created:  ev.Created,
		Updated:  ev.Updated,
	}
	if ev.Current != nil {
		se.CurrentNotice = ev.Current.ID
	}
	return se
}
