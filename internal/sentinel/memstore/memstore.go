// Package memstore provides an in-memory implementation of sentinel.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/sentinel/internal/sentinel"
	"github.com/linnemanlabs/sentinel/internal/target"
)

// Store holds events and targets in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	notices map[string]string                // notice ID -> event key
	events  map[string]*sentinel.StoredEvent // event key -> event
	targets map[string][]*target.Target      // event key -> targets in insert order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		notices: make(map[string]string),
		events:  make(map[string]*sentinel.StoredEvent),
		targets: make(map[string][]*target.Target),
	}
}

// Commit stores the record. A known notice ID is a no-op.
func (s *Store) Commit(_ context.Context, rec *sentinel.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notices[rec.Notice.ID]; ok {
		return false, nil
	}

	key := rec.Event.Key
	ev := sentinel.StoredEventFrom(rec.Event, rec.Strategy)
	if prev, ok := s.events[key]; ok {
		ev.Created = prev.Created
		if ev.Strategy == "" {
			ev.Strategy = prev.Strategy
		}
	}
	s.events[key] = ev
	s.notices[rec.Notice.ID] = key

	if rec.Event.Retracted() {
		for _, t := range s.targets[key] {
			t.Invalidate()
		}
	}
	for _, t := range rec.Targets {
		cp := *t
		s.targets[key] = append(s.targets[key], &cp)
	}
	return true, nil
}

// Event retrieves an event by key. Returns a copy.
func (s *Store) Event(_ context.Context, key string) (*sentinel.StoredEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[key]
	if !ok {
		return nil, false, nil
	}
	cp := *ev
	cp.Notices = append([]string(nil), ev.Notices...)
	return &cp, true, nil
}

// Targets returns copies of the event's targets in insert order.
func (s *Store) Targets(_ context.Context, key string) ([]*target.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts := s.targets[key]
	out := make([]*target.Target, len(ts))
	for i, t := range ts {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

// Len returns the number of stored notices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notices)
}
