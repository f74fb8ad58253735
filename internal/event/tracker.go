package event

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

// DefaultMaxHops bounds citation traversal.
const DefaultMaxHops = 64

// ErrCitationCycle marks a notice whose citations loop back to itself or
// form a chain longer than the hop bound.
var ErrCitationCycle = errors.New("citation cycle")

// Tracker holds event state. Plan is safe for concurrent use with readers;
// callers serialize Plan/Commit pairs.
type Tracker struct {
	mu      sync.RWMutex
	events  map[string]*Event   // event key -> event
	owner   map[string]string   // notice id -> event key
	cites   map[string][]string // notice id -> cited notice ids
	forward map[string]string   // cited but unseen notice id -> event key
	maxHops int
	now     func() time.Time
}

// NewTracker returns an empty Tracker. maxHops <= 0 uses DefaultMaxHops.
func NewTracker(maxHops int) *Tracker {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Tracker{
		events:  make(map[string]*Event),
		owner:   make(map[string]string),
		cites:   make(map[string][]string),
		forward: make(map[string]string),
		maxHops: maxHops,
		now:     time.Now,
	}
}

// Ingest plans and immediately commits a notice.
func (t *Tracker) Ingest(n *notice.Notice) (Update, error) {
	u, err := t.Plan(n)
	if err != nil {
		return Update{}, err
	}
	t.Commit(u)
	return u, nil
}

// Plan computes the effect of ingesting n without changing tracker state.
func (t *Tracker) Plan(n *notice.Notice) (Update, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if key, seen := t.owner[n.ID]; seen {
		return Update{Kind: KindDuplicate, Notice: n, Event: t.events[key].clone()}, nil
	}
	if err := t.checkCycle(n); err != nil {
		return Update{}, err
	}

	key := t.resolve(n)
	now := t.now()

	ev, exists := t.events[key]
	var next *Event
	if exists {
		next = ev.clone()
	} else {
		next = &Event{Key: key, Source: n.Source, Status: StatusActive, Created: now}
	}
	next.History = append(next.History, n)
	next.Updated = now

	u := Update{Notice: n, Event: next}
	switch {
	case n.IsRetraction():
		// a retraction wins regardless of ordering; Current keeps the last
		// real notice
		next.Status = StatusRetracted
		u.Kind = KindRetracted
	case !exists:
		next.Current = n
		u.Kind = KindNew
		u.Current = true
	default:
		u.Kind = KindUpdated
		if next.Current == nil || n.Newer(next.Current) {
			next.Current = n
			u.Current = next.Status == StatusActive
		}
	}
	return u, nil
}

// Commit applies a planned update. Duplicates and already committed
// notices are ignored.
func (t *Tracker) Commit(u Update) {
	if u.Kind == KindDuplicate || u.Event == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n := u.Notice
	if _, seen := t.owner[n.ID]; seen {
		return
	}
	key := u.Event.Key
	t.events[key] = u.Event.clone()
	t.owner[n.ID] = key
	delete(t.forward, n.ID)

	for _, c := range chainCitations(n) {
		t.cites[n.ID] = append(t.cites[n.ID], c)
		if _, known := t.owner[c]; !known {
			t.forward[c] = key
		}
	}
}

// Get returns a copy of the event with the given key.
func (t *Tracker) Get(key string) (*Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.events[key]
	if !ok {
		return nil, false
	}
	return ev.clone(), true
}

// EventFor returns the event a notice identifier was grouped into.
func (t *Tracker) EventFor(noticeID string) (*Event, bool) {
	t.mu.RLock()
	key, ok := t.owner[noticeID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Get(key)
}

// Len returns the number of tracked events.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// resolve finds the event key for n. Citation chains win over the derived
// source key; a notice that was cited before it arrived joins the citing
// notice's event.
func (t *Tracker) resolve(n *notice.Notice) string {
	var found string
	t.walk(chainCitations(n), func(id string) bool {
		if key, ok := t.owner[id]; ok {
			found = key
			return true
		}
		if key, ok := t.forward[id]; ok {
			found = key
			return true
		}
		return false
	})
	if found != "" {
		return found
	}
	if key, ok := t.forward[n.ID]; ok {
		return key
	}
	return n.Key()
}

// checkCycle rejects notices whose citation chain leads back to themselves.
func (t *Tracker) checkCycle(n *notice.Notice) error {
	var cyclic bool
	exceeded := t.walk(chainCitations(n), func(id string) bool {
		cyclic = id == n.ID
		return cyclic
	})
	switch {
	case cyclic:
		return fmt.Errorf("%w: %s cites itself through its chain", ErrCitationCycle, n.ID)
	case exceeded:
		return fmt.Errorf("%w: chain from %s exceeds %d hops", ErrCitationCycle, n.ID, t.maxHops)
	}
	return nil
}

// walk visits identifiers breadth-first along the citation adjacency map,
// stopping when visit returns true. It reports whether the hop bound was
// hit before the chain was exhausted.
func (t *Tracker) walk(start []string, visit func(id string) bool) bool {
	seen := make(map[string]bool)
	frontier := start
	for hop := 0; len(frontier) > 0; hop++ {
		if hop >= t.maxHops {
			return true
		}
		var next []string
		for _, id := range frontier {
			if seen[id] {
				continue
			}
			seen[id] = true
			if visit(id) {
				return false
			}
			next = append(next, t.cites[id]...)
		}
		frontier = next
	}
	return false
}

// chainCitations returns the identifiers n cites as superseded or retracted.
func chainCitations(n *notice.Notice) []string {
	var ids []string
	for _, c := range n.Citations {
		if c.Kind == notice.CiteSupersedes || c.Kind == notice.CiteRetraction {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
