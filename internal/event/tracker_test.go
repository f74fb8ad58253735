package event

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

var t0 = time.Date(2023, 5, 22, 7, 56, 0, 0, time.UTC)

func gw(id, subtype string, seq int, cites ...notice.Citation) *notice.Notice {
	s := seq
	return &notice.Notice{
		ID:        id,
		Source:    "LVC",
		EventID:   "S230522n",
		Subtype:   subtype,
		Time:      t0.Add(time.Duration(seq) * time.Minute),
		Sequence:  &s,
		Citations: cites,
	}
}

func supersedes(id string) notice.Citation {
	return notice.Citation{ID: id, Kind: notice.CiteSupersedes}
}

const (
	prelim = "ivo://gwnet/LVC#S230522n-1-Preliminary"
	update = "ivo://gwnet/LVC#S230522n-2-Update"
	retr   = "ivo://gwnet/LVC#S230522n-3-Retraction"
)

func mustIngest(t *testing.T, tr *Tracker, n *notice.Notice) Update {
	t.Helper()
	u, err := tr.Ingest(n)
	if err != nil {
		t.Fatalf("Ingest(%s): %v", n.ID, err)
	}
	return u
}

func TestIngest_NewThenUpdate(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	u := mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	if u.Kind != KindNew || !u.Current {
		t.Fatalf("first notice: kind=%s current=%v, want new/true", u.Kind, u.Current)
	}
	if u.Event.Key != "LVC_S230522n" {
		t.Errorf("Key = %q", u.Event.Key)
	}

	u = mustIngest(t, tr, gw(update, "UPDATE", 2, supersedes(prelim)))
	if u.Kind != KindUpdated || !u.Current {
		t.Fatalf("update: kind=%s current=%v, want updated/true", u.Kind, u.Current)
	}
	if u.Event.Current.ID != update {
		t.Errorf("Current = %s, want %s", u.Event.Current.ID, update)
	}
	if got := u.Event.NoticeIDs(); len(got) != 2 {
		t.Errorf("history = %v, want 2 entries", got)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestIngest_Duplicate(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	u := mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	if u.Kind != KindDuplicate {
		t.Fatalf("kind = %s, want duplicate", u.Kind)
	}
	ev, _ := tr.Get("LVC_S230522n")
	if len(ev.History) != 1 {
		t.Errorf("history length = %d, want 1", len(ev.History))
	}
}

func TestIngest_OlderNoticeKeepsCurrent(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	mustIngest(t, tr, gw(update, "UPDATE", 2))
	u := mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	if u.Kind != KindUpdated {
		t.Fatalf("kind = %s, want updated", u.Kind)
	}
	if u.Current {
		t.Error("older notice must not become current")
	}
	if u.Event.Current.ID != update {
		t.Errorf("Current = %s, want %s", u.Event.Current.ID, update)
	}
	if len(u.Event.History) != 2 {
		t.Errorf("history = %d, want 2", len(u.Event.History))
	}
}

func TestIngest_CitationBeatsKey(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))

	// different derived key, but the citation is authoritative
	n := gw(update, "UPDATE", 2, supersedes(prelim))
	n.EventID = "S230522x"
	u := mustIngest(t, tr, n)
	if u.Event.Key != "LVC_S230522n" {
		t.Errorf("Key = %q, want LVC_S230522n", u.Event.Key)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestIngest_Retraction(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	mustIngest(t, tr, gw(update, "UPDATE", 2, supersedes(prelim)))

	// lower serial than current still wins
	r := gw(retr, notice.SubtypeRetraction, 0, notice.Citation{ID: update, Kind: notice.CiteRetraction})
	u := mustIngest(t, tr, r)
	if u.Kind != KindRetracted {
		t.Fatalf("kind = %s, want retracted", u.Kind)
	}
	if !u.Event.Retracted() {
		t.Error("event should be retracted")
	}
	if u.Event.Current.ID != update {
		t.Errorf("Current = %s, want last real notice %s", u.Event.Current.ID, update)
	}

	late := gw("ivo://gwnet/LVC#S230522n-4-Update", "UPDATE", 4)
	u = mustIngest(t, tr, late)
	if u.Kind != KindUpdated || u.Current {
		t.Errorf("post-retraction notice: kind=%s current=%v, want updated/false", u.Kind, u.Current)
	}
	if !u.Event.Retracted() {
		t.Error("event must stay retracted")
	}
}

func TestIngest_ForwardReference(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	up := gw(update, "UPDATE", 2, supersedes(prelim))
	up.EventID = "renamed"
	u := mustIngest(t, tr, up)
	if u.Kind != KindNew {
		t.Fatalf("kind = %s, want new", u.Kind)
	}

	// the superseded notice arrives late with its own key, and joins the
	// event that cited it
	u = mustIngest(t, tr, gw(prelim, "PRELIMINARY", 1))
	if u.Event.Key != "LVC_renamed" {
		t.Errorf("Key = %q, want LVC_renamed", u.Event.Key)
	}
	if u.Current {
		t.Error("late older notice should not become current")
	}
	if ev, ok := tr.EventFor(prelim); !ok || ev.Key != "LVC_renamed" {
		t.Errorf("EventFor(prelim) = %v, %v", ev, ok)
	}

	// a second notice citing the same unseen id resolves through the
	// forward map too
	tr2 := NewTracker(0)
	a := gw("a", "UPDATE", 2, supersedes("missing"))
	a.EventID = "A"
	mustIngest(t, tr2, a)
	b := gw("b", "UPDATE", 3, supersedes("missing"))
	b.EventID = "B"
	if u := mustIngest(t, tr2, b); u.Event.Key != "LVC_A" {
		t.Errorf("Key = %q, want LVC_A", u.Event.Key)
	}
}

func TestIngest_Cycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	mustIngest(t, tr, gw("a", "UPDATE", 1, supersedes("b")))
	_, err := tr.Ingest(gw("b", "UPDATE", 2, supersedes("a")))
	if !errors.Is(err, ErrCitationCycle) {
		t.Fatalf("err = %v, want ErrCitationCycle", err)
	}
	if _, ok := tr.EventFor("b"); ok {
		t.Error("rejected notice must not be recorded")
	}

	_, err = tr.Ingest(gw("self", "UPDATE", 1, supersedes("self")))
	if !errors.Is(err, ErrCitationCycle) {
		t.Errorf("self citation: err = %v, want ErrCitationCycle", err)
	}
}

func TestIngest_HopBound(t *testing.T) {
	t.Parallel()

	tr := NewTracker(3)
	mustIngest(t, tr, gw("n0", "UPDATE", 0))
	mustIngest(t, tr, gw("n1", "UPDATE", 1, supersedes("n0")))
	mustIngest(t, tr, gw("n2", "UPDATE", 2, supersedes("n1")))

	// the cycle check walks the whole chain: three hops fit, four do not
	if _, err := tr.Ingest(gw("n3", "UPDATE", 3, supersedes("n2"))); err != nil {
		t.Fatalf("Ingest n3: %v", err)
	}
	_, err := tr.Ingest(gw("n4", "UPDATE", 4, supersedes("n3")))
	if !errors.Is(err, ErrCitationCycle) {
		t.Fatalf("err = %v, want hop bound error", err)
	}
}

func TestPlan_DoesNotMutate(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	u, err := tr.Plan(gw(prelim, "PRELIMINARY", 1))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if tr.Len() != 0 {
		t.Fatal("Plan must not record the event")
	}
	// planning again is not a duplicate until committed
	u2, err := tr.Plan(gw(prelim, "PRELIMINARY", 1))
	if err != nil || u2.Kind != KindNew {
		t.Fatalf("second Plan = %s, %v; want new", u2.Kind, err)
	}
	tr.Commit(u)
	tr.Commit(u2)
	ev, ok := tr.Get("LVC_S230522n")
	if !ok || len(ev.History) != 1 {
		t.Fatalf("after commit: ok=%v history=%d, want 1", ok, len(ev.History))
	}
}

func TestTracker_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Get("LVC_S230522n")
				tr.Len()
			}
		}()
	}
	for i := 1; i <= 50; i++ {
		n := gw("n"+strconv.Itoa(i), "UPDATE", i)
		if _, err := tr.Ingest(n); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	wg.Wait()
	ev, _ := tr.Get("LVC_S230522n")
	if len(ev.History) != 50 {
		t.Errorf("history = %d, want 50", len(ev.History))
	}
}
