package target

import (
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/strategy"
)

func cadenceTarget(stop time.Time) *Target {
	return &Target{
		Rank:   100,
		Stop:   stop,
		Status: StatusPending,
		Cadence: strategy.Cadence{
			NumTodo:    2,
			WaitHours:  strategy.Stages[float64]{1, 0},
			RankChange: strategy.Stages[int]{0, 10},
		},
	}
}

func TestAdvanceCadence(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 22, 0, 0, 0, 0, time.UTC)
	tg := cadenceTarget(now.Add(72 * time.Hour))

	if !tg.Advance(now) {
		t.Fatal("first repeat: expected another to be schedulable")
	}
	if tg.Rank != 100 || !tg.NextEligible.Equal(now.Add(time.Hour)) || tg.Repeat != 1 {
		t.Errorf("after first repeat: rank=%d next=%v repeat=%d", tg.Rank, tg.NextEligible, tg.Repeat)
	}

	later := now.Add(time.Hour)
	if tg.Advance(later) {
		t.Fatal("second repeat: expected no third repeat")
	}
	if tg.Rank != 110 || !tg.NextEligible.Equal(later) || tg.Status != StatusCompleted {
		t.Errorf("after second repeat: rank=%d next=%v status=%s", tg.Rank, tg.NextEligible, tg.Status)
	}
	if tg.Advance(later) {
		t.Error("completed target advanced")
	}
}

func TestAdvanceStopsAtValidity(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 22, 0, 0, 0, 0, time.UTC)
	tg := cadenceTarget(now.Add(30 * time.Minute))
	tg.Cadence.NumTodo = 10

	if tg.Advance(now) {
		t.Error("next repeat falls after the window, want false")
	}
	if tg.Status != StatusCompleted {
		t.Errorf("status = %s", tg.Status)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	tg := &Target{Status: StatusPending}
	if !tg.Invalidate() || tg.Status != StatusInvalidated {
		t.Fatal("pending target not invalidated")
	}
	if tg.Invalidate() {
		t.Error("second Invalidate reported a change")
	}
	if tg.Advance(time.Now()) {
		t.Error("invalidated target advanced")
	}
}
