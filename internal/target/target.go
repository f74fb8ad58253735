// Package target turns a matched notice into schedulable observation
// requests.
package target

import (
	"time"

	"github.com/linnemanlabs/sentinel/internal/strategy"
)

// Status is the scheduling state of a target.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCompleted   Status = "completed"
	StatusInvalidated Status = "invalidated"
)

// Target is one observation request. Point targets leave Tile empty.
type Target struct {
	ID       string `json:"id"`
	EventKey string `json:"event_key"`
	NoticeID string `json:"notice_id"`
	Strategy string `json:"strategy"`
	Name     string `json:"name"`

	RA          float64  `json:"ra"`
	Dec         float64  `json:"dec"`
	ErrorRadius *float64 `json:"error_radius,omitempty"`
	Tile        string   `json:"tile,omitempty"`
	TileProb    float64  `json:"tile_prob,omitempty"`

	Rank  int       `json:"rank"`
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`

	Cadence      strategy.Cadence       `json:"cadence"`
	ExposureSets []strategy.ExposureSet `json:"exposure_sets"`
	Constraints  strategy.Constraints   `json:"constraints"`

	// Repeat counts completed repeats; NextEligible is the earliest time
	// the next one may run.
	Repeat       int       `json:"repeat"`
	NextEligible time.Time `json:"next_eligible"`
	Status       Status    `json:"status"`
	Created      time.Time `json:"created"`
}

// Pending reports whether the target still awaits observation.
func (t *Target) Pending() bool { return t.Status == StatusPending }

// Advance records one completed repeat at now. It applies the repeat's rank
// delta and wait, and reports whether another repeat can be scheduled. A
// target with no repeats left, or whose next repeat would fall after the
// validity window, is marked completed.
func (t *Target) Advance(now time.Time) bool {
	if !t.Pending() {
		return false
	}
	st := t.Cadence.Stage(t.Repeat)
	t.Rank += st.RankDelta
	t.NextEligible = now.Add(st.Wait)
	t.Repeat++

	if t.Repeat >= t.Cadence.NumTodo || !t.NextEligible.Before(t.Stop) {
		t.Status = StatusCompleted
		return false
	}
	return true
}

// Invalidate cancels a pending target. It reports whether the target changed.
func (t *Target) Invalidate() bool {
	if !t.Pending() {
		return false
	}
	t.Status = StatusInvalidated
	return true
}
