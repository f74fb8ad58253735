// Package strategy loads the observing strategy table and matches events
// against its ordered rules.
package strategy

import (
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultName is the mandatory fallback strategy.
const DefaultName = "DEFAULT"

// Strategy is one named row of the strategy table. Strategies are shared
// read-only after loading.
type Strategy struct {
	Name          string        `yaml:"-" json:"name"`
	Rank          int           `yaml:"rank" json:"rank"`
	ValidHours    float64       `yaml:"valid_hours" json:"valid_hours"`
	DelayHours    float64       `yaml:"delay_hours" json:"delay_hours,omitempty"`
	Cadence       Cadence       `yaml:"cadence" json:"cadence"`
	Constraints   Constraints   `yaml:"constraints" json:"constraints"`
	ExposureSets  []ExposureSet `yaml:"exposure_sets" json:"exposure_sets"`
	SkymapContour float64       `yaml:"skymap_contour" json:"skymap_contour"`
	MinTileProb   float64       `yaml:"min_tile_prob" json:"min_tile_prob"`
	// MaxTiles caps the number of sky-map tiles; 0 means no cap.
	MaxTiles    int  `yaml:"max_tiles" json:"max_tiles"`
	WakeupAlert bool `yaml:"wakeup_alert" json:"wakeup_alert,omitempty"`
}

// Window returns the validity window for an event that happened at eventTime.
func (s *Strategy) Window(eventTime time.Time) (start, stop time.Time) {
	start = eventTime.Add(hours(s.DelayHours))
	stop = eventTime.Add(hours(s.ValidHours))
	return start, stop
}

// Constraints are the visibility limits applied by the scheduler.
type Constraints struct {
	MinAlt     float64 `yaml:"min_alt" json:"min_alt"`
	MaxSunAlt  float64 `yaml:"max_sunalt" json:"max_sunalt"`
	MaxMoon    string  `yaml:"max_moon" json:"max_moon"`
	MinMoonSep float64 `yaml:"min_moonsep" json:"min_moonsep"`
}

// ExposureSet is one entry of the exposure plan.
type ExposureSet struct {
	NumExp  int     `yaml:"num_exp" json:"num_exp"`
	ExpTime float64 `yaml:"exptime" json:"exptime"`
	Filter  string  `yaml:"filt" json:"filt"`
}

// Cadence is the repeat schedule. WaitHours and RankChange accept either a
// single value or a staged list.
type Cadence struct {
	NumTodo    int             `yaml:"num_todo" json:"num_todo"`
	WaitHours  Stages[float64] `yaml:"wait_hours" json:"wait_hours"`
	RankChange Stages[int]     `yaml:"rank_change" json:"rank_change"`
}

// Repeat is the schedule for one repeat of a target.
type Repeat struct {
	Index     int           `json:"index"`
	Wait      time.Duration `json:"wait"`
	RankDelta int           `json:"rank_delta"`
}

// Stage returns the wait and rank delta applied for repeat i (0-based).
func (c Cadence) Stage(i int) Repeat {
	return Repeat{
		Index:     i,
		Wait:      hours(c.WaitHours.At(i)),
		RankDelta: c.RankChange.At(i),
	}
}

// Repeats expands the cadence into NumTodo repeats.
func (c Cadence) Repeats() []Repeat {
	out := make([]Repeat, 0, c.NumTodo)
	for i := 0; i < c.NumTodo; i++ {
		out = append(out, c.Stage(i))
	}
	return out
}

// Stages is a per-repeat value given either as a scalar or as a list whose
// last element repeats.
type Stages[T int | float64] []T

// At returns the value for repeat i. An empty list yields the zero value.
func (s Stages[T]) At(i int) T {
	if len(s) == 0 {
		var zero T
		return zero
	}
	return s[min(max(i, 0), len(s)-1)]
}

// UnmarshalYAML accepts a scalar or a sequence.
func (s *Stages[T]) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v T
		if err := n.Decode(&v); err != nil {
			return err
		}
		*s = Stages[T]{v}
		return nil
	}
	var vs []T
	if err := n.Decode(&vs); err != nil {
		return err
	}
	*s = vs
	return nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
