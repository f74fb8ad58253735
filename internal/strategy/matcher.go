package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/notice"
)

// ErrNoMatch is returned when an event carries no usable localization.
var ErrNoMatch = errors.New("no strategy applies")

// Condition operators.
const (
	OpGE     = ">="
	OpGT     = ">"
	OpLE     = "<="
	OpLT     = "<"
	OpEQ     = "=="
	OpNE     = "!="
	OpExists = "exists"
)

// Match is the outcome of classifying an event.
type Match struct {
	Strategy *Strategy
	// Rule is the name of the satisfied rule, empty for the fallback.
	Rule string
}

// Matcher evaluates the ordered rule table. It is safe for concurrent use.
type Matcher struct {
	cfg *Config
}

// NewMatcher returns a matcher over cfg. cfg must have passed Parse.
func NewMatcher(cfg *Config) *Matcher {
	if cfg == nil || cfg.Strategies[DefaultName] == nil {
		panic("strategy: NewMatcher requires a table with a DEFAULT strategy")
	}
	return &Matcher{cfg: cfg}
}

// Config returns the underlying table.
func (m *Matcher) Config() *Config { return m.cfg }

// Match classifies ev by its current notice. The first satisfied rule wins
// and DEFAULT applies when none does.
func (m *Matcher) Match(ev *event.Event) (Match, error) {
	if ev == nil || ev.Current == nil {
		return Match{}, ErrNoMatch
	}
	return m.MatchNotice(ev.Current)
}

// MatchNotice classifies a single notice.
func (m *Matcher) MatchNotice(n *notice.Notice) (Match, error) {
	if n.Localization.Kind() == notice.LocNone {
		return Match{}, fmt.Errorf("%w: notice %s has no localization", ErrNoMatch, n.ID)
	}
	for i := range m.cfg.Rules {
		r := &m.cfg.Rules[i]
		if r.Applies(n) {
			return Match{Strategy: m.cfg.Strategies[r.Strategy], Rule: r.Name}, nil
		}
	}
	return Match{Strategy: m.cfg.Strategies[DefaultName]}, nil
}

// Applies reports whether every criterion of r holds for n.
func (r *Rule) Applies(n *notice.Notice) bool {
	if r.Source != "" && !strings.EqualFold(r.Source, n.Source) {
		return false
	}
	if len(r.Subtypes) > 0 && !containsFold(r.Subtypes, n.Subtype) {
		return false
	}
	if r.Schema != "" && r.Schema != string(n.Schema) {
		return false
	}
	if r.Localization != "" && r.Localization != string(n.Localization.Kind()) {
		return false
	}
	for _, c := range r.Conditions {
		if !c.holds(n) {
			return false
		}
	}
	return true
}

func (c Condition) holds(n *notice.Notice) bool {
	got, ok := n.Attributes[c.Attribute]
	if c.Op == OpExists {
		return ok
	}
	if !ok {
		return false
	}

	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(c.Value)
		if !ok {
			return c.Op == OpNE
		}
		switch c.Op {
		case OpGE:
			return gf >= wf
		case OpGT:
			return gf > wf
		case OpLE:
			return gf <= wf
		case OpLT:
			return gf < wf
		case OpEQ:
			return gf == wf
		case OpNE:
			return gf != wf
		}
		return false
	}

	eq := equalScalar(got, c.Value)
	switch c.Op {
	case OpEQ:
		return eq
	case OpNE:
		return !eq
	}
	return false
}

func equalScalar(got, want any) bool {
	switch g := got.(type) {
	case bool:
		w, ok := want.(bool)
		return ok && g == w
	case string:
		w, ok := want.(string)
		return ok && strings.EqualFold(g, w)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
