package notice

import (
	"strings"
	"time"
)

// Schema tags which decoder family produced a Notice.
type Schema string

const (
	// SchemaGenericPosition covers gamma-ray and neutrino notices that carry
	// an explicit RA/Dec and circular error radius.
	SchemaGenericPosition Schema = "generic_position"

	// SchemaGravitationalWave covers GW alerts that reference a probability sky map.
	SchemaGravitationalWave Schema = "gravitational_wave"

	// SchemaSatellite covers satellite telemetry notices where the position may be absent.
	SchemaSatellite Schema = "satellite"
)

// Role is the VOEvent role of a notice.
type Role string

const (
	RoleObservation Role = "observation"
	RoleTest        Role = "test"
	RoleUtility     Role = "utility"
)

// Format is the wire serialization a notice arrived in.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// CiteKind tags a citation link.
type CiteKind string

const (
	CiteSupersedes CiteKind = "supersedes"
	CiteRetraction CiteKind = "retraction"
	CiteFollowup   CiteKind = "followup"
)

// SubtypeRetraction is the subtype carried by retraction notices.
const SubtypeRetraction = "RETRACTION"

// Citation links a notice to an earlier notice identifier.
type Citation struct {
	ID   string   `json:"id"`
	Kind CiteKind `json:"kind"`
}

// Position is a point localization in degrees. Error is nil when the
// notice carries no error radius.
type Position struct {
	RA    float64  `json:"ra"`
	Dec   float64  `json:"dec"`
	Error *float64 `json:"error,omitempty"`
}

// LocKind classifies a Localization.
type LocKind string

const (
	LocNone   LocKind = "none"
	LocPoint  LocKind = "point"
	LocSkyMap LocKind = "skymap"
)

// Localization holds whichever position information a notice carried.
type Localization struct {
	Position     *Position `json:"position,omitempty"`
	SkyMapURL    string    `json:"skymap_url,omitempty"`
	SkyMapData   []byte    `json:"-"`
	ReferenceURL string    `json:"reference_url,omitempty"`
}

// Kind reports how the notice is localized. A point position takes
// precedence over a sky map reference.
func (l Localization) Kind() LocKind {
	switch {
	case l.Position != nil:
		return LocPoint
	case l.SkyMapURL != "" || len(l.SkyMapData) > 0:
		return LocSkyMap
	default:
		return LocNone
	}
}

// Notice is one parsed alert. Notices are never mutated after parsing.
type Notice struct {
	ID      string `json:"ivorn"`
	Schema  Schema `json:"schema"`
	Source  string `json:"source"`
	EventID string `json:"event_id"`
	Subtype string `json:"subtype"`
	Role    Role   `json:"role"`
	Format  Format `json:"format"`

	// Time is when the notice was issued, EventTime when the underlying
	// trigger happened. EventTime falls back to Time when the payload
	// carries no separate trigger time.
	Time      time.Time `json:"time"`
	EventTime time.Time `json:"event_time"`

	// Sequence is the revision serial number, nil when the source has none.
	Sequence *int `json:"sequence,omitempty"`

	Localization   Localization       `json:"localization"`
	Attributes     map[string]any     `json:"attributes,omitempty"`
	Classification map[string]float64 `json:"classification,omitempty"`
	Citations      []Citation         `json:"citations,omitempty"`

	Payload []byte `json:"-"`
}

// Key is the source-specific grouping key for the notice's event.
func (n *Notice) Key() string {
	return n.Source + "_" + n.EventID
}

// IsRetraction reports whether the notice retracts its event.
func (n *Notice) IsRetraction() bool {
	if n.Subtype == SubtypeRetraction {
		return true
	}
	for _, c := range n.Citations {
		if c.Kind == CiteRetraction {
			return true
		}
	}
	return false
}

// Float returns a numeric attribute.
func (n *Notice) Float(name string) (float64, bool) {
	v, ok := n.Attributes[name].(float64)
	return v, ok
}

// Bool returns a boolean attribute.
func (n *Notice) Bool(name string) (bool, bool) {
	v, ok := n.Attributes[name].(bool)
	return v, ok
}

// String returns a string attribute.
func (n *Notice) String(name string) (string, bool) {
	v, ok := n.Attributes[name].(string)
	return v, ok
}

// Newer reports whether n is a later revision than other, comparing
// sequence numbers when both carry one and issue times otherwise.
func (n *Notice) Newer(other *Notice) bool {
	if n.Sequence != nil && other.Sequence != nil && *n.Sequence != *other.Sequence {
		return *n.Sequence > *other.Sequence
	}
	return n.Time.After(other.Time)
}

// ParseRole normalizes a role attribute value.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test":
		return RoleTest
	case "utility":
		return RoleUtility
	default:
		return RoleObservation
	}
}
