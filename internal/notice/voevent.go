package notice

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const astroCoords = "WhereWhen.ObsDataLocation.ObservationLocation.AstroCoords"

// voevent is the common view over a normalized VOEvent document.
type voevent struct {
	doc    gjson.Result
	ivorn  string
	params map[string]string
	groups map[string]map[string]string
}

func readVOEvent(doc gjson.Result) (*voevent, error) {
	ivorn := doc.Get("ivorn").String()
	if ivorn == "" {
		return nil, perr("ivorn", "missing identifier")
	}
	v := &voevent{
		doc:    doc,
		ivorn:  ivorn,
		params: make(map[string]string),
		groups: make(map[string]map[string]string),
	}
	eachItem(doc.Get("What.Param"), func(p gjson.Result) {
		if name := p.Get("name").String(); name != "" {
			v.params[name] = p.Get("value").String()
		}
	})
	eachItem(doc.Get("What.Group"), func(g gjson.Result) {
		ps := make(map[string]string)
		eachItem(g.Get("Param"), func(p gjson.Result) {
			if name := p.Get("name").String(); name != "" {
				ps[name] = p.Get("value").String()
			}
		})
		name := g.Get("name").String()
		typ := g.Get("type").String()
		if name == "" {
			name = typ
		}
		if name == "" {
			return
		}
		v.groups[name] = ps
		if typ != "" && typ != name {
			if _, taken := v.groups[typ]; !taken {
				v.groups[typ] = ps
			}
		}
	})
	return v, nil
}

// base fills the header fields shared by every VOEvent schema.
func (v *voevent) base(schema Schema, source string) (*Notice, error) {
	n := &Notice{
		ID:         v.ivorn,
		Schema:     schema,
		Source:     source,
		Attributes: make(map[string]any),
	}

	role := v.doc.Get("role").String()
	if role == "" {
		return nil, perr("role", "missing role")
	}
	n.Role = ParseRole(role)

	date := text(v.doc.Get("Who.Date"))
	if date == "" {
		return nil, perr("Who.Date", "missing issue time")
	}
	t, err := parseTime(date)
	if err != nil {
		return nil, perrWrap("Who.Date", "invalid timestamp", err)
	}
	n.Time = t
	n.EventTime = t

	if iso := text(v.doc.Get(astroCoords + ".Time.TimeInstant.ISOTime")); iso != "" {
		et, err := parseTime(iso)
		if err != nil {
			return nil, perrWrap(astroCoords+".Time.TimeInstant.ISOTime", "invalid timestamp", err)
		}
		n.EventTime = et
	}

	eachItem(v.doc.Get("Citations.EventIVORN"), func(c gjson.Result) {
		id := text(c)
		if id == "" {
			return
		}
		kind := CiteKind(strings.ToLower(c.Get("cite").String()))
		switch kind {
		case CiteSupersedes, CiteRetraction, CiteFollowup:
		default:
			kind = CiteFollowup
		}
		n.Citations = append(n.Citations, Citation{ID: id, Kind: kind})
	})

	for name, val := range v.params {
		n.Attributes[name] = coerce(val)
	}
	for gname, ps := range v.groups {
		for name, val := range ps {
			n.Attributes[gname+"."+name] = coerce(val)
		}
	}
	return n, nil
}

func paramPath(name string) string { return "What.Param[" + name + "]" }

func groupPath(group, name string) string { return "What.Group[" + group + "]." + name }

// param returns a required top-level parameter.
func (v *voevent) param(name string) (string, error) {
	s, ok := v.params[name]
	if !ok || strings.TrimSpace(s) == "" {
		return "", perr(paramPath(name), "missing parameter")
	}
	return strings.TrimSpace(s), nil
}

// packetType returns the integer GCN packet type.
func (v *voevent) packetType() (int, error) {
	s, err := v.param("Packet_Type")
	if err != nil {
		return 0, err
	}
	pt, err := strconv.Atoi(s)
	if err != nil {
		return 0, perrWrap(paramPath("Packet_Type"), "invalid packet type", err)
	}
	return pt, nil
}

// position reads the optional Position2D block. It returns nil when the
// notice carries no position.
func (v *voevent) position() (*Position, error) {
	const path = astroCoords + ".Position2D"
	pos := v.doc.Get(path)
	if !pos.Exists() {
		return nil, nil
	}
	if unit := pos.Get("unit").String(); unit != "" && unit != "deg" {
		return nil, perr(path+".unit", "unsupported unit %q", unit)
	}

	ra, err := floatField(pos.Get("Value2.C1"), path+".Value2.C1")
	if err != nil {
		return nil, err
	}
	dec, err := floatField(pos.Get("Value2.C2"), path+".Value2.C2")
	if err != nil {
		return nil, err
	}
	if dec < -90 || dec > 90 {
		return nil, perr(path+".Value2.C2", "declination %g out of range", dec)
	}

	p := &Position{RA: normRA(ra), Dec: dec}
	if r := pos.Get("Error2Radius"); r.Exists() && text(r) != "" {
		e, err := floatField(r, path+".Error2Radius")
		if err != nil {
			return nil, err
		}
		p.Error = &e
	}
	return p, nil
}

func floatField(r gjson.Result, path string) (float64, error) {
	s := text(r)
	if s == "" {
		return 0, perr(path, "missing value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, perrWrap(path, "invalid number", err)
	}
	if !finite(f) {
		return 0, perr(path, "non-finite value %q", s)
	}
	return f, nil
}

func normRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}

// addSystematic adds a systematic error in quadrature to the position error.
func addSystematic(p *Position, sys float64) {
	if p == nil || p.Error == nil {
		return
	}
	e := math.Hypot(*p.Error, sys)
	p.Error = &e
}

func intPtr(i int) *int { return &i }

func unsupportedPacket(pt int) error {
	return perr(paramPath("Packet_Type"), "unsupported packet type %d", pt)
}
