package notice

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// unifiedSources maps GCN unified-schema publishers to source tags.
var unifiedSources = map[string]string{
	"einstein_probe": "EinsteinProbe",
	"swift":          "Swift",
	"svom":           "SVOM",
	"icecube":        "IceCube",
	"fermi":          "Fermi",
	"lvk":            "LVC",
}

// unifiedPath splits a schema URL such as
// https://gcn.nasa.gov/schema/v4.1.0/gcn/notices/einstein_probe/wxt/alert.schema.json
// into publisher ("einstein_probe") and instrument ("wxt").
func unifiedPath(schema string) (publisher, instrument string, err error) {
	_, rest, ok := strings.Cut(schema, "/notices/")
	if !ok {
		return "", "", perr("$schema", "unrecognised schema URL %q", schema)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		return "", "", perr("$schema", "unrecognised schema URL %q", schema)
	}
	publisher = parts[0]
	if len(parts) > 2 {
		instrument = parts[1]
	}
	return publisher, instrument, nil
}

// decodeUnified handles satellite notices in the GCN unified JSON schema.
// Position fields are optional and the trigger metadata is kept as attributes.
func decodeUnified(doc gjson.Result) (*Notice, error) {
	schema := doc.Get(`\$schema`).String()
	publisher, instrument, err := unifiedPath(schema)
	if err != nil {
		return nil, err
	}
	if inst := doc.Get("instrument").String(); inst != "" {
		instrument = inst
	}

	trigger := strings.TrimSpace(doc.Get("trigger_time").String())
	if trigger == "" {
		return nil, perr("trigger_time", "missing trigger time")
	}
	tt, err := parseTime(trigger)
	if err != nil {
		return nil, perrWrap("trigger_time", "invalid timestamp", err)
	}

	issued := trigger
	if a := strings.TrimSpace(doc.Get("alert_datetime").String()); a != "" {
		issued = a
	}
	it, err := parseTime(issued)
	if err != nil {
		return nil, perrWrap("alert_datetime", "invalid timestamp", err)
	}

	var id string
	if ids := doc.Get("id"); ids.IsArray() {
		if arr := ids.Array(); len(arr) > 0 {
			id = arr[0].String()
		}
	} else {
		id = ids.String()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, perr("id", "missing trigger id")
	}

	source, ok := unifiedSources[publisher]
	if !ok {
		source = publisher
	}
	subtype := strings.ToUpper(instrument)
	if subtype == "" {
		subtype = "ALERT"
	}

	n := &Notice{
		ID:         "ivo://gcn.nasa.gov/" + publisher + "#" + strings.ToLower(subtype) + "_" + id + "_" + issued,
		Schema:     SchemaSatellite,
		Source:     source,
		EventID:    id,
		Subtype:    subtype,
		Role:       RoleObservation,
		Time:       it,
		EventTime:  tt,
		Attributes: make(map[string]any),
	}

	ra, dec := present(doc.Get("ra")), present(doc.Get("dec"))
	switch {
	case ra.Exists() && dec.Exists():
		if ra.Type != gjson.Number || !finite(ra.Float()) {
			return nil, perr("ra", "invalid number")
		}
		if dec.Type != gjson.Number || !(dec.Float() >= -90 && dec.Float() <= 90) {
			return nil, perr("dec", "invalid declination")
		}
		pos := &Position{RA: normRA(ra.Float()), Dec: dec.Float()}
		if e := present(doc.Get("ra_dec_error")); e.Exists() {
			if e.Type != gjson.Number || !finite(e.Float()) {
				return nil, perr("ra_dec_error", "invalid number")
			}
			f := e.Float()
			pos.Error = &f
		}
		n.Localization.Position = pos
	case ra.Exists():
		return nil, perr("dec", "ra given without dec")
	case dec.Exists():
		return nil, perr("ra", "dec given without ra")
	}

	doc.ForEach(func(k, val gjson.Result) bool {
		key := k.String()
		switch key {
		case "$schema", "ra", "dec", "ra_dec_error", "id":
			return true
		}
		switch {
		case val.IsArray():
			for i, item := range val.Array() {
				if s, ok := scalar(item); ok {
					n.Attributes[key+"."+strconv.Itoa(i)] = s
				}
			}
		case val.IsObject():
			val.ForEach(func(ik, iv gjson.Result) bool {
				if s, ok := scalar(iv); ok {
					n.Attributes[key+"."+ik.String()] = s
				}
				return true
			})
		default:
			if s, ok := scalar(val); ok {
				n.Attributes[key] = s
			}
		}
		return true
	})
	return n, nil
}

// present maps an explicit JSON null to an absent field.
func present(r gjson.Result) gjson.Result {
	if r.Type == gjson.Null {
		return gjson.Result{}
	}
	return r
}
