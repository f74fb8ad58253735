package notice

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// GW significance falls back to a false-alarm-rate threshold when the
// notice has no explicit Significant flag.
const (
	cbcFARThreshold   = 1.0 / (30 * 86400)  // one per month
	burstFARThreshold = 1.0 / (365 * 86400) // one per year
)

const skymapGroup = "GW_SKYMAP"

// ivornSerial matches the revision serial in LVC identifiers such as
// "ivo://gwnet/LVC#S230522n-2-Update".
var ivornSerial = regexp.MustCompile(`#[A-Za-z0-9]+-(\d+)-[A-Za-z]+$`)

func decodeLVC(doc gjson.Result) (*Notice, error) {
	v, err := readVOEvent(doc)
	if err != nil {
		return nil, err
	}
	n, err := v.base(SchemaGravitationalWave, "LVC")
	if err != nil {
		return nil, err
	}

	if n.EventID, err = v.param("GraceID"); err != nil {
		return nil, err
	}
	alert, err := v.param("AlertType")
	if err != nil {
		return nil, err
	}
	n.Subtype = strings.ToUpper(alert)

	if s, ok := v.params["Pkt_Ser_Num"]; ok {
		seq, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, perrWrap(paramPath("Pkt_Ser_Num"), "invalid serial number", err)
		}
		n.Sequence = intPtr(seq)
	} else if m := ivornSerial.FindStringSubmatch(n.ID); m != nil {
		seq, _ := strconv.Atoi(m[1])
		n.Sequence = intPtr(seq)
	}

	if n.Subtype == SubtypeRetraction {
		return n, nil
	}

	sm := v.groups[skymapGroup]
	if sm == nil || strings.TrimSpace(sm["skymap_fits"]) == "" {
		return nil, perr(groupPath(skymapGroup, "skymap_fits"), "missing sky map reference")
	}
	n.Localization.SkyMapURL = strings.TrimSpace(sm["skymap_fits"])
	if ext := v.groups["External Coincidence"]; ext != nil {
		if joint := strings.TrimSpace(ext["joint_skymap_fits"]); joint != "" {
			n.Localization.SkyMapURL = joint
		}
	}
	n.Localization.ReferenceURL = strings.TrimSpace(v.params["EventPage"])

	if cls := v.groups["Classification"]; len(cls) > 0 {
		n.Classification = make(map[string]float64, len(cls))
		for name, val := range cls {
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, perrWrap(groupPath("Classification", name), "invalid probability", err)
			}
			if !(f >= 0 && f <= 1) {
				return nil, perr(groupPath("Classification", name), "probability %q outside [0, 1]", val)
			}
			n.Classification[name] = f
		}
	}

	setSignificance(n)
	return n, nil
}

// setSignificance normalizes the Significant attribute to a bool.
func setSignificance(n *Notice) {
	switch v := n.Attributes["Significant"].(type) {
	case bool:
		return
	case float64:
		n.Attributes["Significant"] = v != 0
		return
	}
	far, ok := n.Float("FAR")
	if !ok {
		return
	}
	threshold := cbcFARThreshold
	if g, _ := n.String("Group"); strings.EqualFold(g, "Burst") {
		threshold = burstFARThreshold
	}
	n.Attributes["Significant"] = far < threshold
}

// decodeIGWN handles the IGWN JSON alert format, which carries the sky map
// inline as base64 and has no ivorn of its own.
func decodeIGWN(doc gjson.Result) (*Notice, error) {
	superevent := strings.TrimSpace(doc.Get("superevent_id").String())
	if superevent == "" {
		return nil, perr("superevent_id", "missing superevent id")
	}
	alert := strings.ToUpper(strings.TrimSpace(doc.Get("alert_type").String()))
	if alert == "" {
		return nil, perr("alert_type", "missing alert type")
	}
	created := strings.TrimSpace(doc.Get("time_created").String())
	if created == "" {
		return nil, perr("time_created", "missing issue time")
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, perrWrap("time_created", "invalid timestamp", err)
	}

	n := &Notice{
		ID:         "ivo://gwnet/LVC#" + superevent + "-" + alert + "-" + created,
		Schema:     SchemaGravitationalWave,
		Source:     "LVC",
		EventID:    superevent,
		Subtype:    alert,
		Role:       RoleObservation,
		Time:       t,
		EventTime:  t,
		Attributes: make(map[string]any),
	}
	// mock superevents are issued with an M prefix (MS230522a)
	if strings.HasPrefix(superevent, "M") {
		n.Role = RoleTest
	}
	if u := doc.Get("urls.gracedb").String(); u != "" {
		n.Localization.ReferenceURL = u
	}

	if alert == SubtypeRetraction {
		return n, nil
	}

	ev := doc.Get("event")
	if !ev.IsObject() {
		return nil, perr("event", "missing event block")
	}
	if et := ev.Get("time").String(); et != "" {
		tt, err := parseTime(et)
		if err != nil {
			return nil, perrWrap("event.time", "invalid timestamp", err)
		}
		n.EventTime = tt
	}

	for key, attr := range map[string]string{
		"far":         "FAR",
		"significant": "Significant",
		"group":       "Group",
		"pipeline":    "Pipeline",
		"search":      "Search",
	} {
		if val, ok := scalar(ev.Get(key)); ok {
			n.Attributes[attr] = val
		}
	}
	if inst := ev.Get("instruments"); inst.IsArray() {
		var names []string
		for _, i := range inst.Array() {
			names = append(names, i.String())
		}
		n.Attributes["Instruments"] = strings.Join(names, ",")
	}
	ev.Get("properties").ForEach(func(k, val gjson.Result) bool {
		if s, ok := scalar(val); ok {
			n.Attributes["Properties."+k.String()] = s
		}
		return true
	})

	if cls := ev.Get("classification"); cls.IsObject() {
		n.Classification = make(map[string]float64)
		var bad string
		cls.ForEach(func(k, val gjson.Result) bool {
			if val.Type != gjson.Number || !(val.Float() >= 0 && val.Float() <= 1) {
				bad = k.String()
				return false
			}
			n.Classification[k.String()] = val.Float()
			n.Attributes["Classification."+k.String()] = val.Float()
			return true
		})
		if bad != "" {
			return nil, perr("event.classification."+bad, "invalid probability")
		}
		if len(n.Classification) == 0 {
			n.Classification = nil
		}
	}

	sm := ev.Get("skymap").String()
	if sm == "" {
		return nil, perr("event.skymap", "missing sky map")
	}
	data, err := base64.StdEncoding.DecodeString(sm)
	if err != nil {
		return nil, perrWrap("event.skymap", "invalid base64", err)
	}
	n.Localization.SkyMapData = data

	if ext := doc.Get("external_coinc"); ext.IsObject() {
		ext.ForEach(func(k, val gjson.Result) bool {
			if s, ok := scalar(val); ok && k.String() != "combined_skymap" {
				n.Attributes["External Coincidence."+k.String()] = s
			}
			return true
		})
		if joint := ext.Get("combined_skymap").String(); joint != "" {
			data, err := base64.StdEncoding.DecodeString(joint)
			if err != nil {
				return nil, perrWrap("external_coinc.combined_skymap", "invalid base64", err)
			}
			n.Localization.SkyMapData = data
		}
	}

	setSignificance(n)
	return n, nil
}
