package notice

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	packetFermiGBMFinPos = 115
	packetSwiftBATGRBPos = 61
	packetGECAMGndPos    = 189

	// fermiSystematic is the GBM localization systematic in degrees.
	fermiSystematic = 5.6
)

// decodePositioned handles the shared shape of the gamma-ray and neutrino
// VOEvents: a packet type, a trigger id parameter and a Position2D block.
func decodePositioned(doc gjson.Result, source string, packets map[int]string, idParam string) (*voevent, *Notice, error) {
	v, err := readVOEvent(doc)
	if err != nil {
		return nil, nil, err
	}
	n, err := v.base(SchemaGenericPosition, source)
	if err != nil {
		return nil, nil, err
	}

	pt, err := v.packetType()
	if err != nil {
		return nil, nil, err
	}
	subtype, ok := packets[pt]
	if !ok {
		return nil, nil, unsupportedPacket(pt)
	}
	n.Subtype = subtype

	if idParam != "" {
		if n.EventID, err = v.param(idParam); err != nil {
			return nil, nil, err
		}
	}

	pos, err := v.position()
	if err != nil {
		return nil, nil, err
	}
	if pos == nil {
		return nil, nil, perr(astroCoords+".Position2D", "missing position")
	}
	n.Localization.Position = pos
	return v, n, nil
}

func decodeFermi(doc gjson.Result) (*Notice, error) {
	v, n, err := decodePositioned(doc, "Fermi", map[int]string{packetFermiGBMFinPos: "GBM_FIN_POS"}, "TrigID")
	if err != nil {
		return nil, err
	}
	addSystematic(n.Localization.Position, fermiSystematic)

	if ls := v.groups["Trigger_ID"]["Long_short"]; ls != "" {
		n.Attributes["duration"] = strings.ToLower(strings.TrimSpace(ls))
	}
	if lc := strings.TrimSpace(v.params["LightCurve_URL"]); lc != "" {
		n.Localization.ReferenceURL = lc
		// the healpix map sits next to the light curve plot
		u := strings.Replace(lc, "lc_medres34", "healpix_all", 1)
		u = strings.Replace(u, ".gif", ".fit", 1)
		n.Localization.SkyMapURL = u
	}
	return n, nil
}

func decodeSwift(doc gjson.Result) (*Notice, error) {
	v, n, err := decodePositioned(doc, "Swift", map[int]string{packetSwiftBATGRBPos: "BAT_GRB_POS"}, "TrigID")
	if err != nil {
		return nil, err
	}
	if lost, ok := coerce(v.groups["Solution_Status"]["StarTrack_Lost_Lock"]).(bool); ok && lost {
		return nil, perr(groupPath("Solution_Status", "StarTrack_Lost_Lock"), "star tracker lost lock, position unreliable")
	}
	return n, nil
}

func decodeGECAM(doc gjson.Result) (*Notice, error) {
	v, n, err := decodePositioned(doc, "GECAM", map[int]string{packetGECAMGndPos: "GND_POS"}, "Trigger_Number")
	if err != nil {
		return nil, err
	}
	if class := strings.TrimSpace(v.params["SRC_CLASS"]); !strings.EqualFold(class, "GRB") {
		return nil, perr(paramPath("SRC_CLASS"), "source class %q is not a GRB", class)
	}
	return n, nil
}
