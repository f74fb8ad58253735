package notice

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	packetIceCubeGold    = 173
	packetIceCubeBronze  = 174
	packetIceCubeCascade = 176

	// trackSystematic is added to IceCube track localizations in degrees.
	trackSystematic = 0.2
)

var amonPackets = map[int]string{
	packetIceCubeGold:    "ICECUBE_GOLD",
	packetIceCubeBronze:  "ICECUBE_BRONZE",
	packetIceCubeCascade: "ICECUBE_CASCADE",
}

func decodeAMON(doc gjson.Result) (*Notice, error) {
	v, n, err := decodePositioned(doc, "IceCube", amonPackets, "")
	if err != nil {
		return nil, err
	}

	switch {
	case strings.TrimSpace(v.params["AMON_ID"]) != "":
		n.EventID = strings.TrimSpace(v.params["AMON_ID"])
	case v.params["run_id"] != "" && v.params["event_id"] != "":
		n.EventID = strings.TrimSpace(v.params["run_id"]) + "_" + strings.TrimSpace(v.params["event_id"])
	default:
		return nil, perr(paramPath("AMON_ID"), "missing parameter")
	}

	if n.Subtype != amonPackets[packetIceCubeCascade] {
		addSystematic(n.Localization.Position, trackSystematic)
	}
	return n, nil
}
