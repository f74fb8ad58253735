package skymap

import (
	"sort"

	"github.com/golang/geo/s2"
)

// DefaultLevel is the S2 cell level maps are reduced to, roughly 1.8 deg cells.
const DefaultLevel = 5

// Cell is the probability contained in one S2 cell after regrading.
type Cell struct {
	ID   s2.CellID
	RA   float64
	Dec  float64
	Prob float64
}

// Regrade sums pixel probabilities into S2 cells at level and returns the
// cells in descending probability order. Ties order by cell ID.
func (m *SkyMap) Regrade(level int) []Cell {
	level = min(max(level, 0), s2.MaxLevel)
	sums := make(map[s2.CellID]float64)
	for _, p := range m.Pixels {
		id := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Dec, p.RA)).Parent(level)
		sums[id] += p.Prob
	}

	out := make([]Cell, 0, len(sums))
	for id, prob := range sums {
		ll := id.LatLng()
		out = append(out, Cell{ID: id, RA: normRA(ll.Lng.Degrees()), Dec: ll.Lat.Degrees(), Prob: prob})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prob != out[j].Prob {
			return out[i].Prob > out[j].Prob
		}
		return out[i].ID < out[j].ID
	})
	return out
}
