// Package grid defines the fixed all-sky tiling used to turn sky map
// probability into pointings.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/linnemanlabs/sentinel/internal/skymap"
)

// Tile is one pointing of the grid.
type Tile struct {
	Name string  `json:"name"`
	RA   float64 `json:"ra"`
	Dec  float64 `json:"dec"`
}

// TileProb is the probability contained in a tile.
type TileProb struct {
	Tile
	Prob float64 `json:"prob"`
}

type band struct {
	dec   float64
	first int
	count int
}

// Grid tiles the sky in declination bands of square fields. Adjacent tiles
// overlap by the configured fraction of the field of view.
type Grid struct {
	fov     s1.Angle
	overlap float64
	bands   []band
	tiles   []Tile
	centres []s2.LatLng
}

// New builds a grid of fov-degree square tiles with the given fractional
// overlap in [0, 1).
func New(fov, overlap float64) (*Grid, error) {
	if fov <= 0 || fov > 90 {
		return nil, fmt.Errorf("grid: field of view %v out of range (0, 90]", fov)
	}
	if overlap < 0 || overlap >= 1 {
		return nil, errors.New("grid: overlap must be in [0, 1)")
	}

	step := fov * (1 - overlap)
	nb := int(math.Ceil(180 / step))
	height := 180 / float64(nb)

	g := &Grid{fov: s1.Angle(fov) * s1.Degree, overlap: overlap}
	for i := 0; i < nb; i++ {
		lo := -90 + float64(i)*height
		hi := lo + height
		dec := lo + height/2

		// size the band by its widest edge so tiles cover it completely
		edge := math.Min(math.Abs(lo), math.Abs(hi))
		if lo < 0 && hi > 0 {
			edge = 0
		}
		count := max(1, int(math.Ceil(360*math.Cos(edge*math.Pi/180)/step)))

		b := band{dec: dec, first: len(g.tiles), count: count}
		for j := 0; j < count; j++ {
			ra := float64(j) * 360 / float64(count)
			g.tiles = append(g.tiles, Tile{
				Name: fmt.Sprintf("T%05d", len(g.tiles)+1),
				RA:   ra,
				Dec:  dec,
			})
			g.centres = append(g.centres, s2.LatLngFromDegrees(dec, ra))
		}
		g.bands = append(g.bands, b)
	}
	return g, nil
}

// FOV returns the tile size in degrees.
func (g *Grid) FOV() float64 { return g.fov.Degrees() }

// Len returns the number of tiles.
func (g *Grid) Len() int { return len(g.tiles) }

// Tiles returns a copy of every tile.
func (g *Grid) Tiles() []Tile {
	out := make([]Tile, len(g.tiles))
	copy(out, g.tiles)
	return out
}

// Locate returns the index of the tile whose centre is nearest to (ra, dec),
// or -1 when the point is not finite.
func (g *Grid) Locate(ra, dec float64) int {
	if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(dec) || math.IsInf(dec, 0) {
		return -1
	}
	p := s2.LatLngFromDegrees(dec, ra)
	height := 180 / float64(len(g.bands))
	bi := min(max(int((dec+90)/height), 0), len(g.bands)-1)

	best, bestDist := -1, s1.InfAngle()
	for k := bi - 1; k <= bi+1; k++ {
		if k < 0 || k >= len(g.bands) {
			continue
		}
		b := g.bands[k]
		width := 360 / float64(b.count)
		j := int(math.Round(normRA(ra) / width))
		for d := -1; d <= 1; d++ {
			idx := b.first + ((j+d)%b.count+b.count)%b.count
			if dist := p.Distance(g.centres[idx]); dist < bestDist {
				best, bestDist = idx, dist
			}
		}
	}
	return best
}

// Apply sums cell probabilities into tiles and returns every tile with
// non-zero probability in descending order. Ties order by tile name.
func (g *Grid) Apply(cells []skymap.Cell) []TileProb {
	sums := make(map[int]float64)
	for _, c := range cells {
		idx := g.Locate(c.RA, c.Dec)
		if idx < 0 {
			continue
		}
		sums[idx] += c.Prob
	}
	out := make([]TileProb, 0, len(sums))
	for idx, p := range sums {
		if p <= 0 {
			continue
		}
		out = append(out, TileProb{Tile: g.tiles[idx], Prob: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prob != out[j].Prob {
			return out[i].Prob > out[j].Prob
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func normRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}
