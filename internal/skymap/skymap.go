// Package skymap decodes probability sky maps, reduces them to a fixed
// angular resolution, and retrieves them through an ordered fallback chain.
package skymap

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

// Pixel is one sky map sample. Prob is the probability contained in the pixel.
type Pixel struct {
	RA   float64 `json:"ra"`
	Dec  float64 `json:"dec"`
	Prob float64 `json:"prob"`
}

// SkyMap is a normalised probability map over the sky.
type SkyMap struct {
	Pixels []Pixel
	// Origin records where the map came from (URL, file path or "embedded").
	Origin string
}

// ErrEmpty is returned for a map with no probability mass.
var ErrEmpty = errors.New("sky map has no probability")

var gzipMagic = []byte{0x1f, 0x8b}

// Decode reads a pixel table. Accepted layouts are a JSON object with a
// "pixels" array of {ra, dec, prob} and a CSV table with ra,dec,prob
// columns. Either may be gzip-compressed. Probabilities are normalised to
// sum to one.
func Decode(data []byte) (*SkyMap, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(data)
	var (
		px  []Pixel
		err error
	)
	switch {
	case len(trimmed) == 0:
		return nil, ErrEmpty
	case trimmed[0] == '{':
		px, err = decodeJSON(trimmed)
	default:
		px, err = decodeCSV(trimmed)
	}
	if err != nil {
		return nil, err
	}
	return normalise(px)
}

func decodeJSON(data []byte) ([]Pixel, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON sky map")
	}
	arr := gjson.GetBytes(data, "pixels")
	if !arr.IsArray() {
		return nil, errors.New(`JSON sky map has no "pixels" array`)
	}
	var (
		out []Pixel
		bad error
	)
	arr.ForEach(func(k, v gjson.Result) bool {
		ra, dec, p := v.Get("ra"), v.Get("dec"), v.Get("prob")
		if ra.Type != gjson.Number || dec.Type != gjson.Number || p.Type != gjson.Number {
			bad = fmt.Errorf("pixels[%d]: ra, dec and prob must be numbers", k.Int())
			return false
		}
		out = append(out, Pixel{RA: ra.Float(), Dec: dec.Float(), Prob: p.Float()})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

func decodeCSV(data []byte) ([]Pixel, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comment = '#'
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv sky map: %w", err)
	}
	if len(rows) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), "ra") {
		rows = rows[1:]
	}
	out := make([]Pixel, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("csv sky map row %d: want 3 columns, got %d", i+1, len(row))
		}
		var vals [3]float64
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(strings.TrimSpace(row[j]), 64); err != nil {
				return nil, fmt.Errorf("csv sky map row %d: %w", i+1, err)
			}
		}
		out = append(out, Pixel{RA: vals[0], Dec: vals[1], Prob: vals[2]})
	}
	return out, nil
}

func normalise(px []Pixel) (*SkyMap, error) {
	var total float64
	for i, p := range px {
		if p.Prob < 0 || math.IsNaN(p.Prob) || math.IsInf(p.Prob, 0) {
			return nil, fmt.Errorf("pixel %d: invalid probability %v", i, p.Prob)
		}
		if math.IsNaN(p.RA) || math.IsInf(p.RA, 0) {
			return nil, fmt.Errorf("pixel %d: invalid right ascension %v", i, p.RA)
		}
		if !(p.Dec >= -90 && p.Dec <= 90) {
			return nil, fmt.Errorf("pixel %d: declination %v out of range", i, p.Dec)
		}
		total += p.Prob
	}
	if total == 0 {
		return nil, ErrEmpty
	}
	out := make([]Pixel, len(px))
	for i, p := range px {
		out[i] = Pixel{RA: normRA(p.RA), Dec: p.Dec, Prob: p.Prob / total}
	}
	return &SkyMap{Pixels: out}, nil
}

func normRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}
