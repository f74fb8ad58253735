package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sentinel/internal/grid"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/skymap"
	"github.com/linnemanlabs/sentinel/internal/strategy"
)

// BuildError reports that targets could not be built for a notice, either
// because its sky map was unavailable or because of a geometry failure.
type BuildError struct {
	NoticeID string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build targets for %s: %v", e.NoticeID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// SkyMaps retrieves the sky map referenced by a notice.
type SkyMaps interface {
	Resolve(ctx context.Context, n *notice.Notice) (*skymap.SkyMap, error)
}

// Tiler sums regraded sky map cells into observable tiles.
type Tiler interface {
	Apply(cells []skymap.Cell) []grid.TileProb
}

// Builder converts notices and strategies into targets.
type Builder struct {
	maps  SkyMaps
	tiler Tiler
	level int
	now   func() time.Time
}

// NewBuilder returns a builder that regrades sky maps to the given S2 level
// before tiling.
func NewBuilder(maps SkyMaps, tiler Tiler, level int) *Builder {
	return &Builder{maps: maps, tiler: tiler, level: level, now: time.Now}
}

// Build returns the targets for n under s. Sky map notices that leave no
// tile above the strategy's thresholds yield an empty list and no error.
func (b *Builder) Build(ctx context.Context, eventKey string, n *notice.Notice, s *strategy.Strategy) ([]*Target, error) {
	switch n.Localization.Kind() {
	case notice.LocPoint:
		pos := n.Localization.Position
		t := b.base(eventKey, n, s)
		t.Name = eventKey
		t.RA, t.Dec = pos.RA, pos.Dec
		t.ErrorRadius = pos.Error
		return []*Target{t}, nil

	case notice.LocSkyMap:
		if b.maps == nil || b.tiler == nil {
			return nil, &BuildError{NoticeID: n.ID, Err: errors.New("sky map support is not configured")}
		}
		m, err := b.maps.Resolve(ctx, n)
		if err != nil {
			return nil, &BuildError{NoticeID: n.ID, Err: err}
		}
		tiles := Select(b.tiler.Apply(m.Regrade(b.level)), s.SkymapContour, s.MinTileProb, s.MaxTiles)
		out := make([]*Target, 0, len(tiles))
		for _, tp := range tiles {
			t := b.base(eventKey, n, s)
			t.Name = eventKey + "_" + tp.Name
			t.RA, t.Dec = tp.RA, tp.Dec
			t.Tile = tp.Name
			t.TileProb = tp.Prob
			out = append(out, t)
		}
		return out, nil
	}
	return nil, &BuildError{NoticeID: n.ID, Err: errors.New("notice has no localization")}
}

func (b *Builder) base(eventKey string, n *notice.Notice, s *strategy.Strategy) *Target {
	start, stop := s.Window(n.EventTime)
	now := b.now().UTC()
	next := start
	if next.Before(now) {
		next = now
	}
	return &Target{
		ID:           ulid.Make().String(),
		EventKey:     eventKey,
		NoticeID:     n.ID,
		Strategy:     s.Name,
		Rank:         s.Rank,
		Start:        start,
		Stop:         stop,
		Cadence:      s.Cadence,
		ExposureSets: append([]strategy.ExposureSet(nil), s.ExposureSets...),
		Constraints:  s.Constraints,
		NextEligible: next,
		Status:       StatusPending,
		Created:      now,
	}
}

// Select keeps tiles in the given descending order while the probability
// accumulated before each tile has not exceeded contour, the tile's own probability
// is at least minProb, and fewer than maxTiles have been kept. maxTiles 0
// means no cap.
func Select(tiles []grid.TileProb, contour, minProb float64, maxTiles int) []grid.TileProb {
	var (
		out []grid.TileProb
		cum float64
	)
	for _, t := range tiles {
		if cum > contour || t.Prob < minProb {
			break
		}
		if maxTiles > 0 && len(out) >= maxTiles {
			break
		}
		out = append(out, t)
		cum += t.Prob
	}
	return out
}
