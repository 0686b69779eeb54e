package lake

import (
	"log/slog"
	"math"
	"sort"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	h3mapper "github.com/mohammed-shakir/lakeextract/internal/mapper/h3"
)

const (
	// SelectPositional keeps the search order (sorted by URL).
	SelectPositional = "positional"
	// SelectNearest ranks candidates by how much of the box their footprint
	// covers, then by centre distance.
	SelectNearest = "nearest"
)

// TileSelector orders search candidates before index selection.
type TileSelector struct {
	strategy string
	mapper   *h3mapper.Mapper
	log      *slog.Logger
}

func NewTileSelector(strategy string, log *slog.Logger) *TileSelector {
	s := &TileSelector{strategy: SelectPositional, log: log}
	if strategy == SelectNearest {
		m, err := h3mapper.New(h3mapper.DefaultRes)
		if err == nil {
			s.strategy, s.mapper = SelectNearest, m
		}
	}
	return s
}

func (s *TileSelector) Strategy() string { return s.strategy }

type rankedGranule struct {
	g        model.Granule
	coverage float64
	distance float64
}

// Order returns the candidates in selection order. The input is not modified.
func (s *TileSelector) Order(bb model.BBox, gs []model.Granule) []model.Granule {
	out := append([]model.Granule(nil), gs...)
	if s == nil || s.strategy != SelectNearest || len(out) < 2 {
		return out
	}

	ranked := make([]rankedGranule, len(out))
	for i, g := range out {
		r := rankedGranule{g: g, coverage: -1, distance: math.Inf(1)}
		if g.Footprint != nil {
			if c, err := s.mapper.Coverage(bb, *g.Footprint); err == nil {
				r.coverage = c
			} else if s.log != nil {
				s.log.Debug("coverage failed", "url", g.URL, "err", err)
			}
			r.distance = h3mapper.DistanceKm(bb, *g.Footprint)
		}
		ranked[i] = r
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.coverage != b.coverage {
			return a.coverage > b.coverage
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.g.URL < b.g.URL
	})
	for i, r := range ranked {
		out[i] = r.g
	}
	return out
}
