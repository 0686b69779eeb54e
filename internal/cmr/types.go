package cmr

import (
	"path"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
)

// pageResponse is the subset of a umm_json_v1_4 granule page that is consumed.
type pageResponse struct {
	Hits  int        `json:"hits"`
	Items []itemJSON `json:"items"`
}

type itemJSON struct {
	UMM ummJSON `json:"umm"`
}

type ummJSON struct {
	RelatedUrls []struct {
		URL  string `json:"URL"`
		Type string `json:"Type"`
	} `json:"RelatedUrls"`
	TemporalExtent struct {
		RangeDateTime struct {
			BeginningDateTime string `json:"BeginningDateTime"`
			EndingDateTime    string `json:"EndingDateTime"`
		} `json:"RangeDateTime"`
	} `json:"TemporalExtent"`
	DataGranule struct {
		DayNightFlag string `json:"DayNightFlag"`
	} `json:"DataGranule"`
	SpatialExtent struct {
		HorizontalSpatialDomain struct {
			Geometry struct {
				BoundingRectangles []struct {
					West  float64 `json:"WestBoundingCoordinate"`
					North float64 `json:"NorthBoundingCoordinate"`
					East  float64 `json:"EastBoundingCoordinate"`
					South float64 `json:"SouthBoundingCoordinate"`
				} `json:"BoundingRectangles"`
				GPolygons []struct {
					Boundary struct {
						Points []struct {
							Longitude float64 `json:"Longitude"`
							Latitude  float64 `json:"Latitude"`
						} `json:"Points"`
					} `json:"Boundary"`
				} `json:"GPolygons"`
			} `json:"Geometry"`
		} `json:"HorizontalSpatialDomain"`
	} `json:"SpatialExtent"`
}

// toGranule converts one item; ok is false when it carries no download URL.
func (it itemJSON) toGranule() (model.Granule, bool) {
	if len(it.UMM.RelatedUrls) == 0 {
		return model.Granule{}, false
	}
	u := strings.TrimSpace(it.UMM.RelatedUrls[0].URL)
	if u == "" {
		return model.Granule{}, false
	}
	g := model.Granule{
		FileName:     path.Base(u),
		URL:          u,
		DayNightFlag: it.UMM.DataGranule.DayNightFlag,
		Footprint:    it.UMM.footprint(),
	}
	rng := it.UMM.TemporalExtent.RangeDateTime
	if t, err := time.Parse(time.RFC3339, rng.BeginningDateTime); err == nil {
		g.TimeStart = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, rng.EndingDateTime); err == nil {
		g.TimeEnd = t.UTC()
	}
	return g, true
}

// footprint folds every rectangle and polygon of the horizontal domain into one bound.
func (u ummJSON) footprint() *model.BBox {
	geom := u.SpatialExtent.HorizontalSpatialDomain.Geometry
	var bound orb.Bound
	seen := false
	extend := func(b orb.Bound) {
		if !seen {
			bound, seen = b, true
			return
		}
		bound = bound.Union(b)
	}
	for _, r := range geom.BoundingRectangles {
		extend(orb.MultiPoint{{r.West, r.South}, {r.East, r.North}}.Bound())
	}
	for _, p := range geom.GPolygons {
		ring := make(orb.Ring, 0, len(p.Boundary.Points))
		for _, pt := range p.Boundary.Points {
			ring = append(ring, orb.Point{pt.Longitude, pt.Latitude})
		}
		if len(ring) > 0 {
			extend(ring.Bound())
		}
	}
	if !seen {
		return nil
	}
	bb, err := model.NewBBox(bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	if err != nil {
		return nil
	}
	return &bb
}

// cachedGranule is the cache wire form of model.Granule.
type cachedGranule struct {
	FileName     string      `json:"file_name"`
	URL          string      `json:"url"`
	TimeStart    time.Time   `json:"time_start"`
	TimeEnd      time.Time   `json:"time_end"`
	DayNightFlag string      `json:"day_night_flag,omitempty"`
	Footprint    *[4]float64 `json:"footprint,omitempty"`
}

func toCached(gs []model.Granule) []cachedGranule {
	out := make([]cachedGranule, 0, len(gs))
	for _, g := range gs {
		c := cachedGranule{
			FileName:     g.FileName,
			URL:          g.URL,
			TimeStart:    g.TimeStart,
			TimeEnd:      g.TimeEnd,
			DayNightFlag: g.DayNightFlag,
		}
		if g.Footprint != nil {
			c.Footprint = &[4]float64{g.Footprint.LonMin(), g.Footprint.LatMin(), g.Footprint.LonMax(), g.Footprint.LatMax()}
		}
		out = append(out, c)
	}
	return out
}

func fromCached(cs []cachedGranule) []model.Granule {
	out := make([]model.Granule, 0, len(cs))
	for _, c := range cs {
		g := model.Granule{
			FileName:     c.FileName,
			URL:          c.URL,
			TimeStart:    c.TimeStart,
			TimeEnd:      c.TimeEnd,
			DayNightFlag: c.DayNightFlag,
		}
		if c.Footprint != nil {
			if bb, err := model.NewBBox(c.Footprint[0], c.Footprint[1], c.Footprint[2], c.Footprint[3]); err == nil {
				g.Footprint = &bb
			}
		}
		out = append(out, g)
	}
	return out
}
