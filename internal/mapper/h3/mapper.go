// Package h3mapper measures how granule footprints relate to a bounding box
// on the H3 grid.
package h3mapper

import (
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
)

// DefaultRes gives cells of roughly 250 km², fine enough for lake boxes.
const DefaultRes = 5

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

// CellsForBBox returns the sorted, unique cells whose centers fall inside bb.
// A box smaller than one cell yields the cell holding its center.
func (m *Mapper) CellsForBBox(bb model.BBox) ([]h3.Cell, error) {
	// Build a rectangular loop (lon,lat in EPSG:4326). v4 wants degrees.
	outer := h3.GeoLoop{
		{Lat: bb.LatMin(), Lng: bb.LonMin()},
		{Lat: bb.LatMin(), Lng: bb.LonMax()},
		{Lat: bb.LatMax(), Lng: bb.LonMax()},
		{Lat: bb.LatMax(), Lng: bb.LonMin()},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, m.res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(cells) == 0 {
		lon, lat := bb.Center()
		c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, m.res)
		if err != nil {
			return nil, fmt.Errorf("h3 center cell: %w", err)
		}
		return []h3.Cell{c}, nil
	}
	slices.Sort(cells)
	return slices.Compact(cells), nil
}

// Coverage is the share of bb's cells whose centers lie within footprint.
func (m *Mapper) Coverage(bb, footprint model.BBox) (float64, error) {
	cells, err := m.CellsForBBox(bb)
	if err != nil {
		return 0, err
	}
	inside := 0
	for _, c := range cells {
		ll, err := c.LatLng()
		if err != nil {
			return 0, fmt.Errorf("h3 cell center: %w", err)
		}
		if ll.Lng >= footprint.LonMin() && ll.Lng <= footprint.LonMax() &&
			ll.Lat >= footprint.LatMin() && ll.Lat <= footprint.LatMax() {
			inside++
		}
	}
	return float64(inside) / float64(len(cells)), nil
}

// DistanceKm is the great-circle distance between the centers of a and b.
func DistanceKm(a, b model.BBox) float64 {
	alon, alat := a.Center()
	blon, blat := b.Center()
	return h3.GreatCircleDistanceKm(h3.LatLng{Lat: alat, Lng: alon}, h3.LatLng{Lat: blat, Lng: blon})
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
