// Package model defines core domain types shared across the extractor.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrValidation marks malformed bounding boxes and year inputs.
var ErrValidation = errors.New("validation error")

const (
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinLatitude  = -90.0
	MaxLatitude  = 90.0

	// MOD44W annual products exist for these years only.
	FirstProductYear = 2001
	LastProductYear  = 2015
)

// BBox is a geographic (EPSG:4326) bounding box. Build it with NewBBox.
type BBox struct {
	lonMin, latMin float64
	lonMax, latMax float64
}

// NewBBox validates and returns a bounding box.
func NewBBox(lonMin, latMin, lonMax, latMax float64) (BBox, error) {
	for _, v := range [4]float64{lonMin, latMin, lonMax, latMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BBox{}, fmt.Errorf("%w: bbox value %v is not finite", ErrValidation, v)
		}
	}
	if lonMin < MinLongitude || lonMin > MaxLongitude {
		return BBox{}, fmt.Errorf("%w: lon min %v outside [-180,180]", ErrValidation, lonMin)
	}
	if lonMax < MinLongitude || lonMax > MaxLongitude {
		return BBox{}, fmt.Errorf("%w: lon max %v outside [-180,180]", ErrValidation, lonMax)
	}
	if latMin < MinLatitude || latMin > MaxLatitude {
		return BBox{}, fmt.Errorf("%w: lat min %v outside [-90,90]", ErrValidation, latMin)
	}
	if latMax < MinLatitude || latMax > MaxLatitude {
		return BBox{}, fmt.Errorf("%w: lat max %v outside [-90,90]", ErrValidation, latMax)
	}
	if lonMin >= lonMax {
		return BBox{}, fmt.Errorf("%w: lon min %v must be below lon max %v", ErrValidation, lonMin, lonMax)
	}
	if latMin >= latMax {
		return BBox{}, fmt.Errorf("%w: lat min %v must be below lat max %v", ErrValidation, latMin, latMax)
	}
	return BBox{lonMin: lonMin, latMin: latMin, lonMax: lonMax, latMax: latMax}, nil
}

func (b BBox) LonMin() float64 { return b.lonMin }
func (b BBox) LatMin() float64 { return b.latMin }
func (b BBox) LonMax() float64 { return b.lonMax }
func (b BBox) LatMax() float64 { return b.latMax }

// IsZero reports whether b was never constructed.
func (b BBox) IsZero() bool { return b == BBox{} }

// Center returns the midpoint as (lon, lat).
func (b BBox) Center() (float64, float64) {
	return (b.lonMin + b.lonMax) / 2, (b.latMin + b.latMax) / 2
}

// String renders the CMR bounding_box parameter format.
func (b BBox) String() string {
	return strings.Join([]string{
		formatCoord(b.lonMin), formatCoord(b.latMin),
		formatCoord(b.lonMax), formatCoord(b.latMax),
	}, ",")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TemporalWindow bounds one calendar year.
type TemporalWindow struct {
	Start time.Time
	End   time.Time
}

// YearWindow returns Jan 1 00:00:00 to Dec 31 23:59:59 UTC of year.
func YearWindow(year int) TemporalWindow {
	return TemporalWindow{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC),
	}
}

// String renders the CMR temporal parameter format.
func (w TemporalWindow) String() string {
	const layout = "2006-01-02T15:04:05Z"
	return w.Start.UTC().Format(layout) + "," + w.End.UTC().Format(layout)
}

// YearRange is an inclusive, clamped range of product years.
type YearRange struct {
	Start int
	End   int
	// Warnings lists the clamping adjustments that were applied.
	Warnings []string
}

// NewYearRange clamps start and end to the available product years.
// Clamping is never an error; an empty range after clamping is.
func NewYearRange(start, end int) (YearRange, error) {
	yr := YearRange{Start: start, End: end}
	if yr.End > LastProductYear {
		yr.Warnings = append(yr.Warnings, fmt.Sprintf(
			"%d is outside the temporal bound (%d - %d) of available MOD44W products; setting upper bound to %d",
			yr.End, FirstProductYear, LastProductYear, LastProductYear))
		yr.End = LastProductYear
	}
	if yr.Start < FirstProductYear {
		yr.Warnings = append(yr.Warnings, fmt.Sprintf(
			"%d is outside the temporal bound (%d - %d) of available MOD44W products; setting lower bound to %d",
			yr.Start, FirstProductYear, LastProductYear, FirstProductYear))
		yr.Start = FirstProductYear
	}
	if yr.Start > yr.End {
		return YearRange{}, fmt.Errorf("%w: start year %d is after end year %d", ErrValidation, yr.Start, yr.End)
	}
	return yr, nil
}

// Years returns every year in the range in ascending order.
func (r YearRange) Years() []int {
	out := make([]int, 0, r.End-r.Start+1)
	for y := r.Start; y <= r.End; y++ {
		out = append(out, y)
	}
	return out
}

// Granule is one metadata-search hit. FileName is the uniqueness key.
type Granule struct {
	FileName     string
	URL          string
	TimeStart    time.Time
	TimeEnd      time.Time
	DayNightFlag string
	// Footprint is the granule's horizontal extent in lon/lat, when known.
	Footprint *BBox
}
