package lake

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
)

const (
	Mission = "MOD44W"

	TileWidth  = 4800
	TileHeight = 4800

	// InitialBuffer is one tile pixel in sinusoidal metres; FinalBuffer is six.
	InitialBuffer = 231.656
	FinalBuffer   = 1621.59

	MaxExtentNoData = 250
	ProductVersion  = "C6"

	// WaterValue marks water pixels and polygons.
	WaterValue = 1
)

// polygon stage names embedded in intermediate file names
const (
	StagePolygonized     = "Polygonized"
	StageCleaned         = "Cleaned"
	StageInitialBuffered = "InitialBuffered"
	StageClosed          = "Closed"
	StageUnion           = "Union"
	StageDissolved       = "Dissolved"
	StageCentered        = "CenteredPolygon"
	StageBuffered        = "Buffered"
)

// GenerationTag is YYYY + zero-padded day of year + HHMM of t.
func GenerationTag(t time.Time) string {
	return fmt.Sprintf("%04d%03d%s", t.Year(), t.YearDay(), t.Format("1504"))
}

// TileID returns the third dot-separated field of a granule file name (h09v05).
func TileID(path string) (string, error) {
	fields := strings.Split(filepath.Base(path), ".")
	if len(fields) < 3 || fields[2] == "" {
		return "", fmt.Errorf("no tile id in %q", filepath.Base(path))
	}
	return fields[2], nil
}

// ProductYear reads the year out of the acquisition field (A2001001 -> 2001).
func ProductYear(path string) (int, error) {
	fields := strings.Split(filepath.Base(path), ".")
	if len(fields) < 2 || len(fields[1]) < 5 {
		return 0, fmt.Errorf("no acquisition date in %q", filepath.Base(path))
	}
	y, err := strconv.Atoi(fields[1][1:5])
	if err != nil {
		return 0, fmt.Errorf("acquisition year in %q: %w", filepath.Base(path), err)
	}
	return y, nil
}

// Names renders every file name of one run.
type Names struct {
	LakeID string
	Years  model.YearRange
	Tag    string
}

func (n Names) MaxExtent(tile string) string {
	return fmt.Sprintf("%s.%s.MaxExtent.%d.%d.%s.tif", Mission, tile, n.Years.Start, n.Years.End, n.Tag)
}

func (n Names) Clipped() string {
	return fmt.Sprintf("Lake.%s.%s.MaxExtentClipped.%d.%d.%s.tif", n.LakeID, Mission, n.Years.Start, n.Years.End, n.Tag)
}

func (n Names) Polygon(stage string) string {
	return fmt.Sprintf("Lake.%s.%s.%s.geojson", n.LakeID, stage, n.Tag)
}

func (n Names) YearClip(year int) string {
	return fmt.Sprintf("Lake.%s.%d.%s.tif", n.LakeID, year, n.Tag)
}

func (n Names) Final(year int) string {
	return fmt.Sprintf("lake_%s_%s_%d_%s.tif", n.LakeID, Mission, year, ProductVersion)
}
