package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// Band is one raster band held in memory, row-major.
type Band struct {
	Width  int
	Height int
	Pixels []int16
}

// GeoRef is a raster's geotransform and projection WKT.
type GeoRef struct {
	Transform  [6]float64
	Projection string
}

// RasterIO is the library side of the raster engine.
type RasterIO interface {
	// FirstSubdataset names the first subdataset of a granule container.
	FirstSubdataset(path string) (string, error)
	// ReadBand reads band 1 of the dataset at name.
	ReadBand(name string) (Band, GeoRef, error)
	// WriteBand writes a single-band Int16 LZW GeoTIFF.
	WriteBand(path string, b Band, ref GeoRef, noData float64) error
}

var errShape = errors.New("tile shape mismatch")

// accumulator counts water observations per pixel over one fuse call.
type accumulator struct {
	width, height int
	counts        []int32
	tiles         int
}

func newAccumulator(width, height int) *accumulator {
	return &accumulator{width: width, height: height, counts: make([]int32, width*height)}
}

func (a *accumulator) add(b Band) error {
	if b.Width != a.width || b.Height != a.height || len(b.Pixels) != len(a.counts) {
		return fmt.Errorf("%w: got %dx%d want %dx%d", errShape, b.Width, b.Height, a.width, a.height)
	}
	for i, v := range b.Pixels {
		if v == WaterValue {
			a.counts[i]++
		}
	}
	a.tiles++
	return nil
}

// binarize returns 1 where any tile saw water and 0 elsewhere.
func (a *accumulator) binarize() (Band, int) {
	out := Band{Width: a.width, Height: a.height, Pixels: make([]int16, len(a.counts))}
	water := 0
	for i, c := range a.counts {
		if c > 0 {
			out.Pixels[i] = 1
			water++
		}
	}
	return out, water
}

// MaxExtent is the fused raster written by Fuser.
type MaxExtent struct {
	Path   string
	GeoRef GeoRef
	// WaterPixels counts pixels set to 1.
	WaterPixels int
}

// Fuser folds yearly water masks into one maximum-extent mask.
type Fuser struct {
	io            RasterIO
	width, height int
	log           *slog.Logger
}

func NewFuser(io RasterIO, log *slog.Logger) *Fuser {
	return &Fuser{io: io, width: TileWidth, height: TileHeight, log: logger.OrDiscard(log)}
}

// WithShape overrides the expected tile shape.
func (f *Fuser) WithShape(width, height int) *Fuser {
	cp := *f
	cp.width, cp.height = width, height
	return &cp
}

// Fuse reads the water mask of each tile and writes the binary max extent to out.
// The first tile's georeferencing is used for the output; later tiles are
// assumed to share its grid.
func (f *Fuser) Fuse(ctx context.Context, tiles []string, out string) (MaxExtent, error) {
	if len(tiles) == 0 {
		return MaxExtent{}, errors.New("fuse: no tiles")
	}
	acc := newAccumulator(f.width, f.height)
	var ref GeoRef

	for i, tile := range tiles {
		sub, err := f.io.FirstSubdataset(tile)
		if err != nil {
			return MaxExtent{}, fmt.Errorf("fuse %s: %w", tile, err)
		}
		band, r, err := f.io.ReadBand(sub)
		if err != nil {
			return MaxExtent{}, fmt.Errorf("fuse %s: %w", tile, err)
		}
		if i == 0 {
			ref = r
		}
		if err := acc.add(band); err != nil {
			return MaxExtent{}, fmt.Errorf("fuse %s: %w", tile, err)
		}
		f.log.DebugContext(ctx, "tile folded into max extent", "tile", tile)
	}

	mask, water := acc.binarize()
	if err := f.io.WriteBand(out, mask, ref, MaxExtentNoData); err != nil {
		return MaxExtent{}, fmt.Errorf("write max extent: %w", err)
	}
	f.log.InfoContext(ctx, "max extent written", "path", out, "tiles", acc.tiles, "water_pixels", water)
	return MaxExtent{Path: out, GeoRef: ref, WaterPixels: water}, nil
}
