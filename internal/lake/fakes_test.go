package lake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/lakeextract/internal/cmr"
	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/download"
	"github.com/mohammed-shakir/lakeextract/internal/engine"
)

// rect is an axis-aligned polygon, closed.
func rect(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func writeFC(t *testing.T, path string, feats ...*geojson.Feature) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	fc.Features = feats
	b, err := fc.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFC(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	fc, err := readFeatures(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return fc
}

func dnFeature(g orb.Geometry, dn float64) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties["DN"] = dn
	return f
}

// fakeRunner imitates the GDAL/OGR tools closely enough for the pipeline:
// rasters become placeholder files, buffers grow bounding rectangles and
// unions merge overlapping rectangles.
type fakeRunner struct {
	mu       sync.Mutex
	cmds     []engine.Command
	polygons []*geojson.Feature
	fail     func(cmd engine.Command) error
}

func (r *fakeRunner) Run(_ context.Context, cmd engine.Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(cmd); err != nil {
			return err
		}
	}
	switch cmd.Tool {
	case engine.ToolTranslate, engine.ToolWarp:
		return os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte(cmd.Tool), 0o644)
	case engine.ToolPolygonize:
		feats := r.polygons
		if feats == nil {
			feats = []*geojson.Feature{
				dnFeature(rect(0, 0, 1000, 1000), 1),
				dnFeature(rect(1100, 0, 1300, 200), 1),
				dnFeature(rect(5000, 5000, 5100, 5100), 1),
				dnFeature(rect(-9000, -9000, 9000, 9000), 0),
			}
		}
		return writeFeatureFile(cmd.Args[1], feats)
	case engine.ToolOGR:
		return r.ogr(cmd)
	}
	return fmt.Errorf("fake runner: unknown tool %s", cmd.Tool)
}

func (r *fakeRunner) ogr(cmd engine.Command) error {
	out, in, sql := cmd.Args[4], cmd.Args[5], cmd.Args[len(cmd.Args)-1]
	fc, err := readFeatures(in)
	if err != nil {
		return err
	}
	var bounds []orb.Bound
	for _, f := range fc.Features {
		bounds = append(bounds, f.Geometry.Bound())
	}
	switch {
	case strings.Contains(sql, "ST_Buffer"):
		arg := sql[strings.Index(sql, ", ")+2 : strings.Index(sql, ")")]
		d, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return err
		}
		feats := make([]*geojson.Feature, 0, len(bounds))
		for _, b := range bounds {
			feats = append(feats, geojson.NewFeature(b.Pad(d).ToPolygon()))
		}
		return writeFeatureFile(out, feats)
	case strings.Contains(sql, "ST_Union"):
		merged := mergeBounds(bounds)
		var g orb.Geometry
		if len(merged) == 1 {
			g = merged[0].ToPolygon()
		} else {
			mp := orb.MultiPolygon{}
			for _, b := range merged {
				mp = append(mp, b.ToPolygon())
			}
			g = mp
		}
		return writeFeatureFile(out, []*geojson.Feature{geojson.NewFeature(g)})
	}
	return errors.New("fake runner: unsupported sql")
}

func (r *fakeRunner) count(tool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.cmds {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

// mergeBounds unions overlapping rectangles until none overlap.
func mergeBounds(bs []orb.Bound) []orb.Bound {
	out := append([]orb.Bound(nil), bs...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(out) && !changed; i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].Intersects(out[j]) {
					out[i] = out[i].Union(out[j])
					out = append(out[:j], out[j+1:]...)
					changed = true
					break
				}
			}
		}
	}
	return out
}

func writeFeatureFile(path string, feats []*geojson.Feature) error {
	return writeFeatures(path, nil, feats)
}

// fakeRaster serves 4x4 water masks keyed by tile base name.
type fakeRaster struct {
	mu      sync.Mutex
	bands   map[string]Band
	written map[string]Band
}

const fakeShape = 4

var fakeRef = GeoRef{Transform: [6]float64{-11119505.2, 231.656, 0, 4447802.1, 0, -231.656}, Projection: "SINUSOIDAL"}

func (f *fakeRaster) FirstSubdataset(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return `HDF4_EOS:EOS_GRID:"` + path + `":MOD44W_250m_GRID:water_mask`, nil
}

func (f *fakeRaster) ReadBand(name string) (Band, GeoRef, error) {
	parts := strings.Split(name, `"`)
	if len(parts) < 3 {
		return Band{}, GeoRef{}, fmt.Errorf("not a subdataset: %s", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bands[filepath.Base(parts[1])]; ok {
		return b, fakeRef, nil
	}
	return Band{Width: fakeShape, Height: fakeShape, Pixels: []int16{
		0, 1, 1, 0,
		0, 1, 1, 0,
		0, 0, 0, 0,
		4, 4, 0, 0,
	}}, fakeRef, nil
}

func (f *fakeRaster) WriteBand(path string, b Band, _ GeoRef, _ float64) error {
	f.mu.Lock()
	if f.written == nil {
		f.written = map[string]Band{}
	}
	f.written[filepath.Base(path)] = b
	f.mu.Unlock()
	return os.WriteFile(path, []byte("raster"), 0o644)
}

// fakeSearch returns the configured tiles for the queried year.
type fakeSearch struct {
	byYear map[int][]string
	calls  int
}

func (s *fakeSearch) SearchGranules(_ context.Context, q cmr.Query) ([]model.Granule, error) {
	s.calls++
	var out []model.Granule
	for _, name := range s.byYear[q.Window.Start.Year()] {
		out = append(out, model.Granule{FileName: name, URL: "https://data.example/MOD44W/" + name})
	}
	return out, nil
}

// fakeFetch writes a placeholder file for every url.
type fakeFetch struct {
	calls int
}

func (f *fakeFetch) Fetch(_ context.Context, rawURL, dir string) (int, error) {
	f.calls++
	if err := os.WriteFile(filepath.Join(dir, download.LocalName(rawURL)), []byte("hdf"), 0o644); err != nil {
		return download.StatusFailed, err
	}
	return download.StatusOK, nil
}

func tileName(year int, tile string) string {
	return fmt.Sprintf("MOD44W.A%d001.%s.006.2018033154015.hdf", year, tile)
}

func outsideExtent(cmd engine.Command) error {
	return engine.NewEngineError(cmd, 1, "ERROR 1: The -projwin option falls completely outside raster extent.", nil)
}
