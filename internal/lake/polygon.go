package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/engine"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// ErrNoWater means the clipped max extent holds no water polygon.
var ErrNoWater = errors.New("no water polygons in bounding box")

// AreaProperty holds the planar area written by SelectTarget.
const AreaProperty = "area"

// PolygonPipeline turns a clipped max-extent raster into the final buffered
// lake polygon. Every engine failure is fatal to the run.
type PolygonPipeline struct {
	run engine.Runner
	log *slog.Logger
}

func NewPolygonPipeline(run engine.Runner, log *slog.Logger) *PolygonPipeline {
	return &PolygonPipeline{run: run, log: logger.OrDiscard(log)}
}

// Clip cuts the max-extent raster to bb. A window outside the tile surfaces
// as engine.ErrExtentOutsideTile.
func (p *PolygonPipeline) Clip(ctx context.Context, in, out string, bb model.BBox) error {
	if err := p.run.Run(ctx, engine.Clip(in, out, bb)); err != nil {
		return fmt.Errorf("clip max extent: %w", err)
	}
	return nil
}

// Build runs polygonize through the second buffer and returns the final polygon path.
func (p *PolygonPipeline) Build(ctx context.Context, clipped, dir string, names Names) (string, error) {
	path := func(stage string) string { return filepath.Join(dir, names.Polygon(stage)) }

	if err := p.stage(ctx, StagePolygonized, func() error {
		return p.run.Run(ctx, engine.Polygonize(clipped, path(StagePolygonized)))
	}); err != nil {
		return "", fmt.Errorf("polygonize: %w", err)
	}

	if err := p.stage(ctx, StageCleaned, func() error {
		n, err := Clean(path(StagePolygonized), path(StageCleaned))
		if err == nil && n == 0 {
			err = ErrNoWater
		}
		return err
	}); err != nil {
		return "", fmt.Errorf("clean: %w", err)
	}

	if err := p.stage(ctx, StageInitialBuffered, func() error {
		return p.Buffer(ctx, path(StageCleaned), path(StageInitialBuffered), InitialBuffer)
	}); err != nil {
		return "", err
	}

	if err := p.stage(ctx, StageDissolved, func() error {
		_, err := p.Dissolve(ctx, path(StageInitialBuffered), path(StageClosed), path(StageUnion), path(StageDissolved))
		return err
	}); err != nil {
		return "", err
	}

	if err := p.stage(ctx, StageCentered, func() error {
		kept, err := SelectTarget(path(StageDissolved), path(StageCentered))
		if err == nil && kept > 1 {
			p.log.WarnContext(ctx, "several features share the maximum area", "features", kept)
		}
		return err
	}); err != nil {
		return "", fmt.Errorf("select target: %w", err)
	}

	if err := p.stage(ctx, StageBuffered, func() error {
		return p.Buffer(ctx, path(StageCentered), path(StageBuffered), FinalBuffer)
	}); err != nil {
		return "", err
	}
	return path(StageBuffered), nil
}

func (p *PolygonPipeline) stage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveStage(name, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	p.log.DebugContext(ctx, "polygon stage done", "stage", name)
	return nil
}

// Buffer grows every feature of in outward by dist map units.
func (p *PolygonPipeline) Buffer(ctx context.Context, in, out string, dist float64) error {
	if err := p.run.Run(ctx, engine.Buffer(in, out, dist)); err != nil {
		return fmt.Errorf("buffer %v: %w", dist, err)
	}
	return nil
}

// Dissolve unions the features of in into out, one feature per resulting part.
// A single feature passes through with its rings closed. closed and union are
// scratch paths for the engine round trip. It returns the number of parts.
func (p *PolygonPipeline) Dissolve(ctx context.Context, in, closed, union, out string) (int, error) {
	fc, err := readFeatures(in)
	if err != nil {
		return 0, fmt.Errorf("dissolve: %w", err)
	}
	feats := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		g := closeRings(f.Geometry)
		nf := geojson.NewFeature(g)
		nf.Properties = f.Properties.Clone()
		feats = append(feats, nf)
	}

	if len(feats) <= 1 {
		if err := writeFeatures(out, fc, feats); err != nil {
			return 0, fmt.Errorf("dissolve: %w", err)
		}
		return len(feats), nil
	}

	if err := writeFeatures(closed, fc, feats); err != nil {
		return 0, fmt.Errorf("dissolve: %w", err)
	}
	if err := p.run.Run(ctx, engine.Union(closed, union)); err != nil {
		return 0, fmt.Errorf("dissolve union: %w", err)
	}
	merged, err := readFeatures(union)
	if err != nil {
		return 0, fmt.Errorf("dissolve: %w", err)
	}
	parts := explode(merged.Features)
	if err := writeFeatures(out, merged, parts); err != nil {
		return 0, fmt.Errorf("dissolve: %w", err)
	}
	return len(parts), nil
}

// Clean keeps the polygons tagged with the water value. It returns how many remain.
func Clean(in, out string) (int, error) {
	fc, err := readFeatures(in)
	if err != nil {
		return 0, err
	}
	kept := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if v, ok := numberProperty(f.Properties, engine.ValueField); ok && v == WaterValue {
			kept = append(kept, f)
		}
	}
	if err := writeFeatures(out, fc, kept); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// SelectTarget writes the feature(s) of largest planar area to out, each
// tagged with its area. Ties keep every maximum. It returns how many were kept.
func SelectTarget(in, out string) (int, error) {
	fc, err := readFeatures(in)
	if err != nil {
		return 0, err
	}
	maxArea := math.Inf(-1)
	areas := make([]float64, len(fc.Features))
	for i, f := range fc.Features {
		a := 0.0
		if f.Geometry != nil {
			a = math.Abs(planar.Area(f.Geometry))
		}
		areas[i] = a
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties[AreaProperty] = a
		maxArea = max(maxArea, a)
	}

	kept := fc.Features
	if len(fc.Features) > 1 {
		kept = make([]*geojson.Feature, 0, 1)
		for i, f := range fc.Features {
			if areas[i] == maxArea {
				kept = append(kept, f)
			}
		}
	}
	if len(kept) == 0 {
		return 0, ErrNoWater
	}
	if err := writeFeatures(out, fc, kept); err != nil {
		return 0, err
	}
	return len(kept), nil
}

// closeRings drops repeated vertices and closes every ring of a polygonal geometry.
func closeRings(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Polygon:
		return closePolygon(v)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, poly := range v {
			out = append(out, closePolygon(poly))
		}
		return out
	default:
		return g
	}
}

func closePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, r := range p {
		ring := make(orb.Ring, 0, len(r)+1)
		for i, pt := range r {
			if i > 0 && pt == r[i-1] {
				continue
			}
			ring = append(ring, pt)
		}
		if len(ring) > 0 && !ring.Closed() {
			ring = append(ring, ring[0])
		}
		out = append(out, ring)
	}
	return out
}

// explode splits multi-part geometries into one feature per polygon.
func explode(feats []*geojson.Feature) []*geojson.Feature {
	var out []*geojson.Feature
	var add func(g orb.Geometry, props geojson.Properties)
	add = func(g orb.Geometry, props geojson.Properties) {
		switch v := g.(type) {
		case orb.Polygon:
			nf := geojson.NewFeature(v)
			nf.Properties = props.Clone()
			out = append(out, nf)
		case orb.MultiPolygon:
			for _, poly := range v {
				add(poly, props)
			}
		case orb.Collection:
			for _, sub := range v {
				add(sub, props)
			}
		}
	}
	for _, f := range feats {
		if f.Geometry != nil {
			add(f.Geometry, f.Properties)
		}
	}
	return out
}

func numberProperty(props geojson.Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func readFeatures(path string) (*geojson.FeatureCollection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parse features %s: %w", filepath.Base(path), err)
	}
	return fc, nil
}

// writeFeatures writes feats to path, carrying src's foreign members (crs)
// and naming the layer after the file.
func writeFeatures(path string, src *geojson.FeatureCollection, feats []*geojson.Feature) error {
	out := geojson.NewFeatureCollection()
	out.Features = feats
	if src != nil && len(src.ExtraMembers) > 0 {
		out.ExtraMembers = src.ExtraMembers.Clone()
	}
	if out.ExtraMembers == nil {
		out.ExtraMembers = geojson.Properties{}
	}
	out.ExtraMembers["name"] = engine.LayerName(path)

	b, err := out.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write features: %w", err)
	}
	return nil
}
