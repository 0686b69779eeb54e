// Package lake builds per-year buffered lake water masks from MOD44W tiles.
//
// One Orchestrator run searches and downloads a tile per year, fuses them into
// a maximum-extent mask, derives the lake polygon from it and extracts one
// raster per year clipped to that polygon.
package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mohammed-shakir/lakeextract/internal/cmr"
	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/download"
	"github.com/mohammed-shakir/lakeextract/internal/engine"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
	"github.com/mohammed-shakir/lakeextract/internal/workspace"
)

// ErrNoResults means the search had no candidate at the selected index.
var ErrNoResults = errors.New("no results from CMR")

var lakeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Searcher finds granules; *cmr.Client satisfies it.
type Searcher interface {
	SearchGranules(ctx context.Context, q cmr.Query) ([]model.Granule, error)
}

// Publisher copies final products elsewhere and returns their object keys.
type Publisher interface {
	Publish(ctx context.Context, lakeID string, files []string) ([]string, error)
}

// Recorder keeps a ledger of produced yearly rasters.
type Recorder interface {
	Record(ctx context.Context, r Report) error
}

// Notifier announces a finished run.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Options are the per-run parameters.
type Options struct {
	LakeID string
	BBox   model.BBox
	Years  model.YearRange
	OutDir string
	// TileWidth and TileHeight override the 4800x4800 MOD44W tile shape.
	TileWidth  int
	TileHeight int
}

// Deps are the collaborators of a run. Publisher, Recorder and Notifier are optional.
type Deps struct {
	Search    Searcher
	Fetch     download.Fetcher
	Runner    engine.Runner
	Raster    RasterIO
	Selector  *TileSelector
	Publisher Publisher
	Recorder  Recorder
	Notifier  Notifier
	Log       *slog.Logger
	Now       func() time.Time
	// OnStage, when set, is told each top-level stage as it starts.
	OnStage func(stage string)
}

// Product is one yearly raster in the final directory.
type Product struct {
	Year int
	Tile string
	Path string
}

// Report summarizes a completed run.
type Report struct {
	LakeID    string
	Years     model.YearRange
	Tile      string
	Tag       string
	Fallback  bool
	Products  []Product
	Failed    []*ExtractionError
	Published []string
	Started   time.Time
	Finished  time.Time
}

type Orchestrator struct {
	opts      Options
	deps      Deps
	ws        *workspace.Workspace
	names     Names
	fuser     *Fuser
	polygons  *PolygonPipeline
	extractor *YearlyExtractor
	log       *slog.Logger
	started   time.Time
}

// New validates the run parameters and acquires the workspace under OutDir.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if !lakeIDPattern.MatchString(opts.LakeID) {
		return nil, fmt.Errorf("%w: lake id %q must be one word of letters, digits, '-' or '_'", model.ErrValidation, opts.LakeID)
	}
	if opts.BBox.IsZero() {
		return nil, fmt.Errorf("%w: bounding box is required", model.ErrValidation)
	}
	if opts.Years.Start == 0 || opts.Years.End < opts.Years.Start {
		return nil, fmt.Errorf("%w: year range %d-%d", model.ErrValidation, opts.Years.Start, opts.Years.End)
	}
	if deps.Search == nil || deps.Fetch == nil || deps.Runner == nil || deps.Raster == nil {
		return nil, errors.New("lake: search, fetch, runner and raster collaborators are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Selector == nil {
		deps.Selector = NewTileSelector(SelectPositional, deps.Log)
	}
	log := logger.OrDiscard(deps.Log)

	ws, err := workspace.Acquire(opts.OutDir)
	if err != nil {
		return nil, err
	}
	fuser := NewFuser(deps.Raster, log)
	if opts.TileWidth > 0 && opts.TileHeight > 0 {
		fuser = fuser.WithShape(opts.TileWidth, opts.TileHeight)
	}
	started := deps.Now()
	return &Orchestrator{
		opts:      opts,
		deps:      deps,
		ws:        ws,
		names:     Names{LakeID: opts.LakeID, Years: opts.Years, Tag: GenerationTag(started)},
		fuser:     fuser,
		polygons:  NewPolygonPipeline(deps.Runner, log),
		extractor: NewYearlyExtractor(deps.Runner, deps.Raster, log),
		log:       log,
		started:   started,
	}, nil
}

// Workspace exposes the run directories.
func (o *Orchestrator) Workspace() *workspace.Workspace { return o.ws }

// Names exposes the file naming of this run.
func (o *Orchestrator) Names() Names { return o.names }

// Run executes the whole extraction. Per-year extraction failures are
// collected in the report; any other failure aborts and leaves the
// workspace intact.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if o.ws.Released() {
		return Report{}, errors.New("lake: workspace already released")
	}
	ctx = logger.WithLake(ctx, o.opts.LakeID)
	rep := Report{LakeID: o.opts.LakeID, Years: o.opts.Years, Tag: o.names.Tag, Started: o.started}

	tiles, clipped, err := o.prepare(ctx, 0)
	if err != nil && engine.IsExtentOutsideTile(err) {
		o.log.WarnContext(ctx, "bounding box outside the first tile, retrying with the second search result", "err", err)
		rep.Fallback = true
		tiles, clipped, err = o.prepare(ctx, 1)
	}
	if err != nil {
		return rep, err
	}
	rep.Tile, _ = TileID(tiles[0])

	var polygon string
	err = o.timed(ctx, "polygon", func(ctx context.Context) error {
		var err error
		polygon, err = o.polygons.Build(ctx, clipped, o.ws.Polygons, o.names)
		return err
	})
	if err != nil {
		return rep, err
	}

	_ = o.timed(ctx, "extract", func(ctx context.Context) error {
		rep.Products, rep.Failed = o.extractAll(ctx, tiles, polygon)
		return nil
	})

	o.deliver(ctx, &rep)

	if err := o.ws.Release(); err != nil {
		return rep, fmt.Errorf("release workspace: %w", err)
	}
	rep.Finished = o.deps.Now()
	o.log.InfoContext(ctx, "lake extraction finished",
		"products", len(rep.Products), "failed_years", len(rep.Failed), "fallback", rep.Fallback)
	return rep, nil
}

// prepare searches, downloads, fuses and clips using the candidate at index.
func (o *Orchestrator) prepare(ctx context.Context, index int) ([]string, string, error) {
	var tiles []string
	if err := o.timed(ctx, "search_download", func(ctx context.Context) error {
		var err error
		tiles, err = o.tilesAt(ctx, index)
		return err
	}); err != nil {
		return nil, "", err
	}

	tile, err := TileID(tiles[0])
	if err != nil {
		return nil, "", err
	}

	var maxExt MaxExtent
	if err := o.timed(ctx, "fuse", func(ctx context.Context) error {
		var err error
		maxExt, err = o.fuser.Fuse(ctx, tiles, filepath.Join(o.ws.MaxExtent, o.names.MaxExtent(tile)))
		return err
	}); err != nil {
		return nil, "", err
	}

	clipped := filepath.Join(o.ws.MaxExtent, o.names.Clipped())
	if err := o.timed(ctx, "clip", func(ctx context.Context) error {
		return o.polygons.Clip(ctx, maxExt.Path, clipped, o.opts.BBox)
	}); err != nil {
		return nil, "", err
	}
	return tiles, clipped, nil
}

// tilesAt returns one local tile path per year, in year order.
func (o *Orchestrator) tilesAt(ctx context.Context, index int) ([]string, error) {
	bb := o.opts.BBox
	tiles := make([]string, 0, o.opts.Years.End-o.opts.Years.Start+1)
	for _, year := range o.opts.Years.Years() {
		gs, err := o.deps.Search.SearchGranules(ctx, cmr.Query{
			Mission: Mission,
			Window:  model.YearWindow(year),
			BBox:    &bb,
		})
		if err != nil {
			return nil, fmt.Errorf("search %d: %w", year, err)
		}
		candidates := o.deps.Selector.Order(bb, gs)
		if len(candidates) > 1 {
			o.log.WarnContext(ctx, "more than one result in CMR query", "year", year, "results", len(candidates))
		}
		if index >= len(candidates) {
			return nil, fmt.Errorf("%w: year %d has %d result(s), wanted index %d", ErrNoResults, year, len(candidates), index)
		}
		url := candidates[index].URL

		local := filepath.Join(o.ws.Tiles, download.LocalName(url))
		if _, err := os.Stat(local); err == nil {
			tiles = append(tiles, local)
			observability.ObserveDownload(observability.OutcomeCached)
			continue
		}
		path, err := download.Ensure(ctx, o.deps.Fetch, url, o.ws.Tiles)
		if err != nil {
			return nil, fmt.Errorf("download %d: %w", year, err)
		}
		tiles = append(tiles, path)
	}
	return tiles, nil
}

func (o *Orchestrator) extractAll(ctx context.Context, tiles []string, polygon string) ([]Product, []*ExtractionError) {
	var products []Product
	var failed []*ExtractionError
	for _, tile := range tiles {
		year, err := ProductYear(tile)
		if err == nil {
			clipOut := filepath.Join(o.ws.Buffered, o.names.YearClip(year))
			finalOut := filepath.Join(o.ws.Final, o.names.Final(year))
			_, err = o.extractor.ExtractYear(ctx, tile, polygon, o.opts.BBox, clipOut, finalOut)
			if err == nil {
				id, _ := TileID(tile)
				products = append(products, Product{Year: year, Tile: id, Path: finalOut})
			}
		}
		observability.ObserveYearExtracted(err)
		if err != nil {
			xe := &ExtractionError{Year: year, Tile: filepath.Base(tile), Err: err}
			attrs := []any{"tile", xe.Tile, "err", xe}
			if year != 0 {
				attrs = append(attrs, "year", year)
			}
			o.log.WarnContext(ctx, "yearly extraction failed, continuing", attrs...)
			failed = append(failed, xe)
		}
	}
	return products, failed
}

// deliver runs the optional publish, catalog and event hooks. Their failures
// are logged; the products are already in the final directory.
func (o *Orchestrator) deliver(ctx context.Context, rep *Report) {
	if o.deps.Publisher != nil && len(rep.Products) > 0 {
		files := make([]string, 0, len(rep.Products))
		for _, p := range rep.Products {
			files = append(files, p.Path)
		}
		keys, err := o.deps.Publisher.Publish(ctx, rep.LakeID, files)
		if err != nil {
			o.log.WarnContext(ctx, "publish failed", "err", err)
		}
		rep.Published = keys
	}
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.Record(ctx, *rep); err != nil {
			o.log.WarnContext(ctx, "catalog record failed", "err", err)
		}
	}
	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Notify(ctx, *rep); err != nil {
			o.log.WarnContext(ctx, "event publish failed", "err", err)
		}
	}
}

func (o *Orchestrator) timed(ctx context.Context, stage string, fn func(context.Context) error) error {
	if o.deps.OnStage != nil {
		o.deps.OnStage(stage)
	}
	start := time.Now()
	err := fn(logger.WithStage(ctx, stage))
	observability.ObserveStage(stage, time.Since(start).Seconds())
	return err
}
