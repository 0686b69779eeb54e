package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/mohammed-shakir/lakeextract/internal/app"
	"github.com/mohammed-shakir/lakeextract/internal/core/config"
	"github.com/mohammed-shakir/lakeextract/internal/core/health"
	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/core/server"
	"github.com/mohammed-shakir/lakeextract/internal/lake"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
	"github.com/mohammed-shakir/lakeextract/internal/metrics"
)

var Version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type CLI struct {
	Out   string    `short:"o" required:"" env:"LAKE_OUT_DIR" help:"Output directory for tiles, intermediates and final rasters."`
	Start int       `required:"" help:"First product year (clamped to 2001)."`
	End   int       `required:"" help:"Last product year (clamped to 2015)."`
	Lake  string    `name:"lakename" aliases:"lake" required:"" help:"Lake identifier used in file names (letters, digits, '-' or '_')."`
	BBox  []float64 `name:"bbox" sep:"," required:"" help:"lonmin,latmin,lonmax,latmax in EPSG:4326 (use --bbox=... when lonmin is negative)."`

	TileSelection string `name:"tile-selection" help:"Candidate ordering: positional or nearest. Defaults to TILE_SELECTION."`
	StatusAddr    string `name:"status-addr" help:"Serve /healthz, /readyz and /metrics on this address. Defaults to METRICS_ADDR."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseCLI(args []string, stdout, stderr io.Writer) (CLI, error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("lakeextract"),
		kong.Description("Build per-year buffered lake water masks from MOD44W tiles."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return CLI{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return CLI{}, err
	}
	return cli, nil
}

// options validates the parsed flags into run options. Year clamping
// warnings are returned, not treated as errors.
func (c CLI) options() (lake.Options, []string, error) {
	if len(c.BBox) != 4 {
		return lake.Options{}, nil, fmt.Errorf("%w: --bbox takes 4 values, got %d", model.ErrValidation, len(c.BBox))
	}
	bb, err := model.NewBBox(c.BBox[0], c.BBox[1], c.BBox[2], c.BBox[3])
	if err != nil {
		return lake.Options{}, nil, err
	}
	years, err := model.NewYearRange(c.Start, c.End)
	if err != nil {
		return lake.Options{}, nil, err
	}
	return lake.Options{LakeID: c.Lake, BBox: bb, Years: years, OutDir: c.Out}, years.Warnings, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cli, err := parseCLI(args, stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lakeextract: %v\n", err)
		return exitUsage
	}

	cfg := config.FromEnv()
	if cli.TileSelection != "" {
		cfg.TileSelection = strings.ToLower(cli.TileSelection)
	}
	if cli.StatusAddr != "" {
		cfg.MetricsAddr = cli.StatusAddr
	}

	runID := logger.NewID()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "lakeextract",
		RunID:     runID,
	}, stdout)
	log := logger.NewSlog(&zl)
	ctx = logger.WithRunID(ctx, runID)

	opts, warnings, err := cli.options()
	if err != nil {
		log.ErrorContext(ctx, "invalid arguments", "err", err)
		return exitUsage
	}
	for _, w := range warnings {
		log.WarnContext(ctx, w)
	}

	log.InfoContext(ctx, "starting lake extraction",
		"version", Version,
		"lake", opts.LakeID,
		"bbox", opts.BBox.String(),
		"start", opts.Years.Start,
		"end", opts.Years.End,
		"out", opts.OutDir,
		"tile_selection", cfg.TileSelection)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "setup failed", "err", err)
		return exitFailure
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WarnContext(ctx, "closing clients", "err", err)
		}
	}()

	tracker := &health.Tracker{}
	a.Deps.OnStage = tracker.SetStage
	stopStatus := startStatus(ctx, cfg.MetricsAddr, runID, opts.LakeID, log, tracker)
	defer stopStatus()

	code := extract(ctx, opts, a.Deps, log)
	if code == exitOK {
		tracker.Finish(nil)
	} else {
		tracker.Finish(errors.New("extraction failed"))
	}
	return code
}

func extract(ctx context.Context, opts lake.Options, deps lake.Deps, log *slog.Logger) int {
	o, err := lake.New(opts, deps)
	if err != nil {
		log.ErrorContext(ctx, "invalid run", "err", err)
		if errors.Is(err, model.ErrValidation) {
			return exitUsage
		}
		return exitFailure
	}

	rep, err := o.Run(ctx)
	if err != nil {
		log.ErrorContext(ctx, "lake extraction failed", "err", err, "workspace", o.Workspace().Root)
		return exitFailure
	}
	for _, f := range rep.Failed {
		log.WarnContext(ctx, "year not produced", "year", f.Year, "err", f.Err)
	}
	log.InfoContext(ctx, "products ready",
		"dir", o.Workspace().Final,
		"products", len(rep.Products),
		"tile", rep.Tile,
		"elapsed", rep.Finished.Sub(rep.Started).String())
	if len(rep.Products) == 0 {
		return exitFailure
	}
	return exitOK
}

// startStatus serves the status endpoints when addr is set and returns a
// function that stops the server.
func startStatus(ctx context.Context, addr, runID, lakeID string, log *slog.Logger, tracker *health.Tracker) func() {
	if addr == "" {
		return func() {}
	}
	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
		RunID: runID,
		Lake:  lakeID,
	})
	p.TrackProgress(tracker)
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(sctx, addr, log, server.Router(log, p.Handler(), tracker)); err != nil {
			log.WarnContext(ctx, "status server exited", "err", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
