package lake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/engine"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// ExtractionError is a failed per-year extraction. It never aborts sibling years.
type ExtractionError struct {
	Year int
	Tile string
	Err  error
}

// Year is zero when the tile name carries no product year.
func (e *ExtractionError) Error() string {
	if e.Year == 0 {
		return fmt.Sprintf("extract %s: %v", e.Tile, e.Err)
	}
	return fmt.Sprintf("extract year %d (%s): %v", e.Year, e.Tile, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// YearlyExtractor clips one year's tile to the lake polygon and warps it onto
// the target grid.
type YearlyExtractor struct {
	run engine.Runner
	io  RasterIO
	log *slog.Logger
}

func NewYearlyExtractor(run engine.Runner, io RasterIO, log *slog.Logger) *YearlyExtractor {
	return &YearlyExtractor{run: run, io: io, log: logger.OrDiscard(log)}
}

// ExtractYear writes clipOut (cutline result) then finalOut (target grid) and
// returns finalOut.
func (x *YearlyExtractor) ExtractYear(ctx context.Context, tile, polygon string, bb model.BBox, clipOut, finalOut string) (string, error) {
	sub, err := x.io.FirstSubdataset(tile)
	if err != nil {
		return "", fmt.Errorf("open subdataset: %w", err)
	}
	if err := x.run.Run(ctx, engine.WarpCutline(sub, polygon, clipOut)); err != nil {
		return "", fmt.Errorf("clip to lake polygon: %w", err)
	}
	if err := x.run.Run(ctx, engine.WarpGrid(clipOut, finalOut, bb)); err != nil {
		return "", fmt.Errorf("warp to target grid: %w", err)
	}
	x.log.InfoContext(ctx, "generated yearly product", "path", finalOut)
	return finalOut, nil
}
