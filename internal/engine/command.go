// Package engine drives the external GDAL/OGR command-line tools.
//
// Commands are typed descriptors (tool plus argument list) handed to a Runner;
// nothing is ever assembled into a shell string.
package engine

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/lakeextract/internal/core/model"
)

const (
	ToolTranslate  = "gdal_translate"
	ToolPolygonize = "gdal_polygonize.py"
	ToolOGR        = "ogr2ogr"
	ToolWarp       = "gdalwarp"
)

const (
	GeographicSRS = "EPSG:4326"
	// TargetSRS is the MODIS sinusoidal projection of the output grid.
	TargetSRS = "ESRI:53008"

	TargetResolutionX = 231.656345
	TargetResolutionY = -231.656345

	WarpNoData = "3.0"

	// ValueField is the attribute polygonize writes the pixel value into.
	ValueField = "DN"
)

// Command is one invocation of an external tool.
type Command struct {
	Tool string
	Args []string
}

// String renders the command for logs only.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Tool)
	for _, a := range c.Args {
		if strings.ContainsAny(a, " \t\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Clip cuts in to bb with exact-pixel and exact-crop outside-box semantics.
func Clip(in, out string, bb model.BBox) Command {
	return Command{Tool: ToolTranslate, Args: []string{
		"-projwin",
		num(bb.LonMin()), num(bb.LatMax()), num(bb.LonMax()), num(bb.LatMin()),
		"-projwin_srs", GeographicSRS,
		"-epo", "-eco",
		"-of", "GTiff",
		in, out,
	}}
}

// Polygonize vectorizes band 1 of in, tagging each polygon with its pixel value.
func Polygonize(in, out string) Command {
	return Command{Tool: ToolPolygonize, Args: []string{
		in, out,
		"-b", "1",
		"-f", "GeoJSON",
		LayerName(out), ValueField,
	}}
}

// Buffer grows every feature of in by dist map units.
func Buffer(in, out string, dist float64) Command {
	sql := "SELECT ST_Buffer(geometry, " + num(dist) + ") AS geometry FROM \"" + LayerName(in) + "\""
	return ogrSQL(in, out, sql)
}

// Union merges every feature of in into one (possibly multi-part) geometry.
func Union(in, out string) Command {
	sql := "SELECT ST_Union(geometry) AS geometry FROM \"" + LayerName(in) + "\""
	return ogrSQL(in, out, sql)
}

func ogrSQL(in, out, sql string) Command {
	return Command{Tool: ToolOGR, Args: []string{
		"-f", "GeoJSON",
		"-nln", LayerName(out),
		out, in,
		"-dialect", "SQLite",
		"-sql", sql,
	}}
}

// WarpCutline clips src to the cutline polygon with no-data 3.0.
func WarpCutline(src, cutline, out string) Command {
	return Command{Tool: ToolWarp, Args: []string{
		"-overwrite",
		"-of", "GTiff",
		"-cutline", cutline,
		"-crop_to_cutline",
		"-dstnodata", WarpNoData,
		src, out,
	}}
}

// WarpGrid reprojects in onto the fixed target grid covering bb.
func WarpGrid(in, out string, bb model.BBox) Command {
	return Command{Tool: ToolWarp, Args: []string{
		"-overwrite",
		"-of", "GTiff",
		"-te", num(bb.LonMin()), num(bb.LatMin()), num(bb.LonMax()), num(bb.LatMax()),
		"-te_srs", GeographicSRS,
		"-t_srs", TargetSRS,
		"-tr", num(TargetResolutionX), num(TargetResolutionY),
		"-dstnodata", WarpNoData,
		in, out,
	}}
}

// LayerName is the layer OGR exposes for a single-layer vector file.
func LayerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
