// Package gdalio reads and writes raster bands through the GDAL library.
package gdalio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/mohammed-shakir/lakeextract/internal/lake"
)

var registerOnce sync.Once

// IO implements lake.RasterIO on top of godal.
type IO struct{}

func New() *IO {
	registerOnce.Do(godal.RegisterAll)
	return &IO{}
}

var _ lake.RasterIO = (*IO)(nil)

// FirstSubdataset returns SUBDATASET_1_NAME of a container such as an HDF4
// granule, or path itself when the file has no subdatasets.
func (*IO) FirstSubdataset(path string) (string, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = ds.Close() }()

	if name := ds.Metadata("SUBDATASET_1_NAME", godal.Domain("SUBDATASETS")); strings.TrimSpace(name) != "" {
		return name, nil
	}
	return path, nil
}

func (*IO) ReadBand(name string) (lake.Band, lake.GeoRef, error) {
	ds, err := godal.Open(name)
	if err != nil {
		return lake.Band{}, lake.GeoRef{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = ds.Close() }()

	bands := ds.Bands()
	if len(bands) == 0 {
		return lake.Band{}, lake.GeoRef{}, fmt.Errorf("%s has no bands", name)
	}
	st := ds.Structure()
	b := lake.Band{Width: st.SizeX, Height: st.SizeY, Pixels: make([]int16, st.SizeX*st.SizeY)}
	if err := bands[0].Read(0, 0, b.Pixels, st.SizeX, st.SizeY); err != nil {
		return lake.Band{}, lake.GeoRef{}, fmt.Errorf("read band 1 of %s: %w", name, err)
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return lake.Band{}, lake.GeoRef{}, fmt.Errorf("geotransform of %s: %w", name, err)
	}
	return b, lake.GeoRef{Transform: gt, Projection: ds.Projection()}, nil
}

func (*IO) WriteBand(path string, b lake.Band, ref lake.GeoRef, noData float64) (err error) {
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Int16, b.Width, b.Height,
		godal.CreationOption("COMPRESS=LZW"))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := ds.SetGeoTransform(ref.Transform); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	if ref.Projection != "" {
		if err := ds.SetProjection(ref.Projection); err != nil {
			return fmt.Errorf("set projection: %w", err)
		}
	}
	band := ds.Bands()[0]
	if err := band.Write(0, 0, b.Pixels, b.Width, b.Height); err != nil {
		return fmt.Errorf("write band: %w", err)
	}
	if err := band.SetNoData(noData); err != nil {
		return fmt.Errorf("set nodata: %w", err)
	}
	return nil
}
