// Package workspace owns the directory layout of one extraction run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	TilesDir     = "MOD44W"
	MaxExtentDir = "maxextent"
	PolygonsDir  = "polygons"
	BufferedDir  = "buffered-rasters"
	FinalDir     = "final-buffered-rasters"
)

// Workspace is a scoped handle on the five run directories. Release removes
// the intermediates and keeps Final; a run that never releases leaves
// everything in place for inspection.
type Workspace struct {
	Root      string
	Tiles     string
	MaxExtent string
	Polygons  string
	Buffered  string
	Final     string

	released bool
}

// Acquire creates (or reuses) the directories under root.
func Acquire(root string) (*Workspace, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	w := &Workspace{
		Root:      abs,
		Tiles:     filepath.Join(abs, TilesDir),
		MaxExtent: filepath.Join(abs, MaxExtentDir),
		Polygons:  filepath.Join(abs, PolygonsDir),
		Buffered:  filepath.Join(abs, BufferedDir),
		Final:     filepath.Join(abs, FinalDir),
	}
	for _, d := range w.all() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return w, nil
}

func (w *Workspace) intermediates() []string {
	return []string{w.Tiles, w.MaxExtent, w.Polygons, w.Buffered}
}

func (w *Workspace) all() []string {
	return append(w.intermediates(), w.Final)
}

// Released reports whether Release has completed.
func (w *Workspace) Released() bool { return w.released }

// Release deletes the intermediate directories. It is idempotent.
func (w *Workspace) Release() error {
	if w.released {
		return nil
	}
	var errs []error
	for _, d := range w.intermediates() {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", d, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	w.released = true
	return nil
}
