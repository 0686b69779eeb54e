package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/lakeextract/internal/core/config"
	"github.com/mohammed-shakir/lakeextract/internal/lake"
)

func baseConfig() config.Config {
	return config.Config{
		Search:        config.SearchCfg{CacheSize: 8, CacheTTL: time.Minute},
		HTTP:          config.HTTPCfg{Timeout: time.Second, RetryMax: 1, RetryMaxElapse: time.Second},
		TileSelection: lake.SelectNearest,
	}
}

func TestBuild_RequiredOnly(t *testing.T) {
	a, err := Build(context.Background(), baseConfig(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() { _ = a.Close() }()

	d := a.Deps
	if d.Search == nil || d.Fetch == nil || d.Runner == nil || d.Raster == nil {
		t.Fatalf("required collaborators missing: %+v", d)
	}
	if d.Publisher != nil || d.Notifier != nil || d.Recorder != nil {
		t.Fatalf("optional hooks should be off")
	}
	if d.Selector.Strategy() != lake.SelectNearest {
		t.Fatalf("selector=%s", d.Selector.Strategy())
	}
}

func TestBuild_OptionalHooks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Search.RedisAddr = mr.Addr()
	cfg.Publish.Bucket = "mem://"
	cfg.CatalogPath = ":memory:"

	a, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Deps.Publisher == nil || a.Deps.Recorder == nil {
		t.Fatalf("publisher/recorder not wired")
	}
	if len(a.closers) != 3 {
		t.Fatalf("closers=%d want 3", len(a.closers))
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBuild_BadBucketClosesOpened(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Search.RedisAddr = mr.Addr()
	cfg.Publish.Bucket = "nope://x"

	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unknown bucket scheme")
	}
}
