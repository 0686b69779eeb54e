// Package app wires configuration into the collaborators of an extraction run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/lakeextract/internal/cache/redisstore"
	"github.com/mohammed-shakir/lakeextract/internal/cache/searchcache"
	"github.com/mohammed-shakir/lakeextract/internal/catalog"
	"github.com/mohammed-shakir/lakeextract/internal/cmr"
	"github.com/mohammed-shakir/lakeextract/internal/core/config"
	"github.com/mohammed-shakir/lakeextract/internal/core/httpclient"
	"github.com/mohammed-shakir/lakeextract/internal/download"
	"github.com/mohammed-shakir/lakeextract/internal/engine"
	"github.com/mohammed-shakir/lakeextract/internal/engine/gdalio"
	"github.com/mohammed-shakir/lakeextract/internal/events"
	"github.com/mohammed-shakir/lakeextract/internal/lake"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
	"github.com/mohammed-shakir/lakeextract/internal/publish"
)

// App owns the long-lived clients behind lake.Deps.
type App struct {
	Deps lake.Deps

	closers []func() error
}

// Build opens every configured collaborator. Optional ones (redis, bucket,
// kafka, catalog) are skipped when their setting is empty. On error anything
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	log = logger.OrDiscard(log)
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	retrier := httpclient.NewRetrier(httpclient.NewOutbound(cfg.HTTP.Timeout), cfg.HTTP)

	var remote searchcache.Remote
	if cfg.Search.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.Search.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("search cache redis: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		remote = rc
	}
	cache := searchcache.New(cfg.Search.CacheSize, cfg.Search.CacheTTL, remote, log)
	search := cmr.New(cfg.Search, retrier, log).WithCache(cache)

	a.Deps = lake.Deps{
		Search:   search,
		Fetch:    download.New(retrier, cfg.EarthdataToken, log),
		Runner:   engine.NewExecRunner(cfg.GDALBinDir, log),
		Raster:   gdalio.New(),
		Selector: lake.NewTileSelector(cfg.TileSelection, log),
		Log:      log,
	}

	if cfg.Publish.Bucket != "" {
		p, err := publish.Open(ctx, cfg.Publish.Bucket, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		a.Deps.Publisher = p
	}
	if brokers := cfg.Events.BrokerList(); len(brokers) > 0 {
		p, err := events.NewPublisher(brokers, cfg.Events.Topic, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		a.Deps.Notifier = p
	}
	if cfg.CatalogPath != "" {
		s, err := catalog.Open(ctx, cfg.CatalogPath, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.Deps.Recorder = s
	}

	ok = true
	return a, nil
}

// Close releases the clients in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
