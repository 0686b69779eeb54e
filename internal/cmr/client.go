// Package cmr searches the Common Metadata Repository for data granules.
//
// A search pages through the granule endpoint until a page past the second
// one comes back empty, the page limit is reached, or the transport gives up.
// Results are deduplicated by file name and returned sorted by URL.
package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/mohammed-shakir/lakeextract/internal/cache/keys"
	"github.com/mohammed-shakir/lakeextract/internal/core/config"
	"github.com/mohammed-shakir/lakeextract/internal/core/httpclient"
	"github.com/mohammed-shakir/lakeextract/internal/core/model"
	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

const (
	DefaultPageSize = 150
	DefaultMaxPages = 50
)

// Doer sends one HTTP request. *httpclient.Retrier satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache stores encoded search results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// Query describes one granule search.
type Query struct {
	Mission  string
	Window   model.TemporalWindow
	BBox     *model.BBox
	DayNight string
}

// StatusError is a non-2xx, non-400 answer from the search service.
type StatusError struct {
	Page   int
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cmr page %d: status %d: %s", e.Page, e.Status, e.Body)
}

type Client struct {
	baseURL  string
	pageSize int
	maxPages int
	http     Doer
	cache    Cache
	log      *slog.Logger
}

func New(cfg config.SearchCfg, doer Doer, log *slog.Logger) *Client {
	c := &Client{
		baseURL:  cfg.URL,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		http:     doer,
		log:      logger.OrDiscard(log),
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultCMRURL
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	return c
}

// WithCache returns a copy of c that consults cache before paging.
func (c *Client) WithCache(cache Cache) *Client {
	cp := *c
	cp.cache = cache
	return &cp
}

// Search returns the sorted, distinct download URLs matching q.
func (c *Client) Search(ctx context.Context, q Query) ([]string, error) {
	gs, err := c.SearchGranules(ctx, q)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(gs))
	for _, g := range gs {
		urls = append(urls, g.URL)
	}
	return urls, nil
}

type pageOutcome int

const (
	pageHits pageOutcome = iota
	pageEmpty
	pageBadRequest
)

// SearchGranules returns the distinct granule records matching q, sorted by URL.
// A transport failure ends the search early and returns what was accumulated.
func (c *Client) SearchGranules(ctx context.Context, q Query) ([]model.Granule, error) {
	key := keys.SearchKey(q.Mission, q.Window.String(), bboxParam(q.BBox), q.DayNight)
	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, key); ok {
			var cached []cachedGranule
			if err := json.Unmarshal(raw, &cached); err == nil && len(cached) > 0 {
				c.log.DebugContext(ctx, "cmr search served from cache", "key", key, "granules", len(cached))
				return fromCached(cached), nil
			}
		}
	}

	start := time.Now()
	defer func() { observability.ObserveCMRSearch(time.Since(start).Seconds()) }()

	byName := make(map[string]model.Granule)
	complete := true

	for i := 0; i < c.maxPages; i++ {
		pageNum := i + 1
		items, outcome, err := c.fetchPage(ctx, q, pageNum)
		if err != nil {
			if httpclient.IsTransport(err) {
				observability.ObserveCMRPage(observability.OutcomeFailed)
				c.log.WarnContext(ctx, "cmr page failed, ending search", "page", pageNum, "err", err)
				complete = false
				break
			}
			observability.ObserveCMRPage(observability.OutcomeFailed)
			return nil, err
		}

		switch outcome {
		case pageBadRequest:
			observability.ObserveCMRPage(observability.OutcomeBadReq)
		case pageEmpty:
			observability.ObserveCMRPage(observability.OutcomeEmpty)
		default:
			observability.ObserveCMRPage(observability.OutcomeHits)
		}

		if outcome != pageHits {
			// An empty first or second page is not trusted as the end of results.
			if i > 1 {
				c.log.DebugContext(ctx, "no hits, ending search", "page", pageNum)
				break
			}
			continue
		}

		c.log.DebugContext(ctx, "results found", "page", pageNum, "items", len(items))
		for _, it := range items {
			g, ok := it.toGranule()
			if !ok {
				continue
			}
			if _, dup := byName[g.FileName]; dup {
				continue
			}
			byName[g.FileName] = g
		}
	}

	out := make([]model.Granule, 0, len(byName))
	for _, g := range byName {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })

	if c.cache != nil && complete && len(out) > 0 {
		if raw, err := json.Marshal(toCached(out)); err == nil {
			c.cache.Set(ctx, key, raw)
		}
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, q Query, pageNum int) ([]itemJSON, pageOutcome, error) {
	reqURL := c.pageURL(q, pageNum)
	c.log.DebugContext(ctx, "cmr request", "page", pageNum, "url", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, pageEmpty, fmt.Errorf("build cmr request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if !httpclient.IsTransport(err) {
			err = &httpclient.TransportError{URL: reqURL, Attempts: 1, Err: err}
		}
		return nil, pageEmpty, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.WarnContext(ctx, "cmr query: client or server error",
			"page", pageNum, "status", resp.StatusCode, "url", reqURL, "body", string(body))
		return nil, pageBadRequest, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, pageEmpty, &StatusError{Page: pageNum, Status: resp.StatusCode, Body: string(body)}
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, pageEmpty, fmt.Errorf("decode cmr page %d: %w", pageNum, err)
	}
	if len(page.Items) == 0 {
		return nil, pageEmpty, nil
	}
	return page.Items, pageHits, nil
}

func (c *Client) pageURL(q Query, pageNum int) string {
	v := url.Values{}
	v.Set("page_num", strconv.Itoa(pageNum))
	v.Set("page_size", strconv.Itoa(c.pageSize))
	v.Set("short_name", q.Mission)
	if bb := bboxParam(q.BBox); bb != "" {
		v.Set("bounding_box", bb)
	}
	if q.DayNight != "" {
		v.Set("day_night_flag", q.DayNight)
	}
	v.Set("temporal", q.Window.String())
	return c.baseURL + "?" + v.Encode()
}

func bboxParam(b *model.BBox) string {
	if b == nil || b.IsZero() {
		return ""
	}
	return b.String()
}
