package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/lakeextract/internal/cache/searchcache"
	"github.com/mohammed-shakir/lakeextract/internal/core/config"
	"github.com/mohammed-shakir/lakeextract/internal/core/httpclient"
	"github.com/mohammed-shakir/lakeextract/internal/core/model"
)

const dataHost = "https://e4ftl01.cr.usgs.gov/MOLT/MOD44W.006/2001.01.01/"

// page is one scripted answer; a zero status means 200.
type page struct {
	status int
	files  []string
}

type fakeCMR struct {
	mu    sync.Mutex
	pages map[int]page
	seen  []int
	query []map[string]string
}

func (f *fakeCMR) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("page_num"))
		if err != nil {
			t.Errorf("bad page_num: %v", err)
		}
		f.mu.Lock()
		f.seen = append(f.seen, n)
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		f.query = append(f.query, q)
		p := f.pages[n]
		f.mu.Unlock()

		if p.status != 0 && p.status != http.StatusOK {
			w.WriteHeader(p.status)
			_, _ = w.Write([]byte(`{"errors":["scripted"]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(itemsBody(p.files))
	})
}

func itemsBody(files []string) map[string]any {
	items := make([]any, 0, len(files))
	for _, f := range files {
		items = append(items, map[string]any{
			"umm": map[string]any{
				"RelatedUrls": []any{map[string]any{"URL": dataHost + f, "Type": "GET DATA"}},
				"TemporalExtent": map[string]any{"RangeDateTime": map[string]any{
					"BeginningDateTime": "2001-01-01T00:00:00.000Z",
					"EndingDateTime":    "2001-12-31T23:59:59.000Z",
				}},
				"DataGranule": map[string]any{"DayNightFlag": "Unspecified"},
				"SpatialExtent": map[string]any{"HorizontalSpatialDomain": map[string]any{
					"Geometry": map[string]any{"GPolygons": []any{map[string]any{
						"Boundary": map[string]any{"Points": []any{
							map[string]any{"Longitude": -117.4, "Latitude": 30},
							map[string]any{"Longitude": -103.9, "Latitude": 30},
							map[string]any{"Longitude": -92.3, "Latitude": 40},
							map[string]any{"Longitude": -130.5, "Latitude": 40},
							map[string]any{"Longitude": -117.4, "Latitude": 30},
						}},
					}}},
				}},
			},
		})
	}
	return map[string]any{"hits": len(files), "items": items}
}

func newClient(t *testing.T, f *fakeCMR, maxPages int) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg := config.SearchCfg{URL: srv.URL, PageSize: 150, MaxPages: maxPages}
	retrier := httpclient.NewRetrier(srv.Client(), config.HTTPCfg{RetryMax: 0}).WithInitialInterval(time.Millisecond)
	return New(cfg, retrier, nil)
}

func query2001(t *testing.T) Query {
	t.Helper()
	bb, err := model.NewBBox(-111.72, 36.765, -109.97, 38.079)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	return Query{Mission: "MOD44W", Window: model.YearWindow(2001), BBox: &bb}
}

func TestSearch_DeduplicatesAcrossPagesAndSorts(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {files: []string{"MOD44W.A2001001.h09v05.006.hdf", "MOD44W.A2001001.h08v05.006.hdf"}},
		2: {files: []string{"MOD44W.A2001001.h09v05.006.hdf", "MOD44W.A2001001.h10v05.006.hdf"}},
		3: {},
	}}
	urls, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{
		dataHost + "MOD44W.A2001001.h08v05.006.hdf",
		dataHost + "MOD44W.A2001001.h09v05.006.hdf",
		dataHost + "MOD44W.A2001001.h10v05.006.hdf",
	}
	if fmt.Sprint(urls) != fmt.Sprint(want) {
		t.Fatalf("urls=%v\nwant=%v", urls, want)
	}
}

func TestSearch_EmptyFirstPageDoesNotTerminate(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {},
		2: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}},
		3: {},
	}}
	urls, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("urls=%v want one url from page 2", urls)
	}
}

func TestSearch_EmptyThirdPageTerminatesImmediately(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {files: []string{"a.A2001001.h01v01.hdf"}},
		2: {files: []string{"b.A2001001.h01v01.hdf"}},
		3: {},
		4: {files: []string{"c.A2001001.h01v01.hdf"}},
	}}
	urls, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("urls=%v want 2", urls)
	}
	if fmt.Sprint(f.seen) != "[1 2 3]" {
		t.Fatalf("pages requested=%v want [1 2 3]", f.seen)
	}
}

func TestSearch_StopsAtMaxPages(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{}}
	for i := 1; i <= 10; i++ {
		f.pages[i] = page{files: []string{fmt.Sprintf("g%02d.A2001001.h01v01.hdf", i)}}
	}
	urls, err := newClient(t, f, 4).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(urls) != 4 || len(f.seen) != 4 {
		t.Fatalf("urls=%d pages=%v want 4/4", len(urls), f.seen)
	}
}

func TestSearch_BadRequestCountsAsEmpty(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {status: http.StatusBadRequest},
		2: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}},
		3: {status: http.StatusBadRequest},
	}}
	urls, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(urls) != 1 || len(f.seen) != 3 {
		t.Fatalf("urls=%v pages=%v", urls, f.seen)
	}
}

func TestSearch_OtherStatusIsHardFailure(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}},
		2: {status: http.StatusNotFound},
	}}
	_, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Page != 2 {
		t.Fatalf("want StatusError 404 on page 2, got %v", err)
	}
}

func TestSearch_TransportFailureShortCircuits(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}},
		2: {status: http.StatusServiceUnavailable},
		3: {files: []string{"MOD44W.A2001001.h10v05.006.hdf"}},
	}}
	urls, err := newClient(t, f, 50).Search(context.Background(), query2001(t))
	if err != nil {
		t.Fatalf("transport failure must not be an error: %v", err)
	}
	if len(urls) != 1 || fmt.Sprint(f.seen) != "[1 2]" {
		t.Fatalf("urls=%v pages=%v", urls, f.seen)
	}
}

func TestSearch_RequestParameters(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{1: {files: []string{"x.A2001001.h09v05.hdf"}}}}
	q := query2001(t)
	q.DayNight = "DAY"
	if _, err := newClient(t, f, 3).Search(context.Background(), q); err != nil {
		t.Fatalf("Search: %v", err)
	}
	got := f.query[0]
	want := map[string]string{
		"page_num":       "1",
		"page_size":      "150",
		"short_name":     "MOD44W",
		"bounding_box":   "-111.72,36.765,-109.97,38.079",
		"day_night_flag": "DAY",
		"temporal":       "2001-01-01T00:00:00Z,2001-12-31T23:59:59Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s=%q want %q", k, got[k], v)
		}
	}
}

func TestSearchGranules_ParsesRecord(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{1: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}}}}
	gs, err := newClient(t, f, 3).SearchGranules(context.Background(), query2001(t))
	if err != nil || len(gs) != 1 {
		t.Fatalf("granules=%v err=%v", gs, err)
	}
	g := gs[0]
	if g.FileName != "MOD44W.A2001001.h09v05.006.hdf" || g.DayNightFlag != "Unspecified" {
		t.Fatalf("unexpected granule: %+v", g)
	}
	if g.TimeStart.Year() != 2001 || g.TimeEnd.Month() != time.December {
		t.Fatalf("temporal range not parsed: %v - %v", g.TimeStart, g.TimeEnd)
	}
	if g.Footprint == nil || g.Footprint.LonMin() != -130.5 || g.Footprint.LatMax() != 40 {
		t.Fatalf("footprint=%v", g.Footprint)
	}
}

func TestSearch_CacheHitSkipsPaging(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{
		1: {files: []string{"MOD44W.A2001001.h09v05.006.hdf"}},
		3: {},
	}}
	c := newClient(t, f, 50).WithCache(searchcache.New(8, time.Hour, nil, nil))
	ctx := context.Background()

	first, err := c.Search(ctx, query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	requested := len(f.seen)
	second, err := c.Search(ctx, query2001(t))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(f.seen) != requested {
		t.Fatalf("cached search hit the service again: %v", f.seen)
	}
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Fatalf("cached result differs: %v vs %v", first, second)
	}
}

func TestSearch_EmptyResultNotCached(t *testing.T) {
	f := &fakeCMR{pages: map[int]page{}}
	cache := searchcache.New(8, time.Hour, nil, nil)
	c := newClient(t, f, 50).WithCache(cache)
	if _, err := c.Search(context.Background(), query2001(t)); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("empty result was cached")
	}
}
