package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/export"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/querycache"
	"github.com/usagedeck/usagedeck/internal/trend"
)

// backend is a scripted stand-in for the admin usage API.
type backend struct {
	mu            sync.Mutex
	analytics     int
	breakdown     map[string]int
	refresh       int
	lastUserIDs   string
	gate          chan struct{}
	slowAnalytics chan struct{}
}

func newBackend() *backend {
	return &backend{breakdown: make(map[string]int)}
}

func (b *backend) analyticsHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analytics
}

func (b *backend) breakdownHits(dim string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.breakdown[dim]
}

func (b *backend) refreshHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/admin/usage/analytics", func(w http.ResponseWriter, r *http.Request) {
		var p gateway.FilterPayload
		json.NewDecoder(r.Body).Decode(&p)
		b.mu.Lock()
		b.analytics++
		slow := b.slowAnalytics
		b.mu.Unlock()
		if slow != nil {
			<-slow
		}

		requests, cost := 150, "15"
		switch {
		case len(p.UserIDs) > 0:
			requests, cost = 42, "4.2"
		case p.StartDate == "2024-12-28":
			requests, cost = 100, "20"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"startDate":%q,"endDate":%q,"totals":{"requests":%d,"tokens":{"total":9000,"input":6000,"output":3000},"cost":%s},"series":[]}`,
			p.StartDate, p.EndDate, requests, cost)
	})

	breakdownHandler := func(dim string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			limit, _ := strconv.Atoi(q.Get("limit"))
			page, _ := strconv.Atoi(q.Get("page"))
			b.mu.Lock()
			b.breakdown[dim]++
			gate := b.gate
			b.mu.Unlock()
			if dim == "user" && limit == 100 && gate != nil {
				<-gate
			}

			rows := make([]string, limit)
			for i := range rows {
				rows[i] = fmt.Sprintf(`{"id":"r%d","name":"row %d","metrics":{"requests":1,"tokens":{"total":10,"input":6,"output":4},"cost":0.01}}`, i, i)
			}
			totalPages := (260 + limit - 1) / limit
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"data":[%s],"pagination":{"page":%d,"limit":%d,"total":260,"totalPages":%d,"hasNext":true,"hasPrevious":%v}}`,
				strings.Join(rows, ","), page, limit, totalPages, page > 1)
		}
	}
	mux.HandleFunc("/admin/usage/by-user", breakdownHandler("user"))
	mux.HandleFunc("/admin/usage/by-model", breakdownHandler("model"))
	mux.HandleFunc("/admin/usage/by-provider", breakdownHandler("provider"))

	mux.HandleFunc("/admin/usage/refresh-today", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refresh++
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"accepted"}`))
	})

	mux.HandleFunc("/admin/usage/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="usage-window.csv"`)
		w.Write([]byte("date,requests,cost\n2025-01-04,100,1.25\n"))
	})

	mux.HandleFunc("/admin/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"u1","name":"Ada","email":"ada@example.com"}]}`))
	})

	mux.HandleFunc("/admin/api-keys", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.lastUserIDs = r.URL.Query().Get("userIds")
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"k1","alias":"ci-bot","userId":"u1"}]}`))
	})

	mux.HandleFunc("/admin/usage/filter-options", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":["gpt-4o-mini"],"providers":["openai"]}`))
	})

	return mux
}

type harness struct {
	session   *Session
	backend   *backend
	exportDir string
}

func newTestSession(t *testing.T) *harness {
	t.Helper()
	b := newBackend()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	cacheCfg := config.CacheConfig{TTL: 5 * time.Minute, Store: "memory", MaxCostBytes: 1 << 20}
	store, err := querycache.NewStore(cacheCfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cache := querycache.New(store, cacheCfg, nil)
	t.Cleanup(func() { cache.Close() })

	client, err := gateway.New(gateway.Options{
		BaseURL: srv.URL,
		Tokens:  gateway.StaticToken("admin-test-token"),
		Retry:   gateway.NewPolicy(config.RetryConfig{MaxRetries: 0}),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	exportDir := t.TempDir()
	exportCfg := config.ExportConfig{Storage: "local", FilenamePrefix: "usage", Local: config.ExportLocalConfig{Directory: exportDir}}
	archive, err := export.NewArchive(context.Background(), exportCfg)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	cfg := config.Config{
		Analytics: config.AnalyticsConfig{
			MaxAnalyticsDays:      90,
			LargeRangeWarningDays: 30,
			DefaultPreset:         "7d",
			Timezone:              "UTC",
		},
		Pagination: config.PaginationConfig{
			PerPage:        50,
			PerPageOptions: []int{10, 25, 50, 100},
			SortBy:         "cost",
			SortOrder:      "desc",
		},
	}

	s, err := New(Options{
		Config:  cfg,
		Client:  client,
		Cache:   cache,
		Exports: export.NewCoordinator(client, archive, exportCfg, nil),
		Now:     func() time.Time { return time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return &harness{session: s, backend: b, exportDir: exportDir}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionSeedsConfiguredPreset(t *testing.T) {
	h := newTestSession(t)
	rng := h.session.CurrentRange()
	if rng.StartString() != "2025-01-04" || rng.EndString() != "2025-01-10" {
		t.Fatalf("want 7d seed 2025-01-04..2025-01-10, got %s", rng)
	}
}

func TestPresetChangeResetsPaginationAndGeneration(t *testing.T) {
	h := newTestSession(t)
	s := h.session

	if _, err := s.SetPage(gateway.DimensionUser, 3); err != nil {
		t.Fatalf("set page: %v", err)
	}
	gen := s.Generation()

	rng, warning, err := s.ApplyDateSelection(daterange.PresetMonth)
	if err != nil {
		t.Fatalf("apply preset: %v", err)
	}
	if warning != nil {
		t.Fatalf("presets never warn, got %+v", warning)
	}
	if rng.StartString() != "2024-12-12" || rng.EndString() != "2025-01-10" {
		t.Fatalf("want 30d window, got %s", rng)
	}

	state, err := s.Pagination(gateway.DimensionUser)
	if err != nil || state.Page != 1 {
		t.Fatalf("range change must rewind pagination, got %+v, %v", state, err)
	}
	if s.Generation() != gen+1 {
		t.Fatalf("want generation bumped, got %d -> %d", gen, s.Generation())
	}
}

func TestRejectedSelectionKeepsEverything(t *testing.T) {
	h := newTestSession(t)
	s := h.session

	if _, err := s.SetPage(gateway.DimensionModel, 2); err != nil {
		t.Fatalf("set page: %v", err)
	}
	before := s.CurrentRange()
	gen := s.Generation()

	_, _, err := s.ApplyDateSelection(daterange.Custom{Start: "2025-01-01", End: "2025-04-15"})
	if !errors.Is(err, daterange.ErrRangeTooLarge) {
		t.Fatalf("want ErrRangeTooLarge, got %v", err)
	}

	if !s.CurrentRange().Equal(before) {
		t.Fatalf("rejected selection must keep the range, got %s", s.CurrentRange())
	}
	state, _ := s.Pagination(gateway.DimensionModel)
	if state.Page != 2 {
		t.Fatalf("rejected selection must keep pagination, got page %d", state.Page)
	}
	if s.Generation() != gen {
		t.Fatalf("rejected selection must not bump generation")
	}
}

func TestPartialCustomPairIsNoOp(t *testing.T) {
	h := newTestSession(t)
	s := h.session
	before := s.CurrentRange()
	gen := s.Generation()

	rng, warning, err := s.ApplyDateSelection(daterange.Custom{Start: "2025-01-01"})
	if err != nil || warning != nil {
		t.Fatalf("partial pair must be quiet, got %v, %+v", err, warning)
	}
	if !rng.Equal(before) || s.Generation() != gen {
		t.Fatalf("partial pair must change nothing")
	}
}

func TestLargeCustomRangeWarns(t *testing.T) {
	h := newTestSession(t)

	_, warning, err := h.session.ApplyDateSelection(daterange.Custom{Start: "2024-11-01", End: "2024-12-15"})
	if err != nil {
		t.Fatalf("45 day range is legal, got %v", err)
	}
	if warning == nil || warning.Days != 45 {
		t.Fatalf("want 45 day warning, got %+v", warning)
	}
}

func TestUserDeselectionCascade(t *testing.T) {
	h := newTestSession(t)
	s := h.session

	s.SetUsers([]string{"u1"})
	s.SetAPIKeys([]string{"k1"})

	set, implied := s.SetUsers(nil)
	if len(set.APIKeyIDs) != 0 {
		t.Fatalf("clearing users must clear api keys, got %v", set.APIKeyIDs)
	}
	found := false
	for _, ch := range implied {
		if ch.Kind == filters.KindCleared && ch.Field == filters.FieldAPIKeys {
			found = true
			if ch.Message != "API key filter disabled" {
				t.Fatalf("want disable notice, got %q", ch.Message)
			}
		}
	}
	if !found {
		t.Fatalf("want implied api key clear, got %+v", implied)
	}
}

func TestOverviewCachedPerFilterSet(t *testing.T) {
	h := newTestSession(t)
	s := h.session
	ctx := context.Background()

	view, err := s.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if view.Analytics.Totals.Requests != 150 {
		t.Fatalf("want unfiltered totals, got %d", view.Analytics.Totals.Requests)
	}
	if _, err := s.Overview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if h.backend.analyticsHits() != 1 {
		t.Fatalf("identical query must be cached, got %d hits", h.backend.analyticsHits())
	}

	s.SetUsers([]string{"u1"})
	view, err = s.Overview(ctx)
	if err != nil {
		t.Fatalf("filtered overview: %v", err)
	}
	if view.Analytics.Totals.Requests != 42 {
		t.Fatalf("want filtered totals, got %d", view.Analytics.Totals.Requests)
	}
	if h.backend.analyticsHits() != 2 {
		t.Fatalf("new filter set must refetch, got %d hits", h.backend.analyticsHits())
	}

	// Returning to the old filters hits the old cache entry.
	s.SetUsers(nil)
	if _, err := s.Overview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if h.backend.analyticsHits() != 2 {
		t.Fatalf("old filter set must still be cached, got %d hits", h.backend.analyticsHits())
	}
}

func TestPerPageChangeKeepsPreviousPageVisible(t *testing.T) {
	h := newTestSession(t)
	s := h.session
	ctx := context.Background()

	view, err := s.Breakdown(ctx, gateway.DimensionUser)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(view.Page.Data) != 50 {
		t.Fatalf("want 50 rows, got %d", len(view.Page.Data))
	}

	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.gate = gate
	h.backend.mu.Unlock()

	if _, err := s.SetPerPage(gateway.DimensionUser, 100); err != nil {
		t.Fatalf("set per page: %v", err)
	}

	view, err = s.BreakdownKeepPrevious(ctx, gateway.DimensionUser)
	if err != nil {
		t.Fatalf("keep previous: %v", err)
	}
	if len(view.Page.Data) != 50 {
		t.Fatalf("want previous 50 row page while loading, got %d rows", len(view.Page.Data))
	}
	if !view.Previous || !view.Fetching {
		t.Fatalf("want Previous and Fetching flagged, got %+v", view)
	}

	close(gate)
	waitFor(t, func() bool {
		v, err := s.BreakdownKeepPrevious(ctx, gateway.DimensionUser)
		return err == nil && !v.Previous && len(v.Page.Data) == 100
	}, "new page size to land")

	if got := h.backend.breakdownHits("user"); got != 2 {
		t.Fatalf("want exactly 2 upstream fetches, got %d", got)
	}
}

func TestSupersededFetchNeverBecomesLastGood(t *testing.T) {
	h := newTestSession(t)
	s := h.session

	slow := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.slowAnalytics = slow
	h.backend.mu.Unlock()

	done := make(chan *AnalyticsView, 1)
	go func() {
		view, err := s.Overview(context.Background())
		if err != nil {
			done <- nil
			return
		}
		done <- view
	}()

	waitFor(t, func() bool { return h.backend.analyticsHits() == 1 }, "overview fetch to start")

	h.backend.mu.Lock()
	h.backend.slowAnalytics = nil
	h.backend.mu.Unlock()
	s.SetUsers([]string{"u9"})
	close(slow)

	view := <-done
	if view == nil || view.Analytics.Totals.Requests != 150 {
		t.Fatalf("caller still gets its answer, got %+v", view)
	}

	s.mu.Lock()
	snap := s.lastAnalytics
	s.mu.Unlock()
	if snap != nil {
		t.Fatalf("superseded fetch must not become the last-good snapshot")
	}
}

func TestTrendsCompareAdjacentWindows(t *testing.T) {
	h := newTestSession(t)

	view, err := h.session.Trends(context.Background())
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if view.PreviousRange.StartString() != "2024-12-28" || view.PreviousRange.EndString() != "2025-01-03" {
		t.Fatalf("want preceding equal-length window, got %s", view.PreviousRange)
	}
	if view.Summary.Requests.Change != 50 || view.Summary.Requests.Direction != trend.DirectionUp {
		t.Fatalf("requests: want +50%% up, got %+v", view.Summary.Requests)
	}
	if view.Summary.Cost.Direction != trend.DirectionDown {
		t.Fatalf("cost: want down, got %+v", view.Summary.Cost)
	}
}

func TestAPIKeysRequireSelectedUsers(t *testing.T) {
	h := newTestSession(t)
	s := h.session
	ctx := context.Background()

	keys, err := s.APIKeys(ctx)
	if err != nil || keys != nil {
		t.Fatalf("want empty result without users, got %v, %v", keys, err)
	}

	s.SetUsers([]string{"u2", "u1"})
	keys, err = s.APIKeys(ctx)
	if err != nil || len(keys) != 1 {
		t.Fatalf("api keys: got %v, %v", keys, err)
	}
	h.backend.mu.Lock()
	got := h.backend.lastUserIDs
	h.backend.mu.Unlock()
	if got != "u1,u2" {
		t.Fatalf("want normalized owner list forwarded, got %q", got)
	}
}

func TestRefreshTodayFlushesCache(t *testing.T) {
	h := newTestSession(t)
	s := h.session
	ctx := context.Background()

	if _, err := s.Overview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if _, err := s.Overview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if h.backend.analyticsHits() != 1 {
		t.Fatalf("want cached, got %d hits", h.backend.analyticsHits())
	}

	if err := s.RefreshToday(ctx); err != nil {
		t.Fatalf("refresh today: %v", err)
	}
	if h.backend.refreshHits() != 1 {
		t.Fatalf("want refresh endpoint called once, got %d", h.backend.refreshHits())
	}

	if _, err := s.Overview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if h.backend.analyticsHits() != 2 {
		t.Fatalf("refresh must drop cached queries, got %d hits", h.backend.analyticsHits())
	}
}

func TestExportWritesArchive(t *testing.T) {
	h := newTestSession(t)

	receipt, err := h.session.Export(context.Background(), gateway.FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if receipt.Filename != "usage-window.csv" {
		t.Fatalf("want backend filename, got %q", receipt.Filename)
	}
	data, err := os.ReadFile(filepath.Join(h.exportDir, receipt.Filename))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.HasPrefix(string(data), "date,requests,cost") {
		t.Fatalf("unexpected artifact contents %q", data)
	}
}
