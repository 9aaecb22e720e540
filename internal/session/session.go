// Package session composes the dashboard's client-side state into one
// coordination surface: the active date range, the filter set, one
// pagination controller per breakdown table, and the query cache in front
// of the gateway. Views read through the session; the session decides what
// is fetched, what is reused, and what a change invalidates.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/export"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/pagination"
	"github.com/usagedeck/usagedeck/internal/querycache"
	"github.com/usagedeck/usagedeck/internal/trend"
)

// AnalyticsView is the overview aggregate plus its serving state.
type AnalyticsView struct {
	Analytics *gateway.Analytics `json:"analytics"`
	FetchedAt time.Time          `json:"fetchedAt"`
	// Stale marks data older than the freshness TTL, kept on screen while
	// a refetch runs. Previous marks data belonging to an earlier query,
	// kept on screen while the current query loads for the first time.
	Stale    bool `json:"stale"`
	Fetching bool `json:"fetching"`
	Previous bool `json:"previous"`
}

// BreakdownView is one breakdown page plus its serving state.
type BreakdownView struct {
	Dimension gateway.Dimension       `json:"dimension"`
	Page      *gateway.PagedBreakdown `json:"page"`
	FetchedAt time.Time               `json:"fetchedAt"`
	Stale     bool                    `json:"stale"`
	Fetching  bool                    `json:"fetching"`
	Previous  bool                    `json:"previous"`
}

// TrendView compares the current window against the one before it.
type TrendView struct {
	Summary       trend.Summary       `json:"summary"`
	CurrentRange  daterange.DateRange `json:"currentRange"`
	PreviousRange daterange.DateRange `json:"previousRange"`
}

type analyticsSnapshot struct {
	data      *gateway.Analytics
	fetchedAt time.Time
}

type breakdownSnapshot struct {
	page      *gateway.PagedBreakdown
	fetchedAt time.Time
}

// Options wires a Session's collaborators.
type Options struct {
	Config  config.Config
	Client  *gateway.Client
	Cache   *querycache.Cache
	Exports *export.Coordinator
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Session owns the mutable dashboard state. All methods are safe for
// concurrent use.
type Session struct {
	cfg     config.Config
	client  *gateway.Client
	cache   *querycache.Cache
	exports *export.Coordinator

	resolver *daterange.Resolver
	coord    *filters.Coordinator
	pagers   map[gateway.Dimension]*pagination.Controller

	// generation increments on every effective filter or range change.
	// Fetches remember the generation they started under; a completion
	// from an older generation never becomes the last-good snapshot.
	generation atomic.Uint64

	mu            sync.Mutex
	lastAnalytics *analyticsSnapshot
	lastBreakdown map[gateway.Dimension]*breakdownSnapshot
}

// New builds a session seeded with the configured default preset.
func New(opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session: gateway client required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("session: query cache required")
	}

	resolverOpts := []daterange.Option{}
	if opts.Now != nil {
		resolverOpts = append(resolverOpts, daterange.WithNow(opts.Now))
	}
	resolver, err := daterange.NewResolver(opts.Config.Analytics, resolverOpts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      opts.Config,
		client:   opts.Client,
		cache:    opts.Cache,
		exports:  opts.Exports,
		resolver: resolver,
		coord:    filters.NewCoordinator(resolver.Current()),
		pagers: map[gateway.Dimension]*pagination.Controller{
			gateway.DimensionUser:     pagination.NewController(opts.Config.Pagination),
			gateway.DimensionModel:    pagination.NewController(opts.Config.Pagination),
			gateway.DimensionProvider: pagination.NewController(opts.Config.Pagination),
		},
		lastBreakdown: make(map[gateway.Dimension]*breakdownSnapshot),
	}
	return s, nil
}

// Generation returns the current filter generation.
func (s *Session) Generation() uint64 { return s.generation.Load() }

// CurrentRange returns the active date range.
func (s *Session) CurrentRange() daterange.DateRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.Current()
}

// Filters returns a detached copy of the active filter set.
func (s *Session) Filters() filters.FilterSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Current()
}

// Pagination returns the state of one breakdown table's controller.
func (s *Session) Pagination(dim gateway.Dimension) (pagination.State, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return pagination.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pager.State(), nil
}

// ApplyDateSelection resolves sel against the active range. A rejected
// selection leaves everything untouched; an effective change flows into
// the filter set, resets all pagination, and bumps the generation.
func (s *Session) ApplyDateSelection(sel daterange.Selection) (daterange.DateRange, *daterange.RangeWarning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng, warning, err := s.resolver.Apply(sel)
	if err != nil {
		return rng, warning, err
	}
	if !s.coord.Current().Range.Equal(rng) {
		s.coord.SetRange(rng)
		s.invalidateLocked()
	}
	return rng, warning, nil
}

// SetUsers replaces the user selection and applies its cascade.
func (s *Session) SetUsers(ids []string) (filters.FilterSet, []filters.ImpliedChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.coord.Current().CacheKey()
	set, implied := s.coord.SetUsers(ids)
	if set.CacheKey() != before {
		s.invalidateLocked()
	}
	return set, implied
}

// SetModels replaces the model selection.
func (s *Session) SetModels(ids []string) (filters.FilterSet, []filters.ImpliedChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.coord.Current().CacheKey()
	set, implied := s.coord.SetModels(ids)
	if set.CacheKey() != before {
		s.invalidateLocked()
	}
	return set, implied
}

// SetAPIKeys replaces the API key selection. Without selected users the
// write is ignored and nothing is invalidated.
func (s *Session) SetAPIKeys(ids []string) (filters.FilterSet, []filters.ImpliedChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.coord.Current().CacheKey()
	set, implied := s.coord.SetAPIKeys(ids)
	if set.CacheKey() != before {
		s.invalidateLocked()
	}
	return set, implied
}

// invalidateLocked runs after an effective filter change: every table
// restarts on page one and in-flight completions for the old filters are
// superseded. Caller holds s.mu.
func (s *Session) invalidateLocked() {
	for _, pager := range s.pagers {
		pager.Reset()
	}
	s.lastAnalytics = nil
	s.lastBreakdown = make(map[gateway.Dimension]*breakdownSnapshot)
	s.generation.Add(1)
}

// SetPage moves one table to the given page.
func (s *Session) SetPage(dim gateway.Dimension, page int) (pagination.State, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return pagination.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pager.SetPage(page)
}

// SetPerPage changes one table's page size and rewinds it to page one.
func (s *Session) SetPerPage(dim gateway.Dimension, perPage int) (pagination.State, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return pagination.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pager.SetPerPage(perPage)
}

// SetSort changes one table's sort column, toggling direction on a
// repeated column.
func (s *Session) SetSort(dim gateway.Dimension, column string) (pagination.State, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return pagination.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pager.SetSort(column)
}

func (s *Session) pager(dim gateway.Dimension) (*pagination.Controller, error) {
	pager, ok := s.pagers[dim]
	if !ok {
		return nil, &gateway.Error{Category: gateway.CategoryValidation, Message: fmt.Sprintf("unknown breakdown dimension %q", dim)}
	}
	return pager, nil
}

// Overview returns the aggregate for the active filters, blocking on a
// cold cache.
func (s *Session) Overview(ctx context.Context) (*AnalyticsView, error) {
	gen := s.generation.Load()
	f := s.Filters()
	key := analyticsKey(f)

	doc, res, err := querycache.GetJSON(ctx, s.cache, key, func(ctx context.Context) (*gateway.Analytics, error) {
		return s.client.Analytics(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.rememberAnalytics(gen, doc, res.FetchedAt)
	return &AnalyticsView{
		Analytics: doc,
		FetchedAt: res.FetchedAt,
		Stale:     res.Stale,
		Fetching:  res.Fetching,
	}, nil
}

// OverviewKeepPrevious is Overview for render loops: a cold cache starts
// the load in the background and the previous aggregate, when one exists,
// stays on screen marked Previous.
func (s *Session) OverviewKeepPrevious(ctx context.Context) (*AnalyticsView, error) {
	gen := s.generation.Load()
	f := s.Filters()
	key := analyticsKey(f)

	res, ok := s.cache.GetAsync(ctx, key, func(ctx context.Context) ([]byte, error) {
		return marshalAnalytics(s.client.Analytics(ctx, f))
	})
	if ok {
		doc, err := unmarshalAnalytics(res.Data)
		if err != nil {
			return nil, err
		}
		s.rememberAnalytics(gen, doc, res.FetchedAt)
		return &AnalyticsView{Analytics: doc, FetchedAt: res.FetchedAt, Stale: res.Stale, Fetching: res.Fetching}, nil
	}

	s.mu.Lock()
	snap := s.lastAnalytics
	s.mu.Unlock()
	if snap != nil {
		return &AnalyticsView{Analytics: snap.data, FetchedAt: snap.fetchedAt, Previous: true, Fetching: true}, nil
	}
	return s.Overview(ctx)
}

// Breakdown returns one page of the requested table, blocking on a cold
// cache.
func (s *Session) Breakdown(ctx context.Context, dim gateway.Dimension) (*BreakdownView, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return nil, err
	}
	gen := s.generation.Load()
	f := s.Filters()
	s.mu.Lock()
	page := pager.State()
	s.mu.Unlock()
	key := breakdownKey(dim, f, page)

	doc, res, err := querycache.GetJSON(ctx, s.cache, key, func(ctx context.Context) (*gateway.PagedBreakdown, error) {
		return s.client.Breakdown(ctx, dim, f, page)
	})
	if err != nil {
		return nil, err
	}
	s.rememberBreakdown(gen, dim, doc, res.FetchedAt)
	return &BreakdownView{
		Dimension: dim,
		Page:      doc,
		FetchedAt: res.FetchedAt,
		Stale:     res.Stale,
		Fetching:  res.Fetching,
	}, nil
}

// BreakdownKeepPrevious is Breakdown for render loops: while a new page or
// page size loads, the previously shown page stays visible marked
// Previous.
func (s *Session) BreakdownKeepPrevious(ctx context.Context, dim gateway.Dimension) (*BreakdownView, error) {
	pager, err := s.pager(dim)
	if err != nil {
		return nil, err
	}
	gen := s.generation.Load()
	f := s.Filters()
	s.mu.Lock()
	page := pager.State()
	s.mu.Unlock()
	key := breakdownKey(dim, f, page)

	res, ok := s.cache.GetAsync(ctx, key, func(ctx context.Context) ([]byte, error) {
		return marshalBreakdown(s.client.Breakdown(ctx, dim, f, page))
	})
	if ok {
		doc, err := unmarshalBreakdown(res.Data)
		if err != nil {
			return nil, err
		}
		s.rememberBreakdown(gen, dim, doc, res.FetchedAt)
		return &BreakdownView{Dimension: dim, Page: doc, FetchedAt: res.FetchedAt, Stale: res.Stale, Fetching: res.Fetching}, nil
	}

	s.mu.Lock()
	snap := s.lastBreakdown[dim]
	s.mu.Unlock()
	if snap != nil {
		return &BreakdownView{Dimension: dim, Page: snap.page, FetchedAt: snap.fetchedAt, Previous: true, Fetching: true}, nil
	}
	return s.Breakdown(ctx, dim)
}

// Trends compares the active window against the equal-length window
// before it.
func (s *Session) Trends(ctx context.Context) (*TrendView, error) {
	f := s.Filters()
	previous := f.Clone()
	previous.Range = f.Range.Previous()

	current, _, err := querycache.GetJSON(ctx, s.cache, analyticsKey(f), func(ctx context.Context) (*gateway.Analytics, error) {
		return s.client.Analytics(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	prior, _, err := querycache.GetJSON(ctx, s.cache, analyticsKey(previous), func(ctx context.Context) (*gateway.Analytics, error) {
		return s.client.Analytics(ctx, previous)
	})
	if err != nil {
		return nil, err
	}

	return &TrendView{
		Summary:       trend.Summarize(prior.Totals, current.Totals),
		CurrentRange:  f.Range,
		PreviousRange: previous.Range,
	}, nil
}

// Users lists selectable users straight from the gateway.
func (s *Session) Users(ctx context.Context) ([]gateway.UserOption, error) {
	return s.client.Users(ctx)
}

// APIKeys lists keys owned by the currently selected users. With no users
// selected the key filter is unavailable, so the list is empty.
func (s *Session) APIKeys(ctx context.Context) ([]gateway.APIKeyOption, error) {
	f := s.Filters()
	if len(f.UserIDs) == 0 {
		return nil, nil
	}
	return s.client.APIKeys(ctx, f.UserIDs)
}

// FilterOptions lists the model and provider values present in the active
// window.
func (s *Session) FilterOptions(ctx context.Context) (*gateway.FilterOptions, error) {
	return s.client.FilterOptions(ctx, s.CurrentRange())
}

// Export archives the active window in the given format.
func (s *Session) Export(ctx context.Context, format gateway.Format) (export.Receipt, error) {
	if s.exports == nil {
		return export.Receipt{}, fmt.Errorf("session: export coordinator not configured")
	}
	return s.exports.Run(ctx, s.Filters(), format)
}

// RefreshToday tells the backend to recompute today's partition, then
// drops every cached query so the next reads see it.
func (s *Session) RefreshToday(ctx context.Context) error {
	if err := s.client.RefreshToday(ctx); err != nil {
		return err
	}
	if err := s.cache.Flush(ctx); err != nil {
		return fmt.Errorf("flush query cache: %w", err)
	}
	slog.Info("today's usage partition refreshed")
	return nil
}

func (s *Session) rememberAnalytics(gen uint64, doc *gateway.Analytics, fetchedAt time.Time) {
	if gen != s.generation.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalytics = &analyticsSnapshot{data: doc, fetchedAt: fetchedAt}
}

func (s *Session) rememberBreakdown(gen uint64, dim gateway.Dimension, page *gateway.PagedBreakdown, fetchedAt time.Time) {
	if gen != s.generation.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBreakdown[dim] = &breakdownSnapshot{page: page, fetchedAt: fetchedAt}
}

func marshalAnalytics(doc *gateway.Analytics, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func unmarshalAnalytics(data []byte) (*gateway.Analytics, error) {
	var doc gateway.Analytics
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cached analytics: %w", err)
	}
	return &doc, nil
}

func marshalBreakdown(page *gateway.PagedBreakdown, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(page)
}

func unmarshalBreakdown(data []byte) (*gateway.PagedBreakdown, error) {
	var page gateway.PagedBreakdown
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode cached breakdown: %w", err)
	}
	return &page, nil
}

func analyticsKey(f filters.FilterSet) string {
	return "analytics|" + f.CacheKey()
}

func breakdownKey(dim gateway.Dimension, f filters.FilterSet, page pagination.State) string {
	return "breakdown|" + string(dim) + "|" + f.CacheKey() + "|" + page.CacheKey()
}
