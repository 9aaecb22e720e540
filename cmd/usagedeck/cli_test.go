package main

import (
	"os"
	"testing"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/pagination"
	"github.com/usagedeck/usagedeck/internal/querycache"
	"github.com/usagedeck/usagedeck/internal/session"
	"github.com/usagedeck/usagedeck/internal/trend"
)

func TestMain(m *testing.M) {
	pterm.DisableColor()
	os.Exit(m.Run())
}

// newTestSession wires a session against an unreachable gateway. The
// tests below only exercise local state, so no request is ever sent.
func newTestSession(t *testing.T) *session.Session {
	t.Helper()

	cfg := config.Default()
	client, err := gateway.New(gateway.Options{
		BaseURL: "http://127.0.0.1:1",
		Tokens:  gateway.StaticToken("test-token"),
	})
	require.NoError(t, err)

	store, err := querycache.NewStore(cfg.Cache)
	require.NoError(t, err)
	cache := querycache.New(store, cfg.Cache, nil)
	t.Cleanup(func() { _ = cache.Close() })

	sess, err := session.New(session.Options{Config: *cfg, Client: client, Cache: cache})
	require.NoError(t, err)
	return sess
}

func TestSelectionFromFlags(t *testing.T) {
	t.Run("preset", func(t *testing.T) {
		sel, ok := selectionFromFlags("30d", "", "")
		require.True(t, ok)
		require.Equal(t, daterange.Preset("30d"), sel)
	})

	t.Run("complete custom pair wins over preset", func(t *testing.T) {
		sel, ok := selectionFromFlags("7d", "2025-01-01", "2025-01-31")
		require.True(t, ok)
		custom, isCustom := sel.(daterange.Custom)
		require.True(t, isCustom)
		require.True(t, custom.Complete())
		require.Equal(t, "2025-01-01", custom.Start)
		require.Equal(t, "2025-01-31", custom.End)
	})

	t.Run("half pair is an incomplete custom selection", func(t *testing.T) {
		sel, ok := selectionFromFlags("", "2025-01-01", "")
		require.True(t, ok)
		custom, isCustom := sel.(daterange.Custom)
		require.True(t, isCustom)
		require.False(t, custom.Complete())
	})

	t.Run("no range flags", func(t *testing.T) {
		_, ok := selectionFromFlags("", "", "")
		require.False(t, ok)
	})
}

func TestApplyTableFlags(t *testing.T) {
	t.Run("new sort column starts descending", func(t *testing.T) {
		sess := newTestSession(t)
		st, err := applyTableFlags(sess, gateway.DimensionUser, tableFlags{sortBy: "requests"})
		require.NoError(t, err)
		require.Equal(t, "requests", st.SortBy)
		require.Equal(t, pagination.OrderDesc, st.SortOrder)
		require.Equal(t, 1, st.Page)
	})

	t.Run("requested ascending direction is reconciled", func(t *testing.T) {
		sess := newTestSession(t)
		st, err := applyTableFlags(sess, gateway.DimensionUser, tableFlags{sortBy: "requests", sortOrder: "asc"})
		require.NoError(t, err)
		require.Equal(t, "requests", st.SortBy)
		require.Equal(t, pagination.OrderAsc, st.SortOrder)
	})

	t.Run("matching column and direction change nothing", func(t *testing.T) {
		sess := newTestSession(t)
		st, err := applyTableFlags(sess, gateway.DimensionModel, tableFlags{sortBy: "cost", sortOrder: "desc"})
		require.NoError(t, err)
		require.Equal(t, "cost", st.SortBy)
		require.Equal(t, pagination.OrderDesc, st.SortOrder)
	})

	t.Run("page is applied after the size change that rewinds it", func(t *testing.T) {
		sess := newTestSession(t)
		st, err := applyTableFlags(sess, gateway.DimensionProvider, tableFlags{perPage: 25, page: 3})
		require.NoError(t, err)
		require.Equal(t, 25, st.PerPage)
		require.Equal(t, 3, st.Page)
	})

	t.Run("per page outside the backend choices", func(t *testing.T) {
		sess := newTestSession(t)
		_, err := applyTableFlags(sess, gateway.DimensionUser, tableFlags{perPage: 33})
		require.ErrorIs(t, err, pagination.ErrInvalidPerPage)
	})

	t.Run("unknown sort column", func(t *testing.T) {
		sess := newTestSession(t)
		_, err := applyTableFlags(sess, gateway.DimensionUser, tableFlags{sortBy: "vibes"})
		require.ErrorIs(t, err, pagination.ErrInvalidSort)
	})

	t.Run("unknown sort direction", func(t *testing.T) {
		sess := newTestSession(t)
		_, err := applyTableFlags(sess, gateway.DimensionUser, tableFlags{sortOrder: "sideways"})
		require.Error(t, err)
	})
}

func TestFormatCount(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, formatCount(tc.in))
	}
}

func TestFormatSuccessRate(t *testing.T) {
	require.Equal(t, "n/a", formatSuccessRate(nil))

	rate := 99.2
	require.Equal(t, "99.2%", formatSuccessRate(&rate))

	perfect := 100.0
	require.Equal(t, "100.0%", formatSuccessRate(&perfect))
}

func TestRedactSecret(t *testing.T) {
	require.Equal(t, "", redactSecret(""))
	require.Equal(t, "****", redactSecret("abcd"))
	require.Equal(t, "****6789", redactSecret("sk-123456789"))
}

func TestFormatChange(t *testing.T) {
	require.Equal(t, "▲ +50.0%", formatChange(50, trend.DirectionUp))
	require.Equal(t, "▼ -12.5%", formatChange(-12.5, trend.DirectionDown))
	require.Equal(t, "+0.0%", formatChange(0, trend.DirectionStable))
}

func TestRenderBreakdownTable(t *testing.T) {
	rate := 99.5
	view := &session.BreakdownView{
		Dimension: gateway.DimensionModel,
		Page: &gateway.PagedBreakdown{
			Data: []gateway.BreakdownRow{
				{
					ID:   "gpt-4o",
					Name: "GPT-4o",
					Metrics: gateway.Metrics{
						Requests:    1500,
						Tokens:      gateway.TokenBreakdown{Total: 250000, Input: 200000, Output: 50000},
						Cost:        decimal.RequireFromString("12.5"),
						SuccessRate: &rate,
					},
				},
			},
			Pagination: gateway.PageMeta{Page: 2, Limit: 10, Total: 35, TotalPages: 4, HasNext: true, HasPrevious: true},
		},
	}

	out := renderBreakdownTable(view)
	require.Contains(t, out, "GPT-4o")
	require.Contains(t, out, "1,500")
	require.Contains(t, out, "250,000")
	require.Contains(t, out, "$12.5000")
	require.Contains(t, out, "99.5%")
	require.Contains(t, out, "page 2 of 4 (35 rows)")
}

func TestRenderTrendsTable(t *testing.T) {
	view := &session.TrendView{
		Summary: trend.Summary{
			Requests: trend.Compare(100, 150),
			Tokens:   trend.Compare(1000, 800),
			Cost:     trend.CompareCost(decimal.RequireFromString("10"), decimal.RequireFromString("10")),
		},
	}

	out := renderTrendsTable(view)
	require.Contains(t, out, "▲ +50.0%")
	require.Contains(t, out, "▼ -20.0%")
	require.Contains(t, out, "+0.0%")
	require.Contains(t, out, "$10.0000")
	require.NotContains(t, out, "Success rate")

	rate := trend.Compare(98, 99.5)
	view.Summary.SuccessRate = &rate
	out = renderTrendsTable(view)
	require.Contains(t, out, "Success rate")
	require.Contains(t, out, "98.0%")
	require.Contains(t, out, "99.5%")
	require.Contains(t, out, "▲ +1.5%")
}
