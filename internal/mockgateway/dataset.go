package mockgateway

import (
	"cmp"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/gateway"
)

const dayFormat = "2006-01-02"

type modelInfo struct {
	ID         string
	Provider   string
	InputPerM  decimal.Decimal
	OutputPerM decimal.Decimal
}

func modelCatalog() []modelInfo {
	rate := decimal.RequireFromString
	return []modelInfo{
		{ID: "gpt-4o", Provider: "openai", InputPerM: rate("2.50"), OutputPerM: rate("10.00")},
		{ID: "gpt-4o-mini", Provider: "openai", InputPerM: rate("0.15"), OutputPerM: rate("0.60")},
		{ID: "claude-3-5-sonnet", Provider: "anthropic", InputPerM: rate("3.00"), OutputPerM: rate("15.00")},
		{ID: "claude-3-haiku", Provider: "anthropic", InputPerM: rate("0.25"), OutputPerM: rate("1.25")},
		{ID: "llama-3-1-70b", Provider: "bedrock", InputPerM: rate("0.99"), OutputPerM: rate("0.99")},
		{ID: "gemini-1-5-pro", Provider: "vertex", InputPerM: rate("1.25"), OutputPerM: rate("5.00")},
		{ID: "gpt-4o-eu", Provider: "azureopenai", InputPerM: rate("2.75"), OutputPerM: rate("11.00")},
	}
}

var userNamePool = []string{
	"Avery Chen", "Blake Morales", "Carmen Diaz", "Devon Park",
	"Elena Rossi", "Farid Khan", "Grace Liu", "Hana Sato",
	"Ivan Petrov", "Jude Okafor", "Kira Novak", "Liam Walsh",
	"Maya Singh", "Noor Haddad", "Owen Price", "Priya Patel",
}

var keyAliasPool = []string{"prod", "staging", "ci", "notebook", "batch"}

// usageRow is one day of traffic for one API key on one model.
type usageRow struct {
	Day          string
	UserID       string
	APIKeyID     string
	Model        string
	Provider     string
	Requests     int64
	Errored      int64
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
}

// Query restricts aggregation to a date window and optional id sets. Empty
// sets match everything; days compare lexicographically because they are
// ISO formatted.
type Query struct {
	Start string
	End   string
	Users map[string]struct{}
	Model map[string]struct{}
	Keys  map[string]struct{}
}

func (q Query) match(r usageRow) bool {
	if r.Day < q.Start || r.Day > q.End {
		return false
	}
	if len(q.Users) > 0 {
		if _, ok := q.Users[r.UserID]; !ok {
			return false
		}
	}
	if len(q.Model) > 0 {
		if _, ok := q.Model[r.Model]; !ok {
			return false
		}
	}
	if len(q.Keys) > 0 {
		if _, ok := q.Keys[r.APIKeyID]; !ok {
			return false
		}
	}
	return true
}

func idSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// ExportRow is one line of an export file: per day, per user, per model,
// summed across that user's keys.
type ExportRow struct {
	Date         string          `json:"date"`
	UserID       string          `json:"userId"`
	UserName     string          `json:"userName"`
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	Requests     int64           `json:"requests"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// Dataset holds deterministic synthetic usage. The same seed always yields
// the same users, keys, and traffic, so client behavior is reproducible
// across runs. Safe for concurrent use.
type Dataset struct {
	seed  int64
	days  int
	now   func() time.Time
	model []modelInfo

	mu        sync.RWMutex
	users     []gateway.UserOption
	keys      []gateway.APIKeyOption
	userNames map[string]string
	rows      []usageRow
	regen     int64
}

// NewDataset generates cfg.Days of usage for cfg.Users users ending today.
// A nil now defaults to the wall clock.
func NewDataset(cfg config.MockConfig, now func() time.Time) *Dataset {
	if now == nil {
		now = time.Now
	}
	d := &Dataset{
		seed:  cfg.Seed,
		days:  cfg.Days,
		now:   now,
		model: modelCatalog(),
	}
	d.generate(cfg.Users)
	return d
}

func deterministicID(kind string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"/"+strconv.Itoa(n))).String()
}

func (d *Dataset) generate(userCount int) {
	rng := rand.New(rand.NewSource(d.seed))

	d.userNames = make(map[string]string, userCount)
	d.users = make([]gateway.UserOption, 0, userCount)
	for i := 0; i < userCount; i++ {
		name := userNamePool[i%len(userNamePool)]
		if i >= len(userNamePool) {
			name = fmt.Sprintf("%s %d", name, i/len(userNamePool)+1)
		}
		id := deterministicID("user", i)
		d.users = append(d.users, gateway.UserOption{
			ID:    id,
			Name:  name,
			Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		})
		d.userNames[id] = name

		keys := 1 + rng.Intn(3)
		for k := 0; k < keys; k++ {
			d.keys = append(d.keys, gateway.APIKeyOption{
				ID:     deterministicID("key", i*10+k),
				Alias:  keyAliasPool[(i+k)%len(keyAliasPool)],
				UserID: id,
			})
		}
	}

	end := d.today()
	for i := d.days - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i).Format(dayFormat)
		d.rows = append(d.rows, d.rowsForDay(rng, day)...)
	}
}

func (d *Dataset) today() time.Time {
	now := d.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

var million = decimal.NewFromInt(1_000_000)

func (d *Dataset) rowsForDay(rng *rand.Rand, day string) []usageRow {
	var rows []usageRow
	for _, key := range d.keys {
		if rng.Float64() > 0.75 {
			// Quiet day for this key.
			continue
		}
		first := rng.Intn(len(d.model))
		count := 1 + rng.Intn(2)
		for m := 0; m < count; m++ {
			model := d.model[(first+m)%len(d.model)]
			requests := int64(5 + rng.Intn(396))
			in := requests * int64(150+rng.Intn(1050))
			out := requests * int64(40+rng.Intn(560))
			cost := decimal.NewFromInt(in).Mul(model.InputPerM).
				Add(decimal.NewFromInt(out).Mul(model.OutputPerM)).
				Div(million).Round(6)
			rows = append(rows, usageRow{
				Day:          day,
				UserID:       key.UserID,
				APIKeyID:     key.ID,
				Model:        model.ID,
				Provider:     model.Provider,
				Requests:     requests,
				Errored:      rng.Int63n(requests/25 + 1),
				InputTokens:  in,
				OutputTokens: out,
				Cost:         cost,
			})
		}
	}
	return rows
}

// RegenerateToday rerolls today's rows, leaving history untouched. Returns
// the regenerated day.
func (d *Dataset) RegenerateToday() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.regen++
	today := d.today().Format(dayFormat)
	kept := make([]usageRow, 0, len(d.rows))
	for _, r := range d.rows {
		if r.Day != today {
			kept = append(kept, r)
		}
	}
	rng := rand.New(rand.NewSource(d.seed + d.regen*7919))
	d.rows = append(kept, d.rowsForDay(rng, today)...)
	return today
}

type accumulator struct {
	requests int64
	errored  int64
	in       int64
	out      int64
	cost     decimal.Decimal
}

func (a *accumulator) add(r usageRow) {
	a.requests += r.Requests
	a.errored += r.Errored
	a.in += r.InputTokens
	a.out += r.OutputTokens
	a.cost = a.cost.Add(r.Cost)
}

func (a *accumulator) metrics() gateway.Metrics {
	m := gateway.Metrics{
		Requests: a.requests,
		Tokens:   gateway.TokenBreakdown{Total: a.in + a.out, Input: a.in, Output: a.out},
		Cost:     a.cost,
	}
	if a.requests > 0 {
		rate := math.Round(float64(a.requests-a.errored)/float64(a.requests)*1000) / 10
		m.SuccessRate = &rate
	}
	return m
}

// Analytics aggregates the window into totals plus a per-day series.
func (d *Dataset) Analytics(q Query) gateway.Analytics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var totals accumulator
	byDay := make(map[string]*accumulator)
	for _, r := range d.rows {
		if !q.match(r) {
			continue
		}
		totals.add(r)
		acc := byDay[r.Day]
		if acc == nil {
			acc = &accumulator{}
			byDay[r.Day] = acc
		}
		acc.add(r)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	series := make([]gateway.SeriesPoint, 0, len(days))
	for _, day := range days {
		acc := byDay[day]
		series = append(series, gateway.SeriesPoint{
			Date:     day,
			Requests: acc.requests,
			Tokens:   acc.in + acc.out,
			Cost:     acc.cost,
		})
	}

	return gateway.Analytics{
		StartDate: q.Start,
		EndDate:   q.End,
		Totals:    totals.metrics(),
		Series:    series,
	}
}

// Breakdown groups the window by the given dimension and returns one page.
func (d *Dataset) Breakdown(dim gateway.Dimension, q Query, page, limit int, sortBy, sortOrder string) gateway.PagedBreakdown {
	d.mu.RLock()
	defer d.mu.RUnlock()

	groups := make(map[string]*accumulator)
	names := make(map[string]string)
	for _, r := range d.rows {
		if !q.match(r) {
			continue
		}
		var id, name string
		switch dim {
		case gateway.DimensionUser:
			id, name = r.UserID, d.userNames[r.UserID]
		case gateway.DimensionModel:
			id, name = r.Model, r.Model
		default:
			id, name = r.Provider, r.Provider
		}
		acc := groups[id]
		if acc == nil {
			acc = &accumulator{}
			groups[id] = acc
		}
		acc.add(r)
		names[id] = name
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]gateway.BreakdownRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, gateway.BreakdownRow{ID: id, Name: names[id], Metrics: groups[id].metrics()})
	}
	sortRows(rows, sortBy, sortOrder)

	total := len(rows)
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	offset := (page - 1) * limit
	if offset > total {
		offset = total
	}
	stop := offset + limit
	if stop > total {
		stop = total
	}

	return gateway.PagedBreakdown{
		Data: rows[offset:stop],
		Pagination: gateway.PageMeta{
			Page:        page,
			Limit:       limit,
			Total:       int64(total),
			TotalPages:  totalPages,
			HasNext:     page < totalPages,
			HasPrevious: page > 1 && total > 0,
		},
	}
}

func sortRows(rows []gateway.BreakdownRow, sortBy, sortOrder string) {
	asc := sortOrder == "asc"
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		var c int
		switch sortBy {
		case "requests":
			c = cmp.Compare(a.Metrics.Requests, b.Metrics.Requests)
		case "tokens":
			c = cmp.Compare(a.Metrics.Tokens.Total, b.Metrics.Tokens.Total)
		case "name":
			c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		default:
			c = a.Metrics.Cost.Cmp(b.Metrics.Cost)
		}
		if c == 0 {
			return a.ID < b.ID
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}

// Users lists every generated user.
func (d *Dataset) Users() []gateway.UserOption {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]gateway.UserOption, len(d.users))
	copy(out, d.users)
	return out
}

// APIKeys lists keys, restricted to the given owners when any are named.
func (d *Dataset) APIKeys(userIDs []string) []gateway.APIKeyOption {
	d.mu.RLock()
	defer d.mu.RUnlock()

	owners := idSet(userIDs)
	out := make([]gateway.APIKeyOption, 0, len(d.keys))
	for _, key := range d.keys {
		if owners != nil {
			if _, ok := owners[key.UserID]; !ok {
				continue
			}
		}
		out = append(out, key)
	}
	return out
}

// FilterOptions lists the model and provider values with usage in the
// window.
func (d *Dataset) FilterOptions(start, end string) gateway.FilterOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := Query{Start: start, End: end}
	models := make(map[string]struct{})
	providers := make(map[string]struct{})
	for _, r := range d.rows {
		if !q.match(r) {
			continue
		}
		models[r.Model] = struct{}{}
		providers[r.Provider] = struct{}{}
	}

	opts := gateway.FilterOptions{
		Models:    make([]string, 0, len(models)),
		Providers: make([]string, 0, len(providers)),
	}
	for m := range models {
		opts.Models = append(opts.Models, m)
	}
	for p := range providers {
		opts.Providers = append(opts.Providers, p)
	}
	sort.Strings(opts.Models)
	sort.Strings(opts.Providers)
	return opts
}

// ExportRows flattens the window into per-day, per-user, per-model lines,
// ordered by date, then user name, then model.
func (d *Dataset) ExportRows(q Query) []ExportRow {
	d.mu.RLock()
	defer d.mu.RUnlock()

	grouped := make(map[string]*ExportRow)
	for _, r := range d.rows {
		if !q.match(r) {
			continue
		}
		key := r.Day + "|" + r.UserID + "|" + r.Model
		row := grouped[key]
		if row == nil {
			row = &ExportRow{
				Date:     r.Day,
				UserID:   r.UserID,
				UserName: d.userNames[r.UserID],
				Model:    r.Model,
				Provider: r.Provider,
			}
			grouped[key] = row
		}
		row.Requests += r.Requests
		row.InputTokens += r.InputTokens
		row.OutputTokens += r.OutputTokens
		row.Cost = row.Cost.Add(r.Cost)
	}

	out := make([]ExportRow, 0, len(grouped))
	for _, row := range grouped {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.UserName != b.UserName {
			return a.UserName < b.UserName
		}
		return a.Model < b.Model
	})
	return out
}
