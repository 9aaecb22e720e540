package daterange

import (
	"fmt"
	"strings"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
)

// Selection is the date picker's state: either a named preset or a custom
// start/end pair. The two concrete types are the only implementations.
type Selection interface {
	isSelection()
}

// Preset is a named shorthand for a rolling window ending today.
type Preset string

const (
	PresetDay     Preset = "1d"
	PresetWeek    Preset = "7d"
	PresetMonth   Preset = "30d"
	PresetQuarter Preset = "90d"
)

func (Preset) isSelection() {}

// Days returns the calendar day count the preset covers.
func (p Preset) Days() (int, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(string(p)))) {
	case PresetDay:
		return 1, nil
	case PresetWeek:
		return 7, nil
	case PresetMonth:
		return 30, nil
	case PresetQuarter:
		return 90, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPreset, string(p))
	}
}

// Custom is a user-edited start/end pair. Either side may still be empty
// while the operator is typing; such partial pairs resolve to a no-op.
type Custom struct {
	Start string
	End   string
}

func (Custom) isSelection() {}

// Complete reports whether both sides of the pair have been entered.
func (c Custom) Complete() bool {
	return strings.TrimSpace(c.Start) != "" && strings.TrimSpace(c.End) != ""
}

// RangeWarning flags an accepted range wide enough that aggregation may be slow.
type RangeWarning struct {
	Days      int
	Threshold int
}

// Message renders the operator-facing warning text.
func (w RangeWarning) Message() string {
	return fmt.Sprintf("selected range spans %d days; ranges beyond %d days can be slow to aggregate", w.Days, w.Threshold)
}

// Resolver turns date selections into concrete ranges. It keeps the last
// accepted range: failed applications leave it untouched, and Current is the
// only range the console ever encodes into a request.
type Resolver struct {
	maxDays  int
	warnDays int
	loc      *time.Location
	now      func() time.Time
	current  DateRange
}

// Option adjusts resolver construction.
type Option func(*Resolver)

// WithNow overrides the clock used to anchor presets.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a resolver from the analytics configuration and seeds
// the current range from the configured default preset.
func NewResolver(cfg config.AnalyticsConfig, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		maxDays:  cfg.MaxAnalyticsDays,
		warnDays: cfg.LargeRangeWarningDays,
		loc:      cfg.Location(),
		now:      time.Now,
	}
	if r.maxDays <= 0 {
		r.maxDays = 90
	}
	if r.warnDays <= 0 {
		r.warnDays = 30
	}
	for _, opt := range opts {
		opt(r)
	}

	preset := Preset(cfg.DefaultPreset)
	if strings.TrimSpace(cfg.DefaultPreset) == "" {
		preset = PresetWeek
	}
	if _, _, err := r.Apply(preset); err != nil {
		return nil, fmt.Errorf("seed default range: %w", err)
	}
	return r, nil
}

// Current returns the last accepted range.
func (r *Resolver) Current() DateRange { return r.current }

// Apply resolves a selection against the current clock. On success the
// result becomes the resolver's current range; on any failure the previous
// range is retained and returned alongside the error. A non-nil RangeWarning
// accompanies accepted custom ranges wider than the warning threshold and is
// produced exactly once, at acceptance.
func (r *Resolver) Apply(sel Selection) (DateRange, *RangeWarning, error) {
	switch s := sel.(type) {
	case Preset:
		days, err := s.Days()
		if err != nil {
			return r.current, nil, err
		}
		today := TruncateToDay(r.now(), r.loc)
		r.current = DateRange{start: today.AddDate(0, 0, -(days - 1)), end: today}
		return r.current, nil, nil

	case Custom:
		if !s.Complete() {
			// Half-entered pairs are legal editing state, not an error.
			return r.current, nil, nil
		}
		start, err := ParseDate(s.Start, r.loc)
		if err != nil {
			return r.current, nil, err
		}
		end, err := ParseDate(s.End, r.loc)
		if err != nil {
			return r.current, nil, err
		}
		if end.Before(start) {
			return r.current, nil, fmt.Errorf("%w: %s > %s", ErrInvalidDateOrder, s.Start, s.End)
		}
		rng := DateRange{start: start, end: end}
		if days := rng.Days(); days > r.maxDays {
			return r.current, nil, fmt.Errorf("%w: %d days exceeds the %d day limit", ErrRangeTooLarge, days, r.maxDays)
		}
		var warning *RangeWarning
		if days := rng.Days(); days > r.warnDays {
			warning = &RangeWarning{Days: days, Threshold: r.warnDays}
		}
		r.current = rng
		return r.current, warning, nil

	default:
		return r.current, nil, fmt.Errorf("unsupported date selection %T", sel)
	}
}
