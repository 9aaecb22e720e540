package daterange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for analytics dates.
const DateLayout = "2006-01-02"

var (
	ErrInvalidPreset    = errors.New("invalid preset")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidDateOrder = errors.New("start date after end date")
	ErrRangeTooLarge    = errors.New("date range too large")
)

// DateRange represents an inclusive day-granular [start, end] window
// normalized to midnight in its location.
type DateRange struct {
	start time.Time
	end   time.Time
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// New constructs a range from two timestamps, truncating both to midnight.
func New(start, end time.Time, loc *time.Location) (DateRange, error) {
	loc = EnsureLocation(loc)
	s := TruncateToDay(start, loc)
	e := TruncateToDay(end, loc)
	if e.Before(s) {
		return DateRange{}, ErrInvalidDateOrder
	}
	return DateRange{start: s, end: e}, nil
}

// Start returns the inclusive first day of the range.
func (r DateRange) Start() time.Time { return r.start }

// End returns the inclusive last day of the range.
func (r DateRange) End() time.Time { return r.end }

// Days returns the number of calendar days the range covers, both ends
// inclusive. Computed on the civil dates so DST transitions cannot skew it.
func (r DateRange) Days() int {
	s := time.Date(r.start.Year(), r.start.Month(), r.start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(r.end.Year(), r.end.Month(), r.end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s)/(24*time.Hour)) + 1
}

// StartString returns the first day formatted for the wire.
func (r DateRange) StartString() string { return r.start.Format(DateLayout) }

// EndString returns the last day formatted for the wire.
func (r DateRange) EndString() string { return r.end.Format(DateLayout) }

// Contains reports whether the timestamp falls on one of the range's days.
func (r DateRange) Contains(ts time.Time) bool {
	return !ts.Before(r.start) && ts.Before(r.end.AddDate(0, 0, 1))
}

// Previous returns the immediately preceding period of equal length.
func (r DateRange) Previous() DateRange {
	days := r.Days()
	return DateRange{
		start: r.start.AddDate(0, 0, -days),
		end:   r.start.AddDate(0, 0, -1),
	}
}

// Equal reports whether both ranges cover the same days.
func (r DateRange) Equal(other DateRange) bool {
	return r.StartString() == other.StartString() && r.EndString() == other.EndString()
}

// IsZero reports whether the range is the uninitialized value.
func (r DateRange) IsZero() bool { return r.start.IsZero() && r.end.IsZero() }

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.StartString(), r.EndString())
}

// MarshalJSON encodes the range as its inclusive day bounds.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{r.StartString(), r.EndString()})
}

// ParseDate parses a YYYY-MM-DD string as midnight in the provided zone.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), EnsureLocation(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
