package trend

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/usagedeck/usagedeck/internal/gateway"
)

func TestChange(t *testing.T) {
	cases := []struct {
		name     string
		previous float64
		current  float64
		want     float64
	}{
		{"growth", 100, 150, 50},
		{"decline", 100, 75, -25},
		{"flat", 100, 100, 0},
		{"from zero", 0, 42, 100},
		{"zero to zero", 0, 0, 0},
		{"halved", 200, 100, -50},
	}
	for _, tc := range cases {
		if got := Change(tc.previous, tc.current); got != tc.want {
			t.Fatalf("%s: want %v%%, got %v%%", tc.name, tc.want, got)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		change float64
		want   Direction
	}{
		{50, DirectionUp},
		{0.01, DirectionUp},
		{0, DirectionStable},
		{-0.01, DirectionDown},
		{-100, DirectionDown},
	}
	for _, tc := range cases {
		if got := Classify(tc.change); got != tc.want {
			t.Fatalf("%v: want %q, got %q", tc.change, tc.want, got)
		}
	}
}

func TestCompareDirectionMatchesChange(t *testing.T) {
	c := Compare(100, 150)
	if c.Change != 50 || c.Direction != DirectionUp {
		t.Fatalf("want +50%% up, got %+v", c)
	}
	c = Compare(100, 100)
	if c.Direction != DirectionStable {
		t.Fatalf("equal values must be stable, got %+v", c)
	}
}

func TestChangeDecimal(t *testing.T) {
	cases := []struct {
		name     string
		previous string
		current  string
		want     string
	}{
		{"growth", "12.5", "15", "20"},
		{"decline", "10", "7.5", "-25"},
		{"flat", "3.33", "3.33", "0"},
		{"from zero", "0", "0.01", "100"},
		{"zero to zero", "0", "0", "0"},
	}
	for _, tc := range cases {
		prev := decimal.RequireFromString(tc.previous)
		cur := decimal.RequireFromString(tc.current)
		want := decimal.RequireFromString(tc.want)
		if got := ChangeDecimal(prev, cur); !got.Equal(want) {
			t.Fatalf("%s: want %s%%, got %s%%", tc.name, want, got)
		}
	}
}

func TestCompareCost(t *testing.T) {
	c := CompareCost(decimal.RequireFromString("10"), decimal.RequireFromString("7.5"))
	if c.Direction != DirectionDown || !c.Change.Equal(decimal.RequireFromString("-25")) {
		t.Fatalf("want -25%% down, got %+v", c)
	}
	c = CompareCost(decimal.Zero, decimal.Zero)
	if c.Direction != DirectionStable || !c.Change.IsZero() {
		t.Fatalf("zero periods must be stable, got %+v", c)
	}
}

func TestSummarize(t *testing.T) {
	previous := gateway.Metrics{
		Requests: 1000,
		Tokens:   gateway.TokenBreakdown{Total: 50000, Input: 40000, Output: 10000},
		Cost:     decimal.RequireFromString("20"),
	}
	current := gateway.Metrics{
		Requests: 1500,
		Tokens:   gateway.TokenBreakdown{Total: 50000, Input: 35000, Output: 15000},
		Cost:     decimal.RequireFromString("15"),
	}

	s := Summarize(previous, current)
	if s.Requests.Change != 50 || s.Requests.Direction != DirectionUp {
		t.Fatalf("requests: want +50%% up, got %+v", s.Requests)
	}
	if s.Tokens.Change != 0 || s.Tokens.Direction != DirectionStable {
		t.Fatalf("tokens: want stable, got %+v", s.Tokens)
	}
	if s.Cost.Direction != DirectionDown || !s.Cost.Change.Equal(decimal.RequireFromString("-25")) {
		t.Fatalf("cost: want -25%% down, got %+v", s.Cost)
	}
	if s.SuccessRate != nil {
		t.Fatalf("no rate in either period must give nil, got %+v", s.SuccessRate)
	}
}

func TestSummarizeSuccessRate(t *testing.T) {
	rate := func(v float64) *float64 { return &v }

	previous := gateway.Metrics{Requests: 100, SuccessRate: rate(98)}
	current := gateway.Metrics{Requests: 120, SuccessRate: rate(99.96)}

	s := Summarize(previous, current)
	if s.SuccessRate == nil {
		t.Fatal("both periods carry a rate, want a comparison")
	}
	if s.SuccessRate.Previous != 98 || s.SuccessRate.Current != 99.96 {
		t.Fatalf("rate bounds wrong: %+v", s.SuccessRate)
	}
	if s.SuccessRate.Direction != DirectionUp {
		t.Fatalf("98 -> 99.96 must trend up, got %q", s.SuccessRate.Direction)
	}

	current.SuccessRate = nil
	if s := Summarize(previous, current); s.SuccessRate != nil {
		t.Fatalf("one-sided rate must give nil, got %+v", s.SuccessRate)
	}
}
