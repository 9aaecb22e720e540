// Package trend computes period-over-period change for dashboard summary
// cards.
package trend

import (
	"github.com/shopspring/decimal"

	"github.com/usagedeck/usagedeck/internal/gateway"
)

// Direction classifies a change for display.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

var hundred = decimal.NewFromInt(100)

// Change returns the percent change from previous to current. A zero
// previous value has no ratio to report, so growth from nothing reads as
// +100% and nothing-to-nothing as 0%.
func Change(previous, current float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - previous) / previous * 100
}

// ChangeDecimal is Change for exact decimal amounts.
func ChangeDecimal(previous, current decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}

// Classify maps a percent change onto a display direction.
func Classify(change float64) Direction {
	switch {
	case change > 0:
		return DirectionUp
	case change < 0:
		return DirectionDown
	}
	return DirectionStable
}

// Comparison is the trend block for one counter metric.
type Comparison struct {
	Previous  float64   `json:"previous"`
	Current   float64   `json:"current"`
	Change    float64   `json:"change"`
	Direction Direction `json:"direction"`
}

// Compare builds a Comparison between two period values.
func Compare(previous, current float64) Comparison {
	change := Change(previous, current)
	return Comparison{
		Previous:  previous,
		Current:   current,
		Change:    change,
		Direction: Classify(change),
	}
}

// CostComparison is the trend block for a decimal cost metric.
type CostComparison struct {
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
	Change    decimal.Decimal `json:"change"`
	Direction Direction       `json:"direction"`
}

// CompareCost builds a CostComparison between two period amounts.
func CompareCost(previous, current decimal.Decimal) CostComparison {
	change := ChangeDecimal(previous, current)
	dir := DirectionStable
	switch change.Sign() {
	case 1:
		dir = DirectionUp
	case -1:
		dir = DirectionDown
	}
	return CostComparison{
		Previous:  previous,
		Current:   current,
		Change:    change,
		Direction: dir,
	}
}

// Summary compares the headline metrics of two adjacent periods. SuccessRate
// is nil unless both periods carried a rate.
type Summary struct {
	Requests    Comparison     `json:"requests"`
	Tokens      Comparison     `json:"tokens"`
	Cost        CostComparison `json:"cost"`
	SuccessRate *Comparison    `json:"successRate,omitempty"`
}

// Summarize compares the previous period's totals against the current
// period's.
func Summarize(previous, current gateway.Metrics) Summary {
	s := Summary{
		Requests: Compare(float64(previous.Requests), float64(current.Requests)),
		Tokens:   Compare(float64(previous.Tokens.Total), float64(current.Tokens.Total)),
		Cost:     CompareCost(previous.Cost, current.Cost),
	}
	if previous.SuccessRate != nil && current.SuccessRate != nil {
		rate := Compare(*previous.SuccessRate, *current.SuccessRate)
		s.SuccessRate = &rate
	}
	return s
}
