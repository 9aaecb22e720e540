// Package gateway is the HTTP client for the admin usage API. It owns the
// wire contract (request payloads, response envelopes), the failure
// taxonomy, and the bounded retry policy layered on top of it.
package gateway

import (
	"github.com/shopspring/decimal"

	"github.com/usagedeck/usagedeck/internal/filters"
)

// Dimension selects which breakdown table a query addresses.
type Dimension string

const (
	DimensionUser     Dimension = "user"
	DimensionModel    Dimension = "model"
	DimensionProvider Dimension = "provider"
)

// Valid reports whether d names a known breakdown dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionUser, DimensionModel, DimensionProvider:
		return true
	}
	return false
}

func (d Dimension) endpoint() string {
	switch d {
	case DimensionUser:
		return "/admin/usage/by-user"
	case DimensionModel:
		return "/admin/usage/by-model"
	case DimensionProvider:
		return "/admin/usage/by-provider"
	}
	return ""
}

// Format selects an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Valid reports whether f names a supported export format.
func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatJSON
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type an export in this format is served as.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// FilterPayload is the JSON body every usage endpoint accepts. Dates are
// calendar days formatted as YYYY-MM-DD; both bounds are inclusive.
type FilterPayload struct {
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	UserIDs   []string `json:"userIds,omitempty"`
	ModelIDs  []string `json:"modelIds,omitempty"`
	APIKeyIDs []string `json:"apiKeyIds,omitempty"`
}

// PayloadFromFilters flattens a filter set into its wire form.
func PayloadFromFilters(f filters.FilterSet) FilterPayload {
	return FilterPayload{
		StartDate: f.Range.StartString(),
		EndDate:   f.Range.EndString(),
		UserIDs:   f.UserIDs,
		ModelIDs:  f.ModelIDs,
		APIKeyIDs: f.APIKeyIDs,
	}
}

// TokenBreakdown splits a token total by direction.
type TokenBreakdown struct {
	Total  int64 `json:"total"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Metrics is the aggregate block shared by totals and breakdown rows.
// SuccessRate is a percentage in [0, 100] and nil when the backend has no
// sample to compute it from.
type Metrics struct {
	Requests    int64           `json:"requests"`
	Tokens      TokenBreakdown  `json:"tokens"`
	Cost        decimal.Decimal `json:"cost"`
	SuccessRate *float64        `json:"successRate,omitempty"`
}

// BreakdownRow is one user, model, or provider line in a breakdown table.
type BreakdownRow struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Metrics Metrics `json:"metrics"`
}

// PageMeta is the pagination envelope returned with every breakdown page.
type PageMeta struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

// PagedBreakdown is one page of a breakdown table plus its envelope.
type PagedBreakdown struct {
	Data       []BreakdownRow `json:"data"`
	Pagination PageMeta       `json:"pagination"`
}

// SeriesPoint is one calendar day of the aggregate time series.
type SeriesPoint struct {
	Date     string          `json:"date"`
	Requests int64           `json:"requests"`
	Tokens   int64           `json:"tokens"`
	Cost     decimal.Decimal `json:"cost"`
}

// Analytics is the window-wide aggregate the overview consumes.
type Analytics struct {
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Totals    Metrics       `json:"totals"`
	Series    []SeriesPoint `json:"series"`
}

// UserOption is one entry of the user picker.
type UserOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// APIKeyOption is one entry of the API key picker. Keys always belong to a
// single user.
type APIKeyOption struct {
	ID     string `json:"id"`
	Alias  string `json:"alias"`
	UserID string `json:"userId"`
}

// FilterOptions lists the dimension values with recorded usage inside a
// date range, so pickers only offer choices that can match something.
type FilterOptions struct {
	Models    []string `json:"models"`
	Providers []string `json:"providers"`
}

// ExportResult is the encoded payload of a finished synchronous export.
type ExportResult struct {
	Data        []byte
	ContentType string
	Filename    string
}

type exportRequest struct {
	FilterPayload
	Format string `json:"format"`
}

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}
