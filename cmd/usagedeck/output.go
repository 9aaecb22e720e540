package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/session"
	"github.com/usagedeck/usagedeck/internal/trend"
)

// Diagnostics go to stderr so stdout stays parseable when --json is set.
var (
	infoPrinter    = pterm.Info.WithWriter(os.Stderr)
	warnPrinter    = pterm.Warning.WithWriter(os.Stderr)
	errorPrinter   = pterm.Error.WithWriter(os.Stderr)
	successPrinter = pterm.Success.WithWriter(os.Stderr)
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printOverview(view *session.AnalyticsView) {
	doc := view.Analytics
	fmt.Printf("Usage %s to %s\n\n", doc.StartDate, doc.EndDate)
	fmt.Println(renderTotals(doc))
	if len(doc.Series) > 0 {
		fmt.Println(renderSeries(doc.Series))
	}
}

func printTrends(view *session.TrendView) {
	fmt.Printf("Current %s vs previous %s\n\n", view.CurrentRange, view.PreviousRange)
	fmt.Println(renderTrendsTable(view))
}

func printBreakdown(view *session.BreakdownView) {
	fmt.Printf("Usage by %s\n\n", view.Dimension)
	fmt.Println(renderBreakdownTable(view))
}

func printOptions(f filters.FilterSet, users []gateway.UserOption, keys []gateway.APIKeyOption, opts *gateway.FilterOptions) {
	fmt.Printf("Filter choices for %s\n\n", f.Range)

	userData := pterm.TableData{{"User", "ID", "Email"}}
	for _, u := range users {
		userData = append(userData, []string{u.Name, u.ID, u.Email})
	}
	table, _ := pterm.DefaultTable.WithHasHeader().WithData(userData).Srender()
	fmt.Println(table)

	if len(keys) > 0 {
		keyData := pterm.TableData{{"API Key", "ID", "Owner"}}
		for _, k := range keys {
			keyData = append(keyData, []string{k.Alias, k.ID, k.UserID})
		}
		table, _ := pterm.DefaultTable.WithHasHeader().WithData(keyData).Srender()
		fmt.Println(table)
	} else if len(f.UserIDs) == 0 {
		infoPrinter.Println("select users with --users to list their API keys")
	}

	fmt.Println("Models:    " + strings.Join(opts.Models, ", "))
	fmt.Println("Providers: " + strings.Join(opts.Providers, ", "))
}

func renderTotals(doc *gateway.Analytics) string {
	data := pterm.TableData{
		{"Requests", "Tokens", "Input", "Output", "Cost", "Success"},
		{
			formatCount(doc.Totals.Requests),
			formatCount(doc.Totals.Tokens.Total),
			formatCount(doc.Totals.Tokens.Input),
			formatCount(doc.Totals.Tokens.Output),
			formatCost(doc.Totals.Cost),
			formatSuccessRate(doc.Totals.SuccessRate),
		},
	}
	out, _ := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	return out
}

func renderSeries(points []gateway.SeriesPoint) string {
	data := pterm.TableData{{"Date", "Requests", "Tokens", "Cost"}}
	for _, p := range points {
		data = append(data, []string{p.Date, formatCount(p.Requests), formatCount(p.Tokens), formatCost(p.Cost)})
	}
	out, _ := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	return out
}

func renderBreakdownTable(view *session.BreakdownView) string {
	data := pterm.TableData{{dimensionLabel(view.Dimension), "ID", "Requests", "Tokens", "Cost", "Success"}}
	for _, row := range view.Page.Data {
		data = append(data, []string{
			row.Name,
			row.ID,
			formatCount(row.Metrics.Requests),
			formatCount(row.Metrics.Tokens.Total),
			formatCost(row.Metrics.Cost),
			formatSuccessRate(row.Metrics.SuccessRate),
		})
	}
	table, _ := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()

	meta := view.Page.Pagination
	footer := fmt.Sprintf("page %d of %d (%s rows)", meta.Page, meta.TotalPages, formatCount(meta.Total))
	return strings.TrimRight(table, "\n") + "\n" + footer
}

func renderTrendsTable(view *session.TrendView) string {
	s := view.Summary
	data := pterm.TableData{
		{"Metric", "Previous", "Current", "Change"},
		{"Requests", formatCount(int64(s.Requests.Previous)), formatCount(int64(s.Requests.Current)), formatChange(s.Requests.Change, s.Requests.Direction)},
		{"Tokens", formatCount(int64(s.Tokens.Previous)), formatCount(int64(s.Tokens.Current)), formatChange(s.Tokens.Change, s.Tokens.Direction)},
		{"Cost", formatCost(s.Cost.Previous), formatCost(s.Cost.Current), formatChange(s.Cost.Change.InexactFloat64(), s.Cost.Direction)},
	}
	if s.SuccessRate != nil {
		data = append(data, []string{
			"Success rate",
			formatSuccessRate(&s.SuccessRate.Previous),
			formatSuccessRate(&s.SuccessRate.Current),
			formatChange(s.SuccessRate.Change, s.SuccessRate.Direction),
		})
	}
	out, _ := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	return out
}

func dimensionLabel(dim gateway.Dimension) string {
	switch dim {
	case gateway.DimensionUser:
		return "User"
	case gateway.DimensionModel:
		return "Model"
	case gateway.DimensionProvider:
		return "Provider"
	}
	return string(dim)
}

// formatCount renders an integer with thousands separators.
func formatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		s = "-" + s
	}
	return s
}

func formatCost(d decimal.Decimal) string {
	return "$" + d.StringFixed(4)
}

func formatSuccessRate(rate *float64) string {
	if rate == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *rate)
}

func formatChange(change float64, dir trend.Direction) string {
	pct := fmt.Sprintf("%+.1f%%", change)
	switch dir {
	case trend.DirectionUp:
		return "▲ " + pct
	case trend.DirectionDown:
		return "▼ " + pct
	}
	return pct
}
