package mockgateway

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/gateway"
)

// maxRangeDays mirrors the production backend's aggregation window cap.
const maxRangeDays = 90

type exportRequest struct {
	gateway.FilterPayload
	Format string `json:"format"`
}

func (s *Server) analytics(c *fiber.Ctx) error {
	q, err := parseFilterBody(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.data.Analytics(q))
}

func (s *Server) breakdown(dim gateway.Dimension) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := parseFilterBody(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, err.Error())
		}

		page := parsePositiveInt(c.Query("page"), 1)
		limit := parsePositiveInt(c.Query("limit"), 50)
		if !slices.Contains(config.PerPageChoices, limit) {
			return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("limit must be one of %v", config.PerPageChoices))
		}
		sortBy := strings.ToLower(strings.TrimSpace(c.Query("sortBy", "cost")))
		switch sortBy {
		case "cost", "requests", "tokens", "name":
		default:
			return writeError(c, fiber.StatusBadRequest, "sortBy must be cost, requests, tokens, or name")
		}
		sortOrder := strings.ToLower(strings.TrimSpace(c.Query("sortOrder", "desc")))
		if sortOrder != "asc" && sortOrder != "desc" {
			return writeError(c, fiber.StatusBadRequest, "sortOrder must be asc or desc")
		}

		return c.JSON(s.data.Breakdown(dim, q, page, limit, sortBy, sortOrder))
	}
}

func (s *Server) export(c *fiber.Ctx) error {
	var req exportRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid request body")
	}
	format := gateway.Format(strings.ToLower(strings.TrimSpace(req.Format)))
	if !format.Valid() {
		return writeError(c, fiber.StatusBadRequest, "format must be csv or json")
	}
	q, err := queryFromPayload(req.FilterPayload)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}

	rows := s.data.ExportRows(q)
	var buf bytes.Buffer
	switch format {
	case gateway.FormatCSV:
		if err := writeCSV(&buf, rows); err != nil {
			return writeError(c, fiber.StatusInternalServerError, err.Error())
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return writeError(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	filename := fmt.Sprintf("usage_%s_%s.%s", q.Start, q.End, format.Ext())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	c.Set(fiber.HeaderContentType, format.ContentType())
	return c.Send(buf.Bytes())
}

func (s *Server) refreshToday(c *fiber.Ctx) error {
	day := s.data.RegenerateToday()
	return c.JSON(fiber.Map{"status": "ok", "date": day})
}

func (s *Server) users(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": s.data.Users()})
}

func (s *Server) apiKeys(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": s.data.APIKeys(splitList(c.Query("userIds")))})
}

func (s *Server) filterOptions(c *fiber.Ctx) error {
	q, err := queryFromPayload(gateway.FilterPayload{
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	})
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.data.FilterOptions(q.Start, q.End))
}

func parseFilterBody(c *fiber.Ctx) (Query, error) {
	var payload gateway.FilterPayload
	if err := c.BodyParser(&payload); err != nil {
		return Query{}, fmt.Errorf("invalid request body")
	}
	return queryFromPayload(payload)
}

func queryFromPayload(p gateway.FilterPayload) (Query, error) {
	startRaw := strings.TrimSpace(p.StartDate)
	endRaw := strings.TrimSpace(p.EndDate)
	if startRaw == "" || endRaw == "" {
		return Query{}, fmt.Errorf("startDate and endDate are required")
	}
	start, err := time.Parse(dayFormat, startRaw)
	if err != nil {
		return Query{}, fmt.Errorf("invalid startDate %q", startRaw)
	}
	end, err := time.Parse(dayFormat, endRaw)
	if err != nil {
		return Query{}, fmt.Errorf("invalid endDate %q", endRaw)
	}
	if end.Before(start) {
		return Query{}, fmt.Errorf("endDate precedes startDate")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxRangeDays {
		return Query{}, fmt.Errorf("date range spans %d days, limit is %d", days, maxRangeDays)
	}
	return Query{
		Start: start.Format(dayFormat),
		End:   end.Format(dayFormat),
		Users: idSet(p.UserIDs),
		Model: idSet(p.ModelIDs),
		Keys:  idSet(p.APIKeyIDs),
	}, nil
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if value, err := strconv.Atoi(raw); err == nil && value > 0 {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil
	}
	parts := strings.Split(clean, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			values = append(values, id)
		}
	}
	return values
}

func writeCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "user_id", "user_name", "model", "provider", "requests", "input_tokens", "output_tokens", "cost"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Date,
			r.UserID,
			r.UserName,
			r.Model,
			r.Provider,
			strconv.FormatInt(r.Requests, 10),
			strconv.FormatInt(r.InputTokens, 10),
			strconv.FormatInt(r.OutputTokens, 10),
			r.Cost.StringFixed(6),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
