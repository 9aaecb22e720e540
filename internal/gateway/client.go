package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/filters"
	"github.com/usagedeck/usagedeck/internal/observability"
	"github.com/usagedeck/usagedeck/internal/pagination"
	"github.com/usagedeck/usagedeck/internal/version"
)

const tracerName = "usagedeck/gateway"

var (
	ErrMissingBaseURL = errors.New("gateway: base url required")
	ErrMissingTokens  = errors.New("gateway: token source required")
)

// TokenSource supplies the bearer token attached to every request. Token
// lifecycle (issuing, refreshing, revocation) belongs to the auth
// collaborator, not this package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken adapts a fixed token string into a TokenSource.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Options configures a Client.
type Options struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Retry      Policy
	Metrics    *observability.Provider
	UserAgent  string
}

// Client talks to the admin usage API. All methods are safe for concurrent
// use and return *Error on failure.
type Client struct {
	baseURL string
	tokens  TokenSource
	httpc   *http.Client
	retry   Policy
	metrics *observability.Provider
	ua      string
}

// New builds a client. BaseURL and Tokens are required.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	if opts.Tokens == nil {
		return nil, ErrMissingTokens
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}

	c := &Client{
		baseURL: base,
		tokens:  opts.Tokens,
		httpc:   httpc,
		retry:   opts.Retry,
		metrics: opts.Metrics,
		ua:      ua,
	}
	if c.retry.OnRetry == nil && opts.Metrics != nil {
		metrics := opts.Metrics
		c.retry.OnRetry = func(endpoint string) { metrics.RecordRetry(endpoint) }
	}
	return c, nil
}

// FromConfig builds a client from validated configuration sections.
func FromConfig(gw config.GatewayConfig, retry config.RetryConfig, metrics *observability.Provider) (*Client, error) {
	return New(Options{
		BaseURL:    gw.BaseURL,
		Tokens:     StaticToken(gw.Token),
		HTTPClient: &http.Client{Timeout: gw.Timeout},
		Retry:      NewPolicy(retry),
		Metrics:    metrics,
	})
}

// Analytics fetches the window-wide aggregate for the filter set.
func (c *Client) Analytics(ctx context.Context, f filters.FilterSet) (*Analytics, error) {
	var out Analytics
	if err := c.postJSON(ctx, "/admin/usage/analytics", nil, PayloadFromFilters(f), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Breakdown fetches one page of the requested breakdown table.
func (c *Client) Breakdown(ctx context.Context, dim Dimension, f filters.FilterSet, page pagination.State) (*PagedBreakdown, error) {
	if !dim.Valid() {
		return nil, &Error{Category: CategoryValidation, Message: fmt.Sprintf("unknown breakdown dimension %q", dim)}
	}
	var out PagedBreakdown
	if err := c.postJSON(ctx, dim.endpoint(), page.Query(), PayloadFromFilters(f), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export runs a synchronous export and returns the encoded payload.
func (c *Client) Export(ctx context.Context, f filters.FilterSet, format Format) (*ExportResult, error) {
	const endpoint = "/admin/usage/export"
	if !format.Valid() {
		return nil, &Error{Category: CategoryValidation, Endpoint: endpoint, Message: fmt.Sprintf("unsupported export format %q", format)}
	}
	payload, err := json.Marshal(exportRequest{FilterPayload: PayloadFromFilters(f), Format: string(format)})
	if err != nil {
		return nil, &Error{Category: CategoryGeneric, Endpoint: endpoint, Message: "encode request: " + err.Error(), cause: err}
	}
	data, headers, err := c.do(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return nil, err
	}
	res := &ExportResult{Data: data, ContentType: headers.Get("Content-Type")}
	if res.ContentType == "" {
		res.ContentType = format.ContentType()
	}
	if _, params, perr := mime.ParseMediaType(headers.Get("Content-Disposition")); perr == nil {
		res.Filename = params["filename"]
	}
	return res, nil
}

// RefreshToday asks the backend to recompute today's usage partition.
func (c *Client) RefreshToday(ctx context.Context) error {
	return c.postJSON(ctx, "/admin/usage/refresh-today", nil, nil, nil)
}

// Users lists the users selectable in the user filter.
func (c *Client) Users(ctx context.Context) ([]UserOption, error) {
	var out listEnvelope[UserOption]
	if err := c.getJSON(ctx, "/admin/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// APIKeys lists API keys, optionally restricted to the given owners.
func (c *Client) APIKeys(ctx context.Context, userIDs []string) ([]APIKeyOption, error) {
	var query url.Values
	if len(userIDs) > 0 {
		query = url.Values{"userIds": []string{strings.Join(userIDs, ",")}}
	}
	var out listEnvelope[APIKeyOption]
	if err := c.getJSON(ctx, "/admin/api-keys", query, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FilterOptions lists the model and provider values with usage inside rng.
func (c *Client) FilterOptions(ctx context.Context, rng daterange.DateRange) (*FilterOptions, error) {
	query := url.Values{}
	query.Set("startDate", rng.StartString())
	query.Set("endDate", rng.EndString())
	var out FilterOptions
	if err := c.getJSON(ctx, "/admin/usage/filter-options", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Category: CategoryGeneric, Endpoint: path, Message: "encode request: " + err.Error(), cause: err}
		}
		payload = b
	}
	data, _, err := c.do(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		return err
	}
	return decodeBody(path, data, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decodeBody(path, data, out)
}

func decodeBody(path string, data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Category: CategoryGeneric, Endpoint: path, Message: "decode response: " + err.Error(), cause: err}
	}
	return nil
}

// do issues one logical request, retrying per policy. Each attempt builds a
// fresh *http.Request so bodies and request ids are never reused.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, http.Header, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+path)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("gateway.endpoint", path),
	)

	var (
		body    []byte
		headers http.Header
	)
	attempt := func() error {
		req, err := c.newRequest(ctx, method, path, query, payload)
		if err != nil {
			return err
		}
		start := time.Now()
		resp, err := c.httpc.Do(req)
		if err != nil {
			c.metrics.RecordGatewayRequest(ctx, path, 0, time.Since(start))
			return classify(path, nil, nil, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		c.metrics.RecordGatewayRequest(ctx, path, resp.StatusCode, time.Since(start))
		if err != nil {
			return classify(path, nil, nil, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classify(path, resp, data, nil)
		}
		body = data
		headers = resp.Header
		return nil
	}

	if err := c.retry.Do(ctx, path, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Categorize(err).Category))
		slog.Warn("gateway request failed", "method", method, "endpoint", path, "error", err)
		return nil, nil, err
	}
	span.SetStatus(codes.Ok, "")
	return body, headers, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Category: CategoryAuth, Endpoint: path, Message: "obtain token: " + err.Error(), cause: err}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, &Error{Category: CategoryGeneric, Endpoint: path, Message: err.Error(), cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
