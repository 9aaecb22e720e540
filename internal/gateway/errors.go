package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/usagedeck/usagedeck/internal/daterange"
	"github.com/usagedeck/usagedeck/internal/pagination"
)

// Category classifies a failure for retry and presentation policy. Only
// network and timeout failures are ever retried automatically.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAuth       Category = "auth"
	CategoryGeneric    Category = "generic"
)

// Error is a categorized gateway failure. Every error surfaced by this
// package is one of these, so callers can switch on Category instead of
// probing transport details.
type Error struct {
	Category  Category
	Status    int
	Message   string
	Endpoint  string
	RequestID string

	// Rate limit metadata, populated when Category is CategoryRateLimit.
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time

	cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Endpoint != "" {
		return fmt.Sprintf("%s %s: %s", e.Category, e.Endpoint, msg)
	}
	return fmt.Sprintf("%s: %s", e.Category, msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the failure may be retried automatically.
// Rate limited and auth failures are deliberately excluded: the first must
// wait out its window, the second cannot succeed without a new credential.
func (e *Error) Retryable() bool {
	return e.Category == CategoryNetwork || e.Category == CategoryTimeout
}

// Countdown returns how long until a rate limited caller may try again,
// measured from now. Zero for anything that is not a rate limit failure.
func (e *Error) Countdown(now time.Time) time.Duration {
	if e.Category != CategoryRateLimit {
		return 0
	}
	if !e.ResetAt.IsZero() {
		if d := e.ResetAt.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return e.RetryAfter
}

// IsRetryable reports whether err is a gateway failure safe to retry.
func IsRetryable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Retryable()
}

// AsRateLimit extracts rate limit details from err when present.
func AsRateLimit(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) && ge.Category == CategoryRateLimit {
		return ge, true
	}
	return nil, false
}

// Categorize maps any error onto the taxonomy. Gateway errors pass through
// unchanged; local validation sentinels become CategoryValidation; anything
// unrecognized is generic.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, daterange.ErrInvalidPreset),
		errors.Is(err, daterange.ErrInvalidDate),
		errors.Is(err, daterange.ErrInvalidDateOrder),
		errors.Is(err, daterange.ErrRangeTooLarge),
		errors.Is(err, pagination.ErrInvalidPage),
		errors.Is(err, pagination.ErrInvalidPerPage),
		errors.Is(err, pagination.ErrInvalidSort):
		return &Error{Category: CategoryValidation, Message: err.Error(), cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Category: CategoryTimeout, Message: err.Error(), cause: err}
	}
	return &Error{Category: CategoryGeneric, Message: err.Error(), cause: err}
}

// classify turns a transport error or a non-2xx response into an *Error.
// Exactly one of resp/err is non-nil.
func classify(endpoint string, resp *http.Response, body []byte, err error) *Error {
	if err != nil {
		cat := CategoryNetwork
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			cat = CategoryTimeout
		}
		return &Error{Category: cat, Endpoint: endpoint, Message: err.Error(), cause: err}
	}

	e := &Error{
		Status:    resp.StatusCode,
		Endpoint:  endpoint,
		Message:   messageFromBody(body, resp.StatusCode),
		RequestID: resp.Header.Get("X-Request-ID"),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Category = CategoryRateLimit
		e.Limit = headerInt(resp.Header, "X-RateLimit-Limit")
		e.Remaining = headerInt(resp.Header, "X-RateLimit-Remaining")
		e.RetryAfter = retryAfter(resp.Header)
		if reset := headerInt(resp.Header, "X-RateLimit-Reset"); reset > 0 {
			e.ResetAt = time.Unix(int64(reset), 0)
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Category = CategoryAuth
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		e.Category = CategoryTimeout
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable:
		e.Category = CategoryNetwork
	default:
		e.Category = CategoryGeneric
	}
	return e
}

// messageFromBody pulls the message out of the {"error": "..."} body the
// gateway uses for failures, falling back to the raw body or status text.
func messageFromBody(body []byte, status int) string {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && len(trimmed) <= 200 {
		return trimmed
	}
	return http.StatusText(status)
}

func headerInt(h http.Header, key string) int {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// retryAfter parses Retry-After as delay seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
