package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/usagedeck/usagedeck/internal/config"
)

// Policy bounds automatic retries of retryable failures. Backoff doubles
// from InitialBackoff up to MaxBackoff; MaxRetries counts retries, not
// attempts, so a policy of 3 issues at most 4 requests.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnRetry is invoked before each backoff sleep, once per retry.
	OnRetry func(endpoint string)

	sleep func(context.Context, time.Duration) error
}

// NewPolicy builds a policy from validated configuration.
func NewPolicy(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable failure, or the
// retry budget is spent. The last failure is returned unchanged so its
// category and metadata survive.
func (p Policy) Do(ctx context.Context, endpoint string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	backoff := p.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}
		slog.Debug("retrying gateway request",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if p.OnRetry != nil {
			p.OnRetry(endpoint)
		}
		if serr := sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
