package asana

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRateLimitRetries = 3
	DefaultTransientRetries = 3
	DefaultBaseBackoff      = time.Second
	DefaultRetryAfter       = 60 * time.Second
	maxBackoffShift         = 10
	retryAfterHeader        = "Retry-After"
)

// DecisionKind tells the request loop what to do with a response.
type DecisionKind int

const (
	DecisionDone DecisionKind = iota
	DecisionRetryAfter
	DecisionBackoff
	DecisionFail
)

// Decision is the outcome of classifying one attempt.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}

// RetryPolicy decides how failed attempts are retried. Rate-limit and
// transient budgets are counted separately.
type RetryPolicy struct {
	MaxRateLimitRetries int
	MaxTransientRetries int
	BaseBackoff         time.Duration
	DefaultRetryAfter   time.Duration
	Sleep               func(ctx context.Context, d time.Duration) error
	// Now resolves HTTP-date Retry-After values; defaults to time.Now.
	Now func() time.Time
}

// DefaultRetryPolicy returns the stock retry budgets.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRateLimitRetries: DefaultRateLimitRetries,
		MaxTransientRetries: DefaultTransientRetries,
		BaseBackoff:         DefaultBaseBackoff,
		DefaultRetryAfter:   DefaultRetryAfter,
		Sleep:               sleepContext,
		Now:                 time.Now,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRateLimitRetries < 0 {
		p.MaxRateLimitRetries = 0
	}
	if p.MaxTransientRetries < 0 {
		p.MaxTransientRetries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultBaseBackoff
	}
	if p.DefaultRetryAfter <= 0 {
		p.DefaultRetryAfter = DefaultRetryAfter
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

// Classify maps one attempt to a decision. err is the transport error, if any.
func (p RetryPolicy) Classify(status int, header http.Header, err error) Decision {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Decision{Kind: DecisionFail}
		}
		return Decision{Kind: DecisionBackoff}
	}
	switch {
	case status == http.StatusTooManyRequests:
		return Decision{Kind: DecisionRetryAfter, Delay: p.retryAfter(header)}
	case status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return Decision{Kind: DecisionBackoff}
	case status >= 400:
		return Decision{Kind: DecisionFail}
	default:
		return Decision{Kind: DecisionDone}
	}
}

// Backoff returns the delay before transient retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return p.BaseBackoff << shift
}

func (p RetryPolicy) retryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get(retryAfterHeader))
	if raw == "" {
		return p.DefaultRetryAfter
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return p.DefaultRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return p.DefaultRetryAfter
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if wait := at.Sub(now()); wait > 0 {
		return wait
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
