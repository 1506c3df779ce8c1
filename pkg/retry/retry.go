package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/cenkalti/backoff/v4"
)

// Predicate decides whether a failed attempt is worth replaying. req is nil
// when the call being retried is not an HTTP request.
type Predicate func(req *http.Request, err error) bool

// ResponseError is implemented by errors that may carry an HTTP response.
// A non-zero StatusCode means the server answered, so the failure is not a
// connectivity problem and is never retried by DefaultShouldRetry.
type ResponseError interface {
	error
	StatusCode() int
}

// Policy configures retries.
type Policy struct {
	// MaxRetries is the number of replays after the first attempt. Zero means
	// DefaultMaxRetries, a negative value disables retries.
	MaxRetries int

	// MaxBackoff caps a single delay. Zero means DefaultMaxBackoff.
	MaxBackoff time.Duration

	// ShouldRetry defaults to DefaultShouldRetry.
	ShouldRetry Predicate

	// Timer drives the waits between attempts. Nil uses a real timer.
	Timer backoff.Timer

	// Rand returns jitter in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

func (p Policy) maxRetries() int {
	switch {
	case p.MaxRetries < 0:
		return 0
	case p.MaxRetries == 0:
		return DefaultMaxRetries
	default:
		return p.MaxRetries
	}
}

// DefaultShouldRetry retries failures that got no response from the server,
// provided the request can be sent again. Cancelled or timed out contexts
// are never retried.
//
// Every HTTP method is retried, POST included, so a request the server
// received but never answered may be applied twice. Use IdempotentOnly to
// narrow this.
func DefaultShouldRetry(req *http.Request, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var re ResponseError
	if errors.As(err, &re) && re.StatusCode() != 0 {
		return false
	}

	return req == nil || Replayable(req)
}

// IdempotentOnly behaves like DefaultShouldRetry but refuses to replay
// requests whose method is not idempotent.
func IdempotentOnly(req *http.Request, err error) bool {
	if req != nil {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions,
			http.MethodPut, http.MethodDelete, http.MethodTrace:
		default:
			return false
		}
	}
	return DefaultShouldRetry(req, err)
}

// Replayable reports whether req can be sent more than once.
func Replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// Do calls op, replaying it under p while it fails with a retryable error.
//
// A first failure that is not retryable is returned as is. When every retry
// also fails, the error from the FIRST attempt is returned so callers see
// the failure that started the sequence. If ctx is done by the time retrying
// stops, ctx.Err() is returned instead.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, p, nil, p.maxRetries(), func(int) (T, error) {
		return op(ctx)
	})
}

// run drives op through the backoff loop. op receives the attempt number,
// starting at 0.
func run[T any](
	ctx context.Context,
	p Policy,
	req *http.Request,
	maxRetries int,
	op func(attempt int) (T, error),
) (T, error) {
	var zero T

	if maxRetries <= 0 {
		return op(0)
	}

	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var (
		res     T
		first   error
		attempt int
	)

	operation := func() error {
		v, err := op(attempt)
		attempt++
		if err == nil {
			res = v
			return nil
		}
		if first == nil {
			first = err
		}
		if !shouldRetry(req, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	logger := slogx.FromContext(ctx)
	notify := func(err error, delay time.Duration) {
		attrs := []any{
			"retry", attempt,
			"max_retries", maxRetries,
			"delay_ms", delay.Milliseconds(),
			"err", err,
		}
		if req != nil {
			attrs = append(attrs, "method", req.Method, "url", req.URL.Redacted())
		}
		logger.Warn("retrying request", attrs...)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&Backoff{MaxBackoff: p.MaxBackoff, Rand: p.Rand}, uint64(maxRetries)),
		ctx,
	)

	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.Timer)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	return zero, first
}
