package retry_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/retry"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately and records every requested delay.
type instantTimer struct {
	mu     sync.Mutex
	c      chan time.Time
	delays []time.Duration
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func (t *instantTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

func half() float64 { return 0.5 }

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestComputeBackoffBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := retry.ComputeBackoff(1, 0)
		require.GreaterOrEqual(t, d, 2000*time.Millisecond)
		require.LessOrEqual(t, d, 3000*time.Millisecond)

		d = retry.ComputeBackoff(2, 0)
		require.GreaterOrEqual(t, d, 4000*time.Millisecond)
		require.LessOrEqual(t, d, 5000*time.Millisecond)

		d = retry.ComputeBackoff(3, 0)
		require.GreaterOrEqual(t, d, 8000*time.Millisecond)
		require.LessOrEqual(t, d, 9000*time.Millisecond)

		require.Equal(t, 16*time.Second, retry.ComputeBackoff(4, 0))
		require.Equal(t, 16*time.Second, retry.ComputeBackoff(10, 16*time.Second))
	}

	require.Equal(t, 3*time.Second, retry.ComputeBackoff(2, 3*time.Second))
}

func TestBackoffSequence(t *testing.T) {
	b := &retry.Backoff{Rand: half}

	require.Equal(t, 2500*time.Millisecond, b.NextBackOff())
	require.Equal(t, 4500*time.Millisecond, b.NextBackOff())
	require.Equal(t, 8500*time.Millisecond, b.NextBackOff())
	require.Equal(t, 16*time.Second, b.NextBackOff())

	b.Reset()
	require.Equal(t, 2500*time.Millisecond, b.NextBackOff())
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("exhaustion returns first error", func(t *testing.T) {
		timer := newInstantTimer()
		var errs []error
		_, err := retry.Do(ctx, retry.Policy{Timer: timer, Rand: half}, func(context.Context) (int, error) {
			e := fmt.Errorf("attempt %d", len(errs)+1)
			errs = append(errs, e)
			return 0, e
		})

		require.Len(t, errs, 3)
		require.ErrorIs(t, err, errs[0])
		require.NotErrorIs(t, err, errs[2])
		require.Equal(t, []time.Duration{2500 * time.Millisecond, 4500 * time.Millisecond}, timer.Delays())
	})

	t.Run("recovers on retry", func(t *testing.T) {
		calls := 0
		v, err := retry.Do(ctx, retry.Policy{Timer: newInstantTimer()}, func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("connection reset")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		require.Equal(t, "ok", v)
		require.Equal(t, 2, calls)
	})

	t.Run("response errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(ctx, retry.Policy{Timer: newInstantTimer()}, func(context.Context) (int, error) {
			calls++
			return 0, statusErr(503)
		})
		require.Equal(t, statusErr(503), err)
		require.Equal(t, 1, calls)
	})

	t.Run("context errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(ctx, retry.Policy{Timer: newInstantTimer()}, func(context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("dial: %w", context.DeadlineExceeded)
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Equal(t, 1, calls)
	})

	t.Run("negative max retries disables", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(ctx, retry.Policy{MaxRetries: -1}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("custom max retries", func(t *testing.T) {
		calls := 0
		_, _ = retry.Do(ctx, retry.Policy{MaxRetries: 4, Timer: newInstantTimer()}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		require.Equal(t, 5, calls)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		_, err := retry.Do(cctx, retry.Policy{MaxBackoff: time.Hour}, func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// flaky fails the first n requests with a connection error and records the
// bodies it was sent.
func flaky(n int) (http.RoundTripper, *[]string) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()

		var b []byte
		if r.Body != nil {
			b, _ = io.ReadAll(r.Body)
			_ = r.Body.Close()
		}
		bodies = append(bodies, string(b))
		if len(bodies) <= n {
			return nil, errors.New("connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("ok")),
			Request:    r,
		}, nil
	})
	return rt, &bodies
}

func TestTransport(t *testing.T) {
	t.Run("replays body", func(t *testing.T) {
		next, bodies := flaky(2)
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer()}, next)

		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/things", bytes.NewBufferString(`{"a":1}`))
		require.NoError(t, err)

		resp, err := tr.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, []string{`{"a":1}`, `{"a":1}`, `{"a":1}`}, *bodies)
	})

	t.Run("error responses pass through", func(t *testing.T) {
		calls := 0
		next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return &http.Response{StatusCode: http.StatusBadGateway, Body: http.NoBody, Request: r}, nil
		})
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer()}, next)

		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
		require.NoError(t, err)
		resp, err := tr.RoundTrip(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, 1, calls)
	})

	t.Run("non-rewindable body is not retried", func(t *testing.T) {
		next, bodies := flaky(1)
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer()}, next)

		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/", io.NopCloser(strings.NewReader("x")))
		require.NoError(t, err)
		require.Nil(t, req.GetBody)

		_, err = tr.RoundTrip(req)
		require.Error(t, err)
		require.Len(t, *bodies, 1)
	})

	t.Run("per request override", func(t *testing.T) {
		next, bodies := flaky(10)
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer()}, next)
		tr.MaxRetriesFunc = func(*http.Request) (int, bool) { return 4, true }

		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
		require.NoError(t, err)
		_, err = tr.RoundTrip(req)
		require.Error(t, err)
		require.Len(t, *bodies, 5)
	})

	t.Run("exhaustion returns first error", func(t *testing.T) {
		var errs []error
		next := roundTripFunc(func(*http.Request) (*http.Response, error) {
			e := fmt.Errorf("dial attempt %d", len(errs)+1)
			errs = append(errs, e)
			return nil, e
		})
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer()}, next)

		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
		require.NoError(t, err)
		_, err = tr.RoundTrip(req)
		require.Len(t, errs, 3)
		require.ErrorIs(t, err, errs[0])
	})

	t.Run("idempotent only skips post", func(t *testing.T) {
		next, bodies := flaky(1)
		tr := retry.NewTransport(retry.Policy{Timer: newInstantTimer(), ShouldRetry: retry.IdempotentOnly}, next)

		req, err := http.NewRequest(http.MethodPost, "https://api.example.com/", bytes.NewBufferString("x"))
		require.NoError(t, err)
		_, err = tr.RoundTrip(req)
		require.Error(t, err)
		require.Len(t, *bodies, 1)

		req, err = http.NewRequest(http.MethodPut, "https://api.example.com/", bytes.NewBufferString("x"))
		require.NoError(t, err)
		resp, err := tr.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()
	})
}
