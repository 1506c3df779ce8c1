// Package retry replays failed outbound calls with jittered exponential
// backoff. The delay schedule is exposed as a cenkalti/backoff BackOff so it
// composes with that package's retry loop, timers and context handling.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries = 2
	DefaultMaxBackoff = 16 * time.Second
)

// ComputeBackoff returns the delay before the nth retry (n counts from 1):
// 2^n seconds plus up to one second of jitter, capped at maxBackoff. A zero
// maxBackoff means DefaultMaxBackoff.
func ComputeBackoff(n int, maxBackoff time.Duration) time.Duration {
	return computeBackoff(n, maxBackoff, rand.Float64())
}

func computeBackoff(n int, maxBackoff time.Duration, jitter float64) time.Duration {
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if n < 0 {
		n = 0
	}

	ms := math.Round((math.Pow(2, float64(n)) + jitter) * 1000)
	if ms >= float64(maxBackoff.Milliseconds()) {
		return maxBackoff
	}
	return time.Duration(ms) * time.Millisecond
}

// Backoff is a backoff.BackOff following ComputeBackoff. It never stops on
// its own; bound it with backoff.WithMaxRetries.
type Backoff struct {
	MaxBackoff time.Duration

	// Rand returns jitter in [0, 1). Nil means math/rand/v2.
	Rand func() float64

	n int
}

var _ backoff.BackOff = (*Backoff)(nil)

func (b *Backoff) NextBackOff() time.Duration {
	b.n++

	jitter := rand.Float64
	if b.Rand != nil {
		jitter = b.Rand
	}
	return computeBackoff(b.n, b.MaxBackoff, jitter())
}

func (b *Backoff) Reset() { b.n = 0 }
