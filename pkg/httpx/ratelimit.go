package httpx

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether cfg describes a usable limit.
func (cfg RateLimitConfig) Enabled() bool {
	return cfg.RequestsPerWindow > 0 && cfg.Window > 0
}

// OutboundLimit is the default per-host limit for outbound requests: 600
// per minute with bursts of 50.
// Override with: RATELIMIT_OUTBOUND_REQUESTS, RATELIMIT_OUTBOUND_WINDOW_SEC, RATELIMIT_OUTBOUND_BURST
var OutboundLimit = RateLimitConfig{
	RequestsPerWindow: 600,
	Window:            time.Minute,
	Burst:             50,
}

func init() {
	OutboundLimit = ParseRateLimitFromEnv("OUTBOUND", OutboundLimit)
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_OUTBOUND_REQUESTS, RATELIMIT_OUTBOUND_WINDOW_SEC, RATELIMIT_OUTBOUND_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// KeyExtractor groups outbound requests for rate limiting.
type KeyExtractor func(*http.Request) string

// HostKeyExtractor limits per destination host (including port).
func HostKeyExtractor(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Host
}

// rateLimiter manages rate limiters for different keys
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	// Cleanup old limiters periodically
	lastCleanup time.Time
}

func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)

	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket is full, i.e. hosts that have not
// been contacted recently.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitTransport delays outbound requests so no host receives more than
// the configured rate. Requests wait for a token instead of failing; a
// context that ends first aborts the request.
type RateLimitTransport struct {
	next   http.RoundTripper
	rl     *rateLimiter
	keyFn  KeyExtractor
	config RateLimitConfig
}

// NewRateLimitTransport limits requests through next per host. A disabled
// config means OutboundLimit.
func NewRateLimitTransport(config RateLimitConfig, next http.RoundTripper) *RateLimitTransport {
	if !config.Enabled() {
		config = OutboundLimit
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if next == nil {
		next = http.DefaultTransport
	}

	ratePerSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()

	return &RateLimitTransport{
		next: next,
		rl: &rateLimiter{
			rate:        rate.Limit(ratePerSecond),
			burst:       config.Burst,
			lastCleanup: time.Now(),
		},
		keyFn:  HostKeyExtractor,
		config: config,
	}
}

func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	key := t.keyFn(req)
	if key == "" {
		return t.next.RoundTrip(req)
	}

	limiter := t.rl.getLimiter(key)
	if !limiter.Allow() {
		start := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			closeBody(req)
			return nil, err
		}
		slogx.FromContext(ctx).Debug("rate limit delayed request",
			"host", key,
			"waited_ms", time.Since(start).Milliseconds(),
			"limit", t.config.RequestsPerWindow,
			"window", t.config.Window.String(),
		)
	}

	return t.next.RoundTrip(req)
}
