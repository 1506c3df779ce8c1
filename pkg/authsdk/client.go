package authsdk

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/aussiebroadwan/tabsession/pkg/cryptox"
	"github.com/aussiebroadwan/tabsession/pkg/csrf"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/retry"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tokens"
	"github.com/cenkalti/backoff/v4"
)

// Client owns one session: the cookie jar, the token and CSRF services and
// the HTTP clients built on them. Create one per application and share it.
type Client struct {
	cfg    Config
	origin *url.URL
	logger *slog.Logger

	jar    *cookiestore.Jar
	tokens *tokens.Service
	csrf   *csrf.Service

	authenticated *httpx.Client
	plain         *httpx.Client

	mu   sync.RWMutex
	user *AuthenticatedUser
}

type options struct {
	backend   cookiestore.Backend
	sealer    cryptox.Sealer
	logger    *slog.Logger
	transport http.RoundTripper
	timer     backoff.Timer
}

type Option func(*options)

// WithBackend stores cookies in b instead of memory.
func WithBackend(b cookiestore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithSealer encrypts cookie values at rest.
func WithSealer(s cryptox.Sealer) Option {
	return func(o *options) { o.sealer = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransport replaces http.DefaultTransport as the innermost transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRetryTimer drives retry waits with t, for tests.
func WithRetryTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// New validates cfg and wires the session.
//
// Outbound requests pass through, outermost first: request logging with
// X-Request-ID, retries, per-host rate limiting, then the transport.
func New(cfg Config, opts ...Option) (*Client, error) {
	if errs := cfg.Validate(); errs != nil {
		return nil, &ConfigError{Fields: errs}
	}
	cfg = cfg.withDefaults()

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "authsdk")

	origin, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	jarOpts := []cookiestore.Option{cookiestore.WithLogger(logger)}
	if o.sealer != nil {
		jarOpts = append(jarOpts, cookiestore.WithSealer(o.sealer))
	}
	jar := cookiestore.New(o.backend, jarOpts...)

	rt := &retry.Transport{
		Next: httpx.NewRateLimitTransport(cfg.RateLimit, o.transport),
		Policy: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			MaxBackoff: cfg.MaxBackoff,
			Timer:      o.timer,
		},
		MaxRetriesFunc: httpx.MaxRetriesOverride,
	}

	hc := &http.Client{
		Jar:       jar,
		Transport: slogx.Transport(logger, rt),
	}
	if cfg.RequestTimeout > 0 {
		hc.Timeout = cfg.RequestTimeout
	}
	plain := httpx.NewClient(hc)

	tokenSvc, err := tokens.New(tokens.Config{
		RefreshURL: cfg.RefreshURL,
		CookieName: cfg.CookieName,
		Origin:     origin,
	}, jar, plain, tokens.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	csrfSvc, err := csrf.New(cfg.CSRFTokenAPIPath, origin, plain, csrf.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		origin: origin,
		logger: logger,
		jar:    jar,
		tokens: tokenSvc,
		csrf:   csrfSvc,
		authenticated: httpx.NewClient(hc,
			httpx.CSRFInterceptor(csrfSvc),
			httpx.JWTInterceptor(tokenSvc),
		),
		plain: plain,
	}, nil
}

// Config returns the config with defaults applied.
func (c *Client) Config() Config { return c.cfg }

// AuthenticatedHTTPClient returns the client that adds CSRF tokens to
// unsafe requests and keeps the JWT cookie fresh before every non-public
// request. Failures are *httpx.APIError or a typed service error.
func (c *Client) AuthenticatedHTTPClient() *httpx.Client { return c.authenticated }

// HTTPClient returns a client sharing the cookie jar, retries and error
// normalization but without the CSRF and JWT interceptors.
func (c *Client) HTTPClient() *httpx.Client { return c.plain }

// Jar returns the cookie jar.
func (c *Client) Jar() *cookiestore.Jar { return c.jar }

// Tokens returns the token service.
func (c *Client) Tokens() *tokens.Service { return c.tokens }

// CSRF returns the CSRF token service.
func (c *Client) CSRF() *csrf.Service { return c.csrf }
