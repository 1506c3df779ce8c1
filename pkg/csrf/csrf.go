// Package csrf fetches and caches CSRF tokens, one per domain.
//
// A token is fetched the first time a domain needs one and kept until
// ClearCache. Concurrent misses for one domain share a single fetch.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"sync"

	"github.com/aussiebroadwan/tabsession/pkg/flight"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
)

// ErrEmptyToken means the CSRF endpoint answered without a token.
var ErrEmptyToken = errors.New("csrf: empty token in response")

// FetchError wraps any failure to obtain a CSRF token. RequestURL is the URL
// of the request that needed the token.
type FetchError struct {
	RequestURL string
	Domain     string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("[getCsrfToken] %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) CustomAttributes() map[string]any {
	attrs := map[string]any{}
	var a httpx.Attributer
	if errors.As(e.Err, &a) {
		maps.Copy(attrs, a.CustomAttributes())
	} else {
		attrs["httpErrorType"] = string(httpx.ErrorTypeUnknown)
	}
	attrs["httpErrorMessage"] = e.Error()
	attrs["csrfRequestUrl"] = e.RequestURL
	attrs["csrfDomain"] = e.Domain
	return attrs
}

// Doer sends a request. *httpx.Client and *http.Client both qualify.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service is the CSRF token cache.
type Service struct {
	apiPath string
	origin  *url.URL
	http    Doer
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
	seen  map[string]struct{}
	group flight.Group[string]
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service fetching tokens from apiPath on each domain. origin
// stands in for request URLs that are relative or unparsable.
func New(apiPath string, origin *url.URL, client Doer, opts ...Option) (*Service, error) {
	switch {
	case apiPath == "":
		return nil, errors.New("csrf: token api path is required")
	case origin == nil || origin.Host == "":
		return nil, errors.New("csrf: origin is required")
	case client == nil:
		return nil, errors.New("csrf: http client is required")
	}

	s := &Service{
		apiPath: apiPath,
		origin:  origin,
		http:    client,
		logger:  slog.Default(),
		cache:   make(map[string]string),
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetToken returns the CSRF token for the domain of requestURL, fetching it
// on a cache miss.
func (s *Service) GetToken(ctx context.Context, requestURL string) (string, error) {
	scheme, domain := s.target(requestURL)

	if token, ok := s.Cached(domain); ok {
		return token, nil
	}

	token, err := s.group.Do(ctx, domain, func(ctx context.Context) (string, error) {
		// A fetch for this domain may have settled between the miss above
		// and joining the group.
		if token, ok := s.Cached(domain); ok {
			return token, nil
		}
		return s.fetch(ctx, scheme, domain)
	})
	if err != nil {
		return "", &FetchError{RequestURL: requestURL, Domain: domain, Err: err}
	}
	return token, nil
}

// target resolves requestURL to the scheme and domain (host[:port]) the
// token is fetched from.
func (s *Service) target(requestURL string) (scheme, domain string) {
	u, err := url.Parse(requestURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u = s.origin
	}
	return u.Scheme, u.Host
}

type tokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

func (s *Service) fetch(ctx context.Context, scheme, domain string) (string, error) {
	s.mu.Lock()
	s.seen[domain] = struct{}{}
	s.mu.Unlock()

	endpoint := (&url.URL{Scheme: scheme, Host: domain}).JoinPath(s.apiPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", httpx.NewConfigError(nil, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if nerr := httpx.Normalize(req, resp, err); nerr != nil {
		s.logger.Warn("csrf token fetch failed", "domain", domain, "err", nerr)
		return "", nerr
	}
	defer resp.Body.Close()

	var out tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("csrf: decode token response: %w", err)
	}
	if out.CSRFToken == "" {
		return "", ErrEmptyToken
	}

	s.mu.Lock()
	s.cache[domain] = out.CSRFToken
	s.mu.Unlock()

	s.logger.Debug("csrf token cached", "domain", domain)
	return out.CSRFToken, nil
}

// Cached returns the cached token for domain (host[:port]).
func (s *Service) Cached(domain string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.cache[domain]
	return token, ok
}

// ClearCache drops every cached token so the next request refetches.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
}

// Reset clears the cache and forgets in-flight fetches. For test harnesses.
func (s *Service) Reset() {
	s.mu.Lock()
	for domain := range s.seen {
		s.group.Forget(domain)
	}
	clear(s.seen)
	clear(s.cache)
	s.mu.Unlock()
}
