// Package tokens keeps the JWT session cookie fresh.
//
// The cookie jar is the only place the token lives. GetToken decodes the
// cookie on every call and refreshes it through the refresh endpoint when
// it is missing, unreadable or expired. Concurrent refreshes for one cookie
// collapse into a single POST.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/aussiebroadwan/tabsession/pkg/flight"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
)

// State is the last known state of the session token.
type State int32

const (
	// StateExpired: no usable token, either absent, unreadable or past exp.
	StateExpired State = iota
	StateFresh
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Doer sends a request. *httpx.Client and *http.Client both qualify; the
// latter must share the jar given to New so refresh cookies land there.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes where the token lives and how to refresh it.
type Config struct {
	// RefreshURL receives an empty POST that re-issues the cookie.
	RefreshURL string

	// CookieName is the cookie holding the JWT.
	CookieName string

	// Origin is the URL cookies are read for, normally the application base
	// URL.
	Origin *url.URL
}

// Service implements the token life cycle for one cookie.
type Service struct {
	cfg    Config
	jar    *cookiestore.Jar
	http   Doer
	group  flight.Group[*jwtx.Claims]
	state  atomic.Int32
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service reading the cookie from jar and refreshing through
// client.
func New(cfg Config, jar *cookiestore.Jar, client Doer, opts ...Option) (*Service, error) {
	switch {
	case cfg.RefreshURL == "":
		return nil, errors.New("tokens: refresh url is required")
	case cfg.CookieName == "":
		return nil, errors.New("tokens: cookie name is required")
	case cfg.Origin == nil || cfg.Origin.Host == "":
		return nil, errors.New("tokens: origin is required")
	case jar == nil:
		return nil, errors.New("tokens: cookie jar is required")
	case client == nil:
		return nil, errors.New("tokens: http client is required")
	}

	s := &Service{
		cfg:    cfg,
		jar:    jar,
		http:   client,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CookieName returns the name of the JWT cookie.
func (s *Service) CookieName() string { return s.cfg.CookieName }

// State reports the latest observed state.
func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) setState(st State) { s.state.Store(int32(st)) }

// Decode returns the claims in the current cookie. A missing cookie yields
// (nil, nil); a malformed one yields a *jwtx.DecodeError.
func (s *Service) Decode(ctx context.Context) (*jwtx.Claims, error) {
	c, err := s.jar.Get(ctx, s.cfg.Origin, s.cfg.CookieName)
	if errors.Is(err, cookiestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return jwtx.Decode(c.Value)
}

// GetToken returns fresh claims, refreshing when the cookie is absent,
// unreadable or expired, or when forceRefresh is set. (nil, nil) means the
// session is anonymous.
func (s *Service) GetToken(ctx context.Context, forceRefresh bool) (*jwtx.Claims, error) {
	claims, err := s.Decode(ctx)
	if err != nil {
		attrs := []any{"cookie", s.cfg.CookieName, "err", err}
		var derr *jwtx.DecodeError
		if errors.As(err, &derr) {
			attrs = append(attrs, "cookie_len", len(derr.CookieValue))
		}
		s.logger.Warn("failed to decode jwt cookie, treating as expired", attrs...)
		claims = nil
	}

	if !forceRefresh && !jwtx.IsExpired(claims, s.now()) {
		s.setState(StateFresh)
		return claims, nil
	}

	if s.State() != StateRefreshing {
		s.setState(StateExpired)
	}
	return s.Refresh(ctx)
}

// Refresh asks the server to re-issue the cookie and returns its claims.
// Concurrent calls share one request. A 401 clears the cookie and returns
// (nil, nil).
func (s *Service) Refresh(ctx context.Context) (*jwtx.Claims, error) {
	return s.group.Do(ctx, s.cfg.CookieName, s.refresh)
}

type refreshResponse struct {
	ResponseEpochSeconds *float64 `json:"response_epoch_seconds"`
}

func (s *Service) refresh(ctx context.Context) (*jwtx.Claims, error) {
	s.setState(StateRefreshing)
	log := s.logger.With("cookie", s.cfg.CookieName)

	ctx = httpx.WithOptions(ctx, httpx.RequestOptions{Public: true, CSRFExempt: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RefreshURL, http.NoBody)
	if err != nil {
		s.setState(StateFailed)
		return nil, &RefreshError{RefreshURL: s.cfg.RefreshURL, Err: httpx.NewConfigError(nil, err)}
	}

	start := s.now()
	resp, err := s.http.Do(req)
	end := s.now()

	if nerr := httpx.Normalize(req, resp, err); nerr != nil {
		var apiErr *httpx.APIError
		if errors.As(nerr, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			if err := s.RemoveCookie(ctx); err != nil {
				log.Warn("failed to remove jwt cookie after 401", "err", err)
			}
			s.setState(StateExpired)
			log.Info("refresh rejected, session is anonymous")
			return nil, nil
		}

		s.setState(StateFailed)
		log.Error("jwt refresh failed", "err", nerr)
		return nil, &RefreshError{RefreshURL: s.cfg.RefreshURL, Err: nerr}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var serverEpoch int64
	var rr refreshResponse
	if json.Unmarshal(body, &rr) == nil && rr.ResponseEpochSeconds != nil {
		serverEpoch = int64(*rr.ResponseEpochSeconds)
		drift := time.Unix(serverEpoch, 0).Sub(end)
		log.Debug("jwt refresh clock drift", "server_epoch", serverEpoch, "drift_ms", drift.Milliseconds())
	}

	claims, derr := s.Decode(ctx)
	if claims == nil {
		s.setState(StateFailed)
		e := &UnexpectedEmptyTokenError{
			CookieName:   s.cfg.CookieName,
			Status:       resp.StatusCode,
			ResponseData: httpx.RedactBody(resp.Header.Get("Content-Type"), body),
			RequestStart: start,
			RequestEnd:   end,
			ServerEpoch:  serverEpoch,
			Err:          derr,
		}
		log.Error("jwt refresh returned no token", "err", e)
		return nil, e
	}

	s.setState(StateFresh)
	log.Debug("jwt refreshed",
		"user_id", claims.UserID,
		"duration_ms", end.Sub(start).Milliseconds(),
	)
	return claims, nil
}

// RemoveCookie deletes the JWT cookie.
func (s *Service) RemoveCookie(ctx context.Context) error {
	return s.jar.Remove(ctx, s.cfg.Origin, s.cfg.CookieName)
}

// Reset forgets any in-flight refresh and the recorded state. For test
// harnesses.
func (s *Service) Reset() {
	s.group.Forget(s.cfg.CookieName)
	s.setState(StateExpired)
}
