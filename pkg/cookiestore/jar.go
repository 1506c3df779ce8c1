// Package cookiestore holds the session cookies an HTTP client presents to
// the backend. The Jar is the single source of truth for token state: the
// http.Client writes Set-Cookie responses into it and reads from it on every
// request, while the token service reads and removes the JWT cookie directly.
//
// Entries live in a Backend. The memory backend is process-local, the sqlite
// backend survives restarts and the redis backend is shared by every process
// pointed at the same server.
package cookiestore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/cryptox"
	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar backed by a Backend.
type Jar struct {
	backend Backend
	sealer  cryptox.Sealer
	logger  *slog.Logger
	now     func() time.Time
}

var _ http.CookieJar = (*Jar)(nil)

type Option func(*Jar)

// WithSealer encrypts cookie values before they reach the backend.
func WithSealer(s cryptox.Sealer) Option {
	return func(j *Jar) { j.sealer = s }
}

// WithLogger sets the logger used for backend failures surfaced through the
// http.CookieJar methods, which cannot return errors.
func WithLogger(l *slog.Logger) Option {
	return func(j *Jar) { j.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Jar) { j.now = now }
}

// New returns a Jar over backend. A nil backend means in-memory.
func New(backend Backend, opts ...Option) *Jar {
	if backend == nil {
		backend = NewMemoryBackend()
	}

	j := &Jar{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Backend returns the underlying storage.
func (j *Jar) Backend() Backend { return j.backend }

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	ctx := context.Background()
	for _, c := range cookies {
		if err := j.Set(ctx, u, c); err != nil {
			j.logger.Warn("cookie rejected", "name", c.Name, "host", u.Host, "err", err)
		}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	entries, err := j.visible(context.Background(), u, true)
	if err != nil {
		j.logger.Warn("cookie lookup failed", "host", u.Host, "err", err)
		return nil
	}

	out := make([]*http.Cookie, 0, len(entries))
	for _, e := range entries {
		out = append(out, &http.Cookie{Name: e.Name, Value: e.Value})
	}
	return out
}

// Set stores c as if it had arrived in a Set-Cookie header from u. A cookie
// that is already expired, or has a negative MaxAge, deletes the stored one.
func (j *Jar) Set(ctx context.Context, u *url.URL, c *http.Cookie) error {
	host, err := canonicalHost(u)
	if err != nil {
		return err
	}

	domain, hostOnly, err := cookieDomain(host, c.Domain)
	if err != nil {
		return err
	}

	path := c.Path
	if path == "" || path[0] != '/' {
		path = defaultPath(u.Path)
	}

	now := j.now()
	var expires time.Time
	switch {
	case c.MaxAge < 0:
		return j.backend.Delete(ctx, domain, path, c.Name)
	case c.MaxAge > 0:
		expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	case !c.Expires.IsZero():
		if !c.Expires.After(now) {
			return j.backend.Delete(ctx, domain, path, c.Name)
		}
		expires = c.Expires
	}

	value := c.Value
	if j.sealer != nil {
		if value, err = j.sealer.Seal(c.Value); err != nil {
			return fmt.Errorf("failed to seal cookie %q: %w", c.Name, err)
		}
	}

	return j.backend.Put(ctx, Entry{
		Domain:   domain,
		Path:     path,
		Name:     c.Name,
		Value:    value,
		HostOnly: hostOnly,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
		Expires:  expires,
		Created:  now,
	})
}

// Get returns the cookie called name that a request to u would carry.
// Secure cookies are returned regardless of the scheme of u.
func (j *Jar) Get(ctx context.Context, u *url.URL, name string) (*http.Cookie, error) {
	entries, err := j.visible(ctx, u, false)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Name == name {
			return &http.Cookie{
				Name:     e.Name,
				Value:    e.Value,
				Domain:   e.Domain,
				Path:     e.Path,
				Secure:   e.Secure,
				HttpOnly: e.HttpOnly,
				SameSite: e.SameSite,
				Expires:  e.Expires,
			}, nil
		}
	}
	return nil, ErrNotFound
}

// Remove deletes every cookie called name that a request to u would carry.
// Removing a missing cookie is not an error.
func (j *Jar) Remove(ctx context.Context, u *url.URL, name string) error {
	entries, err := j.visible(ctx, u, false)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if err := j.backend.Delete(ctx, e.Domain, e.Path, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every cookie from the backend.
func (j *Jar) Clear(ctx context.Context) error {
	return j.backend.Clear(ctx)
}

// visible returns the unexpired entries matching u, ordered longest path
// first then oldest first. Values are opened when a sealer is configured.
func (j *Jar) visible(ctx context.Context, u *url.URL, checkSecure bool) ([]Entry, error) {
	host, err := canonicalHost(u)
	if err != nil {
		return nil, err
	}

	all, err := j.backend.List(ctx, domainCandidates(host)...)
	if err != nil {
		return nil, err
	}

	now := j.now()
	https := u.Scheme == "https"
	path := u.Path
	if path == "" {
		path = "/"
	}

	var out []Entry
	for _, e := range all {
		if e.Expired(now) {
			_ = j.backend.Delete(ctx, e.Domain, e.Path, e.Name)
			continue
		}
		if e.HostOnly && e.Domain != host {
			continue
		}
		if checkSecure && e.Secure && !https {
			continue
		}
		if !pathMatch(e.Path, path) {
			continue
		}

		if j.sealer != nil {
			v, err := j.sealer.Open(e.Value)
			if err != nil {
				j.logger.Warn("cookie unseal failed", "name", e.Name, "domain", e.Domain, "err", err)
				continue
			}
			e.Value = v
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if len(out[a].Path) != len(out[b].Path) {
			return len(out[a].Path) > len(out[b].Path)
		}
		return out[a].Created.Before(out[b].Created)
	})
	return out, nil
}

func canonicalHost(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoHost
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", ErrNoHost
	}
	return host, nil
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}

// cookieDomain resolves the Domain attribute of a cookie received from host.
func cookieDomain(host, attr string) (domain string, hostOnly bool, err error) {
	if attr == "" {
		return host, true, nil
	}

	domain = strings.ToLower(strings.TrimPrefix(attr, "."))
	if domain == "" || strings.HasSuffix(domain, ".") {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidDomain, attr)
	}

	if isIP(host) {
		if domain != host {
			return "", false, fmt.Errorf("%w: %q on ip host", ErrInvalidDomain, attr)
		}
		return host, true, nil
	}

	// A cookie may not be scoped to a public suffix like "co.uk", except by
	// the suffix host itself, which gets a host-only cookie.
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		if host == domain {
			return host, true, nil
		}
		return "", false, fmt.Errorf("%w: %q is a public suffix", ErrInvalidDomain, attr)
	}

	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false, fmt.Errorf("%w: %q does not match %q", ErrInvalidDomain, attr, host)
	}
	return domain, false, nil
}

// domainCandidates lists host and its parent domains, most specific first.
func domainCandidates(host string) []string {
	if isIP(host) {
		return []string{host}
	}

	out := []string{host}
	for i := strings.IndexByte(host, '.'); i >= 0; i = strings.IndexByte(host, '.') {
		host = host[i+1:]
		out = append(out, host)
	}
	return out
}

// defaultPath implements the default-path algorithm of RFC 6265 5.1.4.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == reqPath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}
