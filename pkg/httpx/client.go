package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
)

const (
	HeaderCSRFToken    = "X-CSRFToken"
	HeaderUseJWTCookie = "USE-JWT-COOKIE"
)

// TokenProvider keeps the JWT cookie fresh. A nil claims value with a nil
// error means the session is anonymous.
type TokenProvider interface {
	GetToken(ctx context.Context, forceRefresh bool) (*jwtx.Claims, error)
}

// CSRFProvider returns the CSRF token for the domain of requestURL.
type CSRFProvider interface {
	GetToken(ctx context.Context, requestURL string) (string, error)
}

// Interceptor prepares a request before it is sent.
type Interceptor struct {
	Name  string
	Skip  Skipper
	Apply func(req *http.Request) error
}

// CSRFInterceptor attaches X-CSRFToken to unsafe, non-exempt requests.
func CSRFInterceptor(p CSRFProvider) Interceptor {
	return Interceptor{
		Name: "csrf",
		Skip: AnySkipper(SkipCSRFExempt, SkipSafeMethods),
		Apply: func(req *http.Request) error {
			token, err := p.GetToken(req.Context(), req.URL.String())
			if err != nil {
				return err
			}
			req.Header.Set(HeaderCSRFToken, token)
			return nil
		},
	}
}

// JWTInterceptor makes sure the JWT cookie is fresh before a non-public
// request goes out. The token itself travels in the cookie jar, never in a
// header.
func JWTInterceptor(p TokenProvider) Interceptor {
	return Interceptor{
		Name: "jwt",
		Skip: SkipPublic,
		Apply: func(req *http.Request) error {
			if _, err := p.GetToken(req.Context(), false); err != nil {
				return err
			}
			req.Header.Set(HeaderUseJWTCookie, "true")
			return nil
		},
	}
}

// Client sends requests through an ordered list of interceptors and
// normalizes every failure into an *APIError. Retries, logging and rate
// limiting live in the transport of the wrapped http.Client, so they finish
// before normalization sees the outcome.
type Client struct {
	HTTP         *http.Client
	interceptors []Interceptor
}

// NewClient returns a Client over hc (http.DefaultClient when nil). Pass
// interceptors in the order they should run.
func NewClient(hc *http.Client, interceptors ...Interceptor) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{HTTP: hc, interceptors: interceptors}
}

// Use appends interceptors.
func (c *Client) Use(interceptors ...Interceptor) {
	c.interceptors = append(c.interceptors, interceptors...)
}

// Interceptors returns the names of the registered interceptors in order.
func (c *Client) Interceptors() []string {
	names := make([]string, len(c.interceptors))
	for i, ic := range c.interceptors {
		names[i] = ic.Name
	}
	return names
}

// Do runs the interceptors on a copy of req, sends it and normalizes the
// outcome. On a non-2xx status the response is only reachable through the
// returned *APIError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, NewConfigError(nil, errors.New("nil request"))
	}
	req = req.Clone(req.Context())

	for _, ic := range c.interceptors {
		if ic.Skip != nil && ic.Skip.ShouldSkip(req) {
			continue
		}
		if err := ic.Apply(req); err != nil {
			closeBody(req)

			var attr Attributer
			if errors.As(err, &attr) {
				return nil, err
			}
			return nil, NewConfigError(req, fmt.Errorf("%s interceptor: %w", ic.Name, err))
		}
	}

	resp, err := c.HTTP.Do(req)
	if nerr := Normalize(req, resp, err); nerr != nil {
		return nil, nerr
	}
	return resp, nil
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response
// into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return NewConfigError(nil, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return NewConfigError(nil, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		e := newError(ErrorTypeUnknown, req, fmt.Sprintf("decode response: %v", err))
		e.Status = resp.StatusCode
		e.Err = err
		return e
	}
	return nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
