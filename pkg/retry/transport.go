package retry

import (
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// Transport is an http.RoundTripper that replays requests failing without a
// response. Responses, whatever their status, are returned untouched.
//
// A request with a body that cannot be rewound (no GetBody) is sent once and
// its failure returned immediately.
type Transport struct {
	Next   http.RoundTripper
	Policy Policy

	// MaxRetriesFunc lets a request override Policy.MaxRetries, for example
	// from options carried on its context. ok=false keeps the policy value.
	MaxRetriesFunc func(req *http.Request) (n int, ok bool)
}

// NewTransport returns a Transport in front of next (http.DefaultTransport
// when nil).
func NewTransport(p Policy, next http.RoundTripper) *Transport {
	return &Transport{Next: next, Policy: p}
}

func (t *Transport) next() http.RoundTripper {
	if t.Next == nil {
		return http.DefaultTransport
	}
	return t.Next
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	maxRetries := t.Policy.maxRetries()
	if t.MaxRetriesFunc != nil {
		if n, ok := t.MaxRetriesFunc(req); ok {
			maxRetries = n
		}
	}
	if !Replayable(req) {
		maxRetries = 0
	}

	next := t.next()
	return run(req.Context(), t.Policy, req, maxRetries, func(attempt int) (*http.Response, error) {
		if attempt == 0 {
			return next.RoundTrip(req)
		}

		r := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r.Body = body
		}
		return next.RoundTrip(r)
	})
}
