package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
)

const HeaderRequestID = "X-Request-ID"

// Transport logs every outbound request sent through next and tags it with
// an X-Request-ID. A request id already on the request is kept, and the
// contextual logger of the request gains a req_id attribute.
func Transport(base *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = slog.Default()
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{base: base, next: next}
}

type transport struct {
	base *slog.Logger
	next http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(HeaderRequestID)
	if reqID == "" {
		reqID = idx.New().String()
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, reqID)
	}

	logger := t.base.With(
		"req_id", reqID,
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)
	req = req.WithContext(WithContext(req.Context(), logger))

	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Warn("http_request_failed",
			"duration_ms", duration,
			"err", err,
		)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
