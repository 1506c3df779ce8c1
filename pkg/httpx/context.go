package httpx

import (
	"context"
	"net/http"
)

type ctxKey string

const ctxKeyOptions ctxKey = "request_options"

// RequestOptions are per-request flags read by the pipeline.
type RequestOptions struct {
	// Public requests never trigger a token refresh.
	Public bool

	// CSRFExempt requests never fetch or carry a CSRF token.
	CSRFExempt bool

	// MaxRetries overrides the client's retry count when non-nil.
	MaxRetries *int
}

// WithOptions attaches opts to ctx. Build requests with the returned context.
func WithOptions(ctx context.Context, opts RequestOptions) context.Context {
	return context.WithValue(ctx, ctxKeyOptions, opts)
}

// OptionsFromContext returns the options attached to ctx, or the zero value.
func OptionsFromContext(ctx context.Context) RequestOptions {
	if v, ok := ctx.Value(ctxKeyOptions).(RequestOptions); ok {
		return v
	}
	return RequestOptions{}
}

// Retries is a helper for RequestOptions.MaxRetries.
func Retries(n int) *int { return &n }

// MaxRetriesOverride reports the per-request retry override of req, if any.
// Its signature matches retry.Transport.MaxRetriesFunc.
func MaxRetriesOverride(req *http.Request) (int, bool) {
	opts := OptionsFromContext(req.Context())
	if opts.MaxRetries == nil {
		return 0, false
	}
	return *opts.MaxRetries, true
}
