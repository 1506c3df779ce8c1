package tokens

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/httpx"
)

// RefreshError reports a refresh call that failed for any reason other than
// a 401. Err is normally an *httpx.APIError.
type RefreshError struct {
	RefreshURL string
	Err        error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("tokens: refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// CustomAttributes returns the metadata of the underlying request error plus
// the refresh URL.
func (e *RefreshError) CustomAttributes() map[string]any {
	attrs := map[string]any{}
	var a httpx.Attributer
	if errors.As(e.Err, &a) {
		maps.Copy(attrs, a.CustomAttributes())
	}
	attrs["refreshUrl"] = e.RefreshURL
	return attrs
}

// UnexpectedEmptyTokenError means the refresh endpoint answered 2xx but the
// JWT cookie is still missing or unreadable afterwards. The server promised
// to set it, so this is a contract violation worth alerting on.
type UnexpectedEmptyTokenError struct {
	CookieName   string
	Status       int
	ResponseData string
	RequestStart time.Time
	RequestEnd   time.Time

	// ServerEpoch is response_epoch_seconds from the refresh body, 0 when
	// absent.
	ServerEpoch int64

	// Err is the decode failure, nil when the cookie was simply absent.
	Err error
}

func (e *UnexpectedEmptyTokenError) Error() string {
	msg := fmt.Sprintf("tokens: refresh returned %d but cookie %q holds no usable token", e.Status, e.CookieName)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnexpectedEmptyTokenError) Unwrap() error { return e.Err }

func (e *UnexpectedEmptyTokenError) CustomAttributes() map[string]any {
	attrs := map[string]any{
		"cookieName":            e.CookieName,
		"httpErrorStatus":       e.Status,
		"httpErrorResponseData": e.ResponseData,
		"requestStartTime":      e.RequestStart.UTC().Format(time.RFC3339Nano),
		"requestEndTime":        e.RequestEnd.UTC().Format(time.RFC3339Nano),
		"requestDurationMs":     e.RequestEnd.Sub(e.RequestStart).Milliseconds(),
	}
	if e.ServerEpoch != 0 {
		attrs["responseEpochSeconds"] = e.ServerEpoch
	}
	return attrs
}
