package httpx

import "net/http"

// Skipper decides whether an interceptor should leave a request alone.
type Skipper interface {
	ShouldSkip(req *http.Request) bool
}

// SkipFunc adapts a function to a Skipper.
type SkipFunc func(req *http.Request) bool

func (f SkipFunc) ShouldSkip(req *http.Request) bool { return f(req) }

var (
	// SkipPublic skips requests flagged RequestOptions.Public.
	SkipPublic Skipper = SkipFunc(func(req *http.Request) bool {
		return OptionsFromContext(req.Context()).Public
	})

	// SkipCSRFExempt skips requests flagged RequestOptions.CSRFExempt.
	SkipCSRFExempt Skipper = SkipFunc(func(req *http.Request) bool {
		return OptionsFromContext(req.Context()).CSRFExempt
	})

	// SkipSafeMethods skips GET, HEAD and OPTIONS requests.
	SkipSafeMethods Skipper = SkipFunc(func(req *http.Request) bool {
		switch req.Method {
		case "", http.MethodGet, http.MethodHead, http.MethodOptions:
			return true
		}
		return false
	})
)

// AnySkipper skips when any of skippers does.
func AnySkipper(skippers ...Skipper) Skipper {
	return SkipFunc(func(req *http.Request) bool {
		for _, s := range skippers {
			if s != nil && s.ShouldSkip(req) {
				return true
			}
		}
		return false
	})
}
