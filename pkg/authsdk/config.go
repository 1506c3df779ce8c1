package authsdk

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/httpx"
)

const (
	DefaultCookieName         = "session-jwt"
	DefaultCSRFTokenAPIPath   = "/csrf/api/v1/token"
	DefaultUserAccountAPIPath = "/api/user/v1/accounts"
	DefaultRequestTimeout     = 30 * time.Second

	configRequiredReason = "required"
	configAbsoluteURL    = "must be an absolute http or https url"
)

var reCookieName = regexp.MustCompile("^[!#$%&'*+\\-.^_`|~0-9A-Za-z]+$")

// Config describes the application the client talks to. Only BaseURL is
// required; every URL left empty is derived from it.
type Config struct {
	// BaseURL is the application origin. Cookies are read for this URL and
	// relative request URLs resolve against it.
	BaseURL string

	LoginURL   string // default: BaseURL + "/login"
	LogoutURL  string // default: BaseURL + "/logout"
	RefreshURL string // default: BaseURL + "/login_refresh"

	CookieName         string // default: DefaultCookieName
	CSRFTokenAPIPath   string // default: DefaultCSRFTokenAPIPath
	UserAccountAPIPath string // default: DefaultUserAccountAPIPath

	// MaxRetries is the number of replays of a request that got no
	// response. Zero means retry.DefaultMaxRetries, negative disables.
	MaxRetries int

	// MaxBackoff caps a single retry delay. Zero means
	// retry.DefaultMaxBackoff.
	MaxBackoff time.Duration

	// RequestTimeout bounds a request including its retries. Zero means
	// DefaultRequestTimeout, negative disables.
	RequestTimeout time.Duration

	// RateLimit is the per-host outbound limit. The zero value means
	// httpx.OutboundLimit.
	RateLimit httpx.RateLimitConfig
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	if c.LoginURL == "" {
		c.LoginURL = c.BaseURL + "/login"
	}
	if c.LogoutURL == "" {
		c.LogoutURL = c.BaseURL + "/logout"
	}
	if c.RefreshURL == "" {
		c.RefreshURL = c.BaseURL + "/login_refresh"
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.CSRFTokenAPIPath == "" {
		c.CSRFTokenAPIPath = DefaultCSRFTokenAPIPath
	}
	if c.UserAccountAPIPath == "" {
		c.UserAccountAPIPath = DefaultUserAccountAPIPath
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if !c.RateLimit.Enabled() {
		c.RateLimit = httpx.OutboundLimit
	}
	return c
}

// Validate checks the config after defaults are applied.
// Returns a map of field names to error messages, or nil if all fields are valid.
func (c Config) Validate() map[string]string {
	errs := make(map[string]string)
	c = c.withDefaults()

	if c.BaseURL == "" {
		errs["base_url"] = configRequiredReason
	} else {
		validateURL(errs, "base_url", c.BaseURL)
		validateURL(errs, "login_url", c.LoginURL)
		validateURL(errs, "logout_url", c.LogoutURL)
		validateURL(errs, "refresh_url", c.RefreshURL)
	}

	if !reCookieName.MatchString(c.CookieName) {
		errs["cookie_name"] = "must be a valid cookie token"
	}
	validatePath(errs, "csrf_token_api_path", c.CSRFTokenAPIPath)
	validatePath(errs, "user_account_api_path", c.UserAccountAPIPath)

	if c.MaxBackoff < 0 {
		errs["max_backoff"] = "must not be negative"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateURL(errs map[string]string, field, raw string) {
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		errs[field] = "invalid url"
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs[field] = configAbsoluteURL
	}
}

func validatePath(errs map[string]string, field, p string) {
	if !strings.HasPrefix(p, "/") {
		errs[field] = "must start with /"
	}
}
