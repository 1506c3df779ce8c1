package authsdk

import (
	"fmt"
	"slices"
	"strings"
)

// ConfigError is returned by New when Config.Validate reports problems.
type ConfigError struct {
	// Fields maps field names to reasons, as returned by Validate.
	Fields map[string]string
}

func (e *ConfigError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "authsdk: invalid config: " + strings.Join(parts, ", ")
}

// LoginRequiredError is returned by EnsureAuthenticatedUser when the session
// is anonymous. LoginURL carries the post-login redirect.
type LoginRequiredError struct {
	LoginURL string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("authsdk: login required, redirect to %s", e.LoginURL)
}
