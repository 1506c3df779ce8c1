package jwtx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("jwtx: malformed token")
	ErrEmpty     = errors.New("jwtx: empty token")
)

// DecodeError is returned when a cookie value is not a well-formed JWT.
// CookieValue is kept for diagnostics only and must not be logged verbatim
// outside debug builds.
type DecodeError struct {
	CookieValue string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("jwtx: decode token: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrMalformed, e.Err} }

// CustomAttributes returns the diagnostic metadata attached to the error.
func (e *DecodeError) CustomAttributes() map[string]any {
	return map[string]any{
		"cookieValue": e.CookieValue,
	}
}

var parser = jwt.NewParser()

// Decode reads the payload segment of raw into Claims without verifying the
// signature.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &DecodeError{CookieValue: raw, Err: ErrEmpty}
	}

	var claims Claims
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return nil, &DecodeError{CookieValue: raw, Err: err}
	}

	if claims.Roles == nil {
		claims.Roles = []string{}
	}
	return &claims, nil
}
