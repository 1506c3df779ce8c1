package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the session claims carried in the JWT cookie. The client only
// reads them for presentation and expiry checks, the server owns validation.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the account identifier.
	UserID string `json:"user_id"`

	// Username is the login name ("preferred_username").
	Username string `json:"preferred_username"`

	// Email is optional.
	Email string `json:"email,omitempty"`

	// Roles is ordered as issued. Decode never leaves it nil.
	Roles []string `json:"roles,omitempty"`

	// Administrator marks staff/superuser accounts.
	Administrator bool `json:"administrator,omitempty"`

	// Name is the full display name, optional.
	Name string `json:"name,omitempty"`
}

// IsExpired reports whether c should be treated as expired at now. Missing
// claims and missing "exp" count as expired, never as valid forever.
func IsExpired(c *Claims, now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Time.Before(now)
}

// Expired is IsExpired with the receiver.
func (c *Claims) Expired(now time.Time) bool {
	return IsExpired(c, now)
}

// ExpiresIn returns the time remaining until exp, zero if already expired.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if IsExpired(c, now) {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// HasRole reports whether role is present in the claims.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
