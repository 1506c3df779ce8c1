package authsdk

import (
	"maps"
	"slices"

	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
)

// AuthenticatedUser is the application view of the signed-in user: the
// JWT claims plus whatever account data HydrateAuthenticatedUser merged in.
type AuthenticatedUser struct {
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles"`
	Administrator bool     `json:"administrator"`
	Name          string   `json:"name,omitempty"`

	// Account holds fields from the user account API, nil until hydrated.
	Account map[string]any `json:"account,omitempty"`
}

func userFromClaims(c *jwtx.Claims) *AuthenticatedUser {
	if c == nil {
		return nil
	}
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	return &AuthenticatedUser{
		UserID:        c.UserID,
		Username:      c.Username,
		Email:         c.Email,
		Roles:         slices.Clone(roles),
		Administrator: c.Administrator,
		Name:          c.Name,
	}
}

func (u *AuthenticatedUser) clone() *AuthenticatedUser {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = slices.Clone(u.Roles)
	out.Account = maps.Clone(u.Account)
	return &out
}
