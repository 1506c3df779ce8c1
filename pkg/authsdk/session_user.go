package authsdk

import (
	"context"
	"maps"
	"net/http"
	"net/url"
)

// FetchAuthenticatedUser reads the JWT cookie, refreshing it when needed,
// and records the result. A nil user means the session is anonymous. On
// error the previously recorded user is kept.
func (c *Client) FetchAuthenticatedUser(ctx context.Context) (*AuthenticatedUser, error) {
	claims, err := c.tokens.GetToken(ctx, false)
	if err != nil {
		return nil, err
	}

	user := userFromClaims(claims)
	c.setUser(user)
	return user.clone(), nil
}

// AuthenticatedUser returns the recorded user, nil when anonymous.
func (c *Client) AuthenticatedUser() *AuthenticatedUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.clone()
}

// SetAuthenticatedUser replaces the recorded user. nil marks the session
// anonymous.
func (c *Client) SetAuthenticatedUser(u *AuthenticatedUser) {
	c.setUser(u.clone())
}

func (c *Client) setUser(u *AuthenticatedUser) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// EnsureAuthenticatedUser is FetchAuthenticatedUser for callers that need a
// signed-in user. An anonymous session yields a *LoginRequiredError whose
// login URL returns to redirect.
func (c *Client) EnsureAuthenticatedUser(ctx context.Context, redirect string) (*AuthenticatedUser, error) {
	user, err := c.FetchAuthenticatedUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &LoginRequiredError{LoginURL: c.LoginURL(redirect)}
	}
	return user, nil
}

// HydrateAuthenticatedUser loads the account of the recorded user and merges
// it into AuthenticatedUser.Account. It does nothing for an anonymous
// session.
func (c *Client) HydrateAuthenticatedUser(ctx context.Context) (*AuthenticatedUser, error) {
	user := c.AuthenticatedUser()
	if user == nil {
		return nil, nil
	}

	var account map[string]any
	endpoint := c.url(c.cfg.UserAccountAPIPath + "/" + url.PathEscape(user.Username))
	if err := c.authenticated.DoJSON(ctx, http.MethodGet, endpoint, nil, &account); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The user may have changed while the account was loading.
	if c.user == nil || c.user.UserID != user.UserID {
		return c.user.clone(), nil
	}
	if c.user.Account == nil {
		c.user.Account = make(map[string]any, len(account))
	}
	maps.Copy(c.user.Account, account)
	return c.user.clone(), nil
}
