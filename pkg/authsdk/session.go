package authsdk

import (
	"context"
)

// LoginURL returns the login page URL. A non-empty redirect is passed as
// the "next" parameter.
func (c *Client) LoginURL(redirect string) string {
	return withQuery(c.cfg.LoginURL, "next", redirect)
}

// LogoutURL returns the logout page URL. A non-empty redirect is passed as
// the "redirect_url" parameter.
func (c *Client) LogoutURL(redirect string) string {
	return withQuery(c.cfg.LogoutURL, "redirect_url", redirect)
}

// Logout ends the local session: it clears the CSRF cache, removes the JWT
// cookie and forgets the authenticated user. The returned URL ends the
// server session and should be visited next.
func (c *Client) Logout(ctx context.Context, redirect string) (string, error) {
	c.csrf.ClearCache()
	c.setUser(nil)

	err := c.tokens.RemoveCookie(ctx)
	if err != nil {
		c.logger.Warn("failed to remove jwt cookie on logout", "err", err)
	} else {
		c.logger.Info("logged out")
	}
	return c.LogoutURL(redirect), err
}

// Teardown resets every cache and in-flight registry. For test harnesses;
// cookies are left alone.
func (c *Client) Teardown() {
	c.tokens.Reset()
	c.csrf.Reset()
	c.setUser(nil)
}
