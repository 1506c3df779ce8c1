package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/httpx"
)

// ErrUsage is returned for unknown commands or bad arguments.
var ErrUsage = errors.New("usage: tabsession [flags] whoami|token|request|cookie|logout [args]")

// Run executes one command.
func (app *Application) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	log := app.logger.With("command", cmd)
	log.Debug("command starting")

	var err error
	switch cmd {
	case "whoami":
		err = app.whoami(ctx, rest)
	case "token":
		err = app.token(ctx, rest)
	case "request":
		err = app.request(ctx, rest)
	case "cookie":
		err = app.cookie(ctx, rest)
	case "logout":
		err = app.logout(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}

	if err != nil {
		var attr httpx.Attributer
		if errors.As(err, &attr) {
			log.Error("command failed", "err", err, "attributes", attr.CustomAttributes())
		} else {
			log.Error("command failed", "err", err)
		}
	}
	return err
}

func (app *Application) printJSON(v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// whoami prints the signed-in user. -hydrate adds the account API fields.
func (app *Application) whoami(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	hydrate := fs.Bool("hydrate", false, "merge account API data into the output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := app.client.EnsureAuthenticatedUser(ctx, "")
	var loginErr *authsdk.LoginRequiredError
	if errors.As(err, &loginErr) {
		fmt.Fprintf(app.out, "anonymous, log in at %s\n", loginErr.LoginURL)
		return err
	}
	if err != nil {
		return err
	}

	if *hydrate {
		hydrated, err := app.client.HydrateAuthenticatedUser(ctx)
		if err != nil {
			return err
		}
		if hydrated != nil {
			user = hydrated
		}
	}
	return app.printJSON(user)
}

type tokenOutput struct {
	State     string    `json:"state"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	ExpiresIn string    `json:"expires_in,omitempty"`
}

// token prints the state of the JWT cookie, refreshing it when needed.
// -force refreshes regardless.
func (app *Application) token(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	force := fs.Bool("force", false, "refresh even if the token is fresh")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := app.client.Tokens()
	claims, err := svc.GetToken(ctx, *force)
	if err != nil {
		return err
	}

	out := tokenOutput{State: svc.State().String()}
	if claims != nil {
		out.UserID = claims.UserID
		out.Username = claims.Username
		if claims.ExpiresAt != nil {
			out.ExpiresAt = claims.ExpiresAt.Time.UTC()
			out.ExpiresIn = claims.ExpiresIn(time.Now()).Round(time.Second).String()
		}
	}
	return app.printJSON(out)
}

// request sends METHOD URL [BODY] through the authenticated client and
// prints the response body. A relative URL resolves against the base URL.
// -public and -csrf-exempt set the request options, -retries overrides the
// retry count.
func (app *Application) request(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	public := fs.Bool("public", false, "do not refresh the JWT cookie")
	exempt := fs.Bool("csrf-exempt", false, "do not send a CSRF token")
	retries := fs.Int("retries", -1, "override the retry count (-1 keeps the default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		return fmt.Errorf("%w: request METHOD URL [BODY]", ErrUsage)
	}

	method := strings.ToUpper(fs.Arg(0))
	target, err := app.resolve(fs.Arg(1))
	if err != nil {
		return err
	}

	opts := httpx.RequestOptions{Public: *public, CSRFExempt: *exempt}
	if *retries >= 0 {
		opts.MaxRetries = httpx.Retries(*retries)
	}
	ctx = httpx.WithOptions(ctx, opts)

	var body io.Reader
	if fs.NArg() == 3 {
		body = strings.NewReader(fs.Arg(2))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.client.AuthenticatedHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(app.out, resp.Body)
	return err
}

func (app *Application) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	base, err := url.Parse(app.client.Config().BaseURL + "/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// cookie stores NAME=VALUE for the base URL, for importing a session
// cookie copied from a browser.
func (app *Application) cookie(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: cookie NAME=VALUE", ErrUsage)
	}
	name, value, ok := strings.Cut(args[0], "=")
	if !ok || name == "" {
		return fmt.Errorf("%w: cookie NAME=VALUE", ErrUsage)
	}

	base, err := url.Parse(app.client.Config().BaseURL)
	if err != nil {
		return err
	}
	return app.client.Jar().Set(ctx, base, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   base.Scheme == "https",
	})
}

// logout ends the local session and prints the URL that ends the server
// session.
func (app *Application) logout(ctx context.Context, args []string) error {
	redirect := ""
	if len(args) > 0 {
		redirect = args[0]
	}
	logoutURL, err := app.client.Logout(ctx, redirect)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, logoutURL)
	return nil
}
