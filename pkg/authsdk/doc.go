/*
Package authsdk keeps a cookie-carried JWT session alive for an application
talking to its backend services.

# Overview

A Client owns everything one session needs: a cookie jar, the token service
that refreshes the JWT cookie, the CSRF token cache and two HTTP clients
built on them.

	client, err := authsdk.New(authsdk.Config{
		BaseURL: "https://app.example.com",
	})

	// Who is signed in? nil means anonymous.
	user, err := client.FetchAuthenticatedUser(ctx)

	// Calls that need a session.
	var courses []Course
	err = client.AuthenticatedHTTPClient().DoJSON(ctx, http.MethodGet, url, nil, &courses)

# Authenticated vs plain client

AuthenticatedHTTPClient runs two interceptors before each request, in this
order:

  - CSRF: unsafe methods get an X-CSRFToken header. The token is fetched
    once per domain and cached until Logout.
  - JWT: the JWT cookie is decoded and refreshed if it is missing or
    expired, then the request is marked with USE-JWT-COOKIE.

HTTPClient skips both. Both clients share the jar, retry connectivity
failures with jittered exponential backoff and turn every failure,
including non-2xx responses, into an *httpx.APIError carrying diagnostic
attributes.

Per-request behaviour is set on the request context:

	ctx = httpx.WithOptions(ctx, httpx.RequestOptions{
		Public:     true,              // no token refresh
		CSRFExempt: true,              // no CSRF token
		MaxRetries: httpx.Retries(5),  // override the retry count
	})

# Concurrency

A Client is safe for concurrent use. Concurrent requests that need a token
refresh share one refresh call, and concurrent CSRF misses for one domain
share one fetch.

# Errors

  - *httpx.APIError: request failures, classified by Type
  - *tokens.RefreshError: the refresh endpoint failed for a reason other than 401
  - *tokens.UnexpectedEmptyTokenError: refresh succeeded without setting the cookie
  - *csrf.FetchError: the CSRF token could not be fetched
  - *LoginRequiredError: EnsureAuthenticatedUser found no session

A 401 from the refresh endpoint is not an error: the session is anonymous.

# Storage

Cookies live in memory unless another backend is supplied:

	store, err := sqlite.Open("file:cookies.db")
	client, err := authsdk.New(cfg, authsdk.WithBackend(store))

See pkg/cookiestore/sqlite and pkg/cookiestore/redisstore.
*/
package authsdk
