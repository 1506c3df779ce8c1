package sqlite_test

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore/sqlite"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open("file:" + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorePutListDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "cookies.db"))

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	require.NoError(t, s.Put(ctx, cookiestore.Entry{
		Domain: "example.com", Path: "/", Name: "access_token", Value: "v1",
		Secure: true, HttpOnly: true, SameSite: http.SameSiteLaxMode,
		Expires: expires, Created: created,
	}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{
		Domain: "other.com", Path: "/", Name: "x", Value: "y", Created: created,
	}))

	got, err := s.List(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	e := got[0]
	require.Equal(t, "v1", e.Value)
	require.True(t, e.Secure)
	require.True(t, e.HttpOnly)
	require.False(t, e.HostOnly)
	require.Equal(t, http.SameSiteLaxMode, e.SameSite)
	require.True(t, expires.Equal(e.Expires))
	require.True(t, created.Equal(e.Created))

	t.Run("upsert keeps created", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, cookiestore.Entry{
			Domain: "example.com", Path: "/", Name: "access_token", Value: "v2",
			Created: created.Add(time.Minute),
		}))
		got, err := s.List(ctx, "example.com")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "v2", got[0].Value)
		require.True(t, created.Equal(got[0].Created))
		require.True(t, got[0].Expires.IsZero())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "example.com", "/", "access_token"))
		require.NoError(t, s.Delete(ctx, "example.com", "/", "access_token"))
		got, err := s.List(ctx, "example.com", "other.com")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "x", got[0].Name)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		got, err := s.List(ctx, "other.com")
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func TestStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "cookies.db"))
	now := time.Now()

	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "old", Expires: now.Add(-time.Second)}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "new", Expires: now.Add(time.Hour)}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "session"}))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.List(ctx, "a.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cookies.db")
	u, err := url.Parse("https://lms.example.com/")
	require.NoError(t, err)

	first, err := sqlite.Open("file:" + path)
	require.NoError(t, err)
	jar := cookiestore.New(first)
	require.NoError(t, jar.Set(ctx, u, &http.Cookie{Name: "access_token", Value: "persisted", MaxAge: 3600}))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	c, err := cookiestore.New(second).Get(ctx, u, "access_token")
	require.NoError(t, err)
	require.Equal(t, "persisted", c.Value)
}
