package redisstore_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/aussiebroadwan/tabsession/pkg/cookiestore/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisstore.New(rdb, "test"), mr, rdb
}

func TestStorePutList(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newStore(t)

	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, cookiestore.Entry{
		Domain: "example.com", Path: "/", Name: "access_token", Value: "jwt",
		HttpOnly: true, Created: created,
	}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{
		Domain: "lms.example.com", Path: "/api", Name: "csrftoken", Value: "c",
		HostOnly: true, Created: created,
	}))

	require.True(t, mr.Exists("test:example.com"))

	got, err := s.List(ctx, "lms.example.com", "example.com", "com")
	require.NoError(t, err)
	require.Len(t, got, 2)

	t.Run("put keeps created", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, cookiestore.Entry{
			Domain: "example.com", Path: "/", Name: "access_token", Value: "jwt2",
			Created: created.Add(time.Hour),
		}))
		got, err := s.List(ctx, "example.com")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "jwt2", got[0].Value)
		require.True(t, created.Equal(got[0].Created))
	})
}

func TestStoreDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s, mr, rdb := newStore(t)

	require.NoError(t, rdb.Set(ctx, "unrelated", "keep", 0).Err())
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "x", Value: "1"}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "b.com", Path: "/", Name: "y", Value: "2"}))

	require.NoError(t, s.Delete(ctx, "a.com", "/", "x"))
	require.NoError(t, s.Delete(ctx, "a.com", "/", "x"))
	got, err := s.List(ctx, "a.com")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, s.Clear(ctx))
	got, err = s.List(ctx, "b.com")
	require.NoError(t, err)
	require.Empty(t, got)
	require.True(t, mr.Exists("unrelated"))
}

func TestStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t)
	now := time.Now()

	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "old", Expires: now.Add(-time.Minute)}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "b.com", Path: "/", Name: "old", Expires: now.Add(-time.Minute)}))
	require.NoError(t, s.Put(ctx, cookiestore.Entry{Domain: "a.com", Path: "/", Name: "live", Expires: now.Add(time.Hour)}))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, err := s.List(ctx, "a.com", "b.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "live", got[0].Name)
}

func TestStoreSharedBetweenJars(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newStore(t)
	u, err := url.Parse("https://lms.example.com/")
	require.NoError(t, err)

	require.NoError(t, cookiestore.New(s).Set(ctx, u, &http.Cookie{Name: "access_token", Value: "shared", Domain: "example.com"}))

	// A second client on the same server sees the cookie.
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()

	c, err := cookiestore.New(redisstore.New(other, "test")).Get(ctx, u, "access_token")
	require.NoError(t, err)
	require.Equal(t, "shared", c.Value)
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newStore(t)
	mr.Close()

	_, err := s.List(ctx, "a.com")
	require.ErrorIs(t, err, redisstore.ErrUnavailable)
	require.ErrorIs(t, s.Ping(ctx), redisstore.ErrUnavailable)
}
