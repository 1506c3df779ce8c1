// Package redisstore is a cookiestore.Backend kept in Redis, so every process
// pointed at the same server shares one session.
//
// Each cookie domain is a hash at "<prefix>:<domain>" whose fields are
// "<path>\x00<name>" and whose values are JSON encoded entries.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "tabsession:cookies"

// ErrUnavailable wraps every failure talking to Redis.
var ErrUnavailable = errors.New("redisstore: redis unavailable")

type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var (
	_ cookiestore.Backend = (*Store)(nil)
	_ cookiestore.Purger  = (*Store)(nil)
)

// New returns a Store using client. An empty prefix means DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(domain string) string {
	return s.prefix + ":" + domain
}

func field(path, name string) string {
	return path + "\x00" + name
}

func (s *Store) Put(ctx context.Context, e cookiestore.Entry) error {
	const maxRetries = 4
	key := s.key(e.Domain)
	f := field(e.Path, e.Name)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, key, f).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				var old cookiestore.Entry
				if json.Unmarshal(raw, &old) == nil && !old.Created.IsZero() {
					e.Created = old.Created
				}
			}

			encoded, err := json.Marshal(e)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, f, encoded)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: too much contention on %s", ErrUnavailable, key)
}

func (s *Store) Delete(ctx context.Context, domain, path, name string) error {
	if err := s.redis.HDel(ctx, s.key(domain), field(path, name)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, domains ...string) ([]cookiestore.Entry, error) {
	if len(domains) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(domains))
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, d := range domains {
			cmds[i] = pipe.HGetAll(ctx, s.key(d))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out []cookiestore.Entry
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var e cookiestore.Entry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				// Skip rather than fail the whole lookup on one bad field.
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		return s.redis.Del(ctx, keys...).Err()
	})
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			fields, err := s.redis.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}

			var expired []string
			for f, raw := range fields {
				var e cookiestore.Entry
				if err := json.Unmarshal([]byte(raw), &e); err != nil || e.Expired(now) {
					expired = append(expired, f)
				}
			}
			if len(expired) == 0 {
				continue
			}

			n, err := s.redis.HDel(ctx, key, expired...).Result()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// scan calls fn with each batch of keys under the prefix.
func (s *Store) scan(ctx context.Context, fn func(keys []string) error) error {
	pattern := s.prefix + ":*"
	var cursor uint64

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		keys = filterPrefix(keys, s.prefix+":")
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func filterPrefix(keys []string, prefix string) []string {
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
