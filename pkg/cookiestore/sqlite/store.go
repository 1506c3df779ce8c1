// Package sqlite is a cookiestore.Backend that keeps cookies in a SQLite file,
// so a session survives process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/cookiestore"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
}

var (
	_ cookiestore.Backend = (*Store)(nil)
	_ cookiestore.Purger  = (*Store)(nil)
)

// Open opens the database at dsn and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// pooled connections of the same process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dsn: dsn}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertCookie = `
INSERT INTO cookies (domain, path, name, value, host_only, secure, http_only, same_site, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (domain, path, name) DO UPDATE SET
    value      = excluded.value,
    host_only  = excluded.host_only,
    secure     = excluded.secure,
    http_only  = excluded.http_only,
    same_site  = excluded.same_site,
    expires_at = excluded.expires_at`

func (s *Store) Put(ctx context.Context, e cookiestore.Entry) error {
	created := e.Created
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx, upsertCookie,
		e.Domain, e.Path, e.Name, e.Value,
		e.HostOnly, e.Secure, e.HttpOnly, int(e.SameSite),
		toUnixNano(e.Expires), created.UnixNano(),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, domain, path, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE domain = ? AND path = ? AND name = ?`,
		domain, path, name,
	)
	return err
}

func (s *Store) List(ctx context.Context, domains ...string) ([]cookiestore.Entry, error) {
	if len(domains) == 0 {
		return nil, nil
	}

	args := make([]any, len(domains))
	for i, d := range domains {
		args[i] = d
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domains)), ",")

	rows, err := s.db.QueryContext(ctx, `
SELECT domain, path, name, value, host_only, secure, http_only, same_site, expires_at, created_at
FROM cookies
WHERE domain IN (`+placeholders+`)
ORDER BY domain, path, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cookiestore.Entry
	for rows.Next() {
		var (
			e                  cookiestore.Entry
			sameSite           int
			expires, createdAt int64
		)
		if err := rows.Scan(
			&e.Domain, &e.Path, &e.Name, &e.Value,
			&e.HostOnly, &e.Secure, &e.HttpOnly, &sameSite,
			&expires, &createdAt,
		); err != nil {
			return nil, err
		}
		e.SameSite = http.SameSite(sameSite)
		e.Expires = fromUnixNano(expires)
		e.Created = time.Unix(0, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cookies`)
	return err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE expires_at > 0 AND expires_at <= ?`,
		now.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
