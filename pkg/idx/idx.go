// Package idx generates the ULIDs used as request ids on outbound calls.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

// source hands out monotonic ULIDs. MonotonicEntropy is not safe for
// concurrent use, hence the mutex.
type source struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var defaultSource = sync.OnceValue(func() *source {
	return &source{entropy: ulid.Monotonic(rand.Reader, 0)}
})

func (s *source) at(t time.Time) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), s.entropy).String())
}

// New returns a ULID for the current time. IDs from one process sort in
// creation order.
func New() ID {
	return defaultSource().at(time.Now().UTC())
}

// NewAt returns a ULID stamped with t.
func NewAt(t time.Time) ID {
	return defaultSource().at(t.UTC())
}

// Parse validates s as a ULID. Inbound X-Request-ID headers go through this
// before being reused.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

func (id ID) IsZero() bool { return id == Zero }

func (id ID) String() string { return string(id) }

// Time returns the timestamp embedded in id, or the zero time when id is not
// a valid ULID.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
