package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("session store disabled")

// keyPrefix namespaces session tokens inside the store so the same backend
// can be shared with other keyspaces without collisions.
const keyPrefix = "xns-"

// Config configures the external session store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map, for development and tests
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one session entry: token -> authenticated user identity.
// A record past ExpiresAt is treated as absent.
type Record struct {
	UserID    string
	ExpiresAt time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
