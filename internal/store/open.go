package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "notifyd/pkg/logx"
)

// Store is the external session record API.
//
// It is the authority on which session tokens are currently authenticated:
// absence of a key means "not authenticated" / "session expired". The delivery
// engine renews a record's TTL on every positively acknowledged push.
//
// Store errors are per-operation: callers propagate them, nothing retries here.
type Store interface {
	// Get returns the record for token, or ok=false if absent or expired.
	Get(ctx context.Context, token string) (rec Record, ok bool, err error)
	// Put writes token -> userID valid for ttl from now.
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	// Delete removes the record, if present.
	Delete(ctx context.Context, token string) error
	// Prune removes expired records and reports how many were dropped.
	Prune(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
