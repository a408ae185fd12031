package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a map-backed Store for development and tests.
// Expired records are dropped lazily on Get and eagerly on Prune.
type Memory struct {
	mu   sync.Mutex
	recs map[string]Record
}

func NewMemory() *Memory {
	return &Memory{recs: map[string]Record{}}
}

func (m *Memory) Get(_ context.Context, token string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[keyPrefix+token]
	if !ok {
		return Record{}, false, nil
	}
	if rec.expired(time.Now()) {
		delete(m.recs, keyPrefix+token)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (m *Memory) Put(_ context.Context, token, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[keyPrefix+token] = Record{UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, keyPrefix+token)
	return nil
}

func (m *Memory) Prune(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for k, rec := range m.recs {
		if rec.expired(now) {
			delete(m.recs, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

// Len reports live (possibly expired but not yet pruned) records. Test helper.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
