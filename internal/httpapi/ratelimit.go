package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter rate-limits submissions per sender authorization key.
// Entries idle for longer than the cleanup window are evicted so the map
// doesn't grow with every key ever probed.
type senderLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*senderEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

type senderEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newSenderLimiter(perSec int) *senderLimiter {
	if perSec <= 0 {
		perSec = 10
	}
	sl := &senderLimiter{
		perSec:   rate.Limit(perSec),
		burst:    perSec,
		limiters: map[string]*senderEntry{},
		stopCh:   make(chan struct{}),
	}
	go sl.cleanupLoop()
	return sl
}

// SetRate applies a new per-sender rate. Existing limiters are replaced lazily
// on next use so a reload doesn't reset everyone's bucket at once.
func (sl *senderLimiter) SetRate(perSec int) {
	if perSec <= 0 {
		perSec = 10
	}
	sl.mu.Lock()
	if rate.Limit(perSec) != sl.perSec {
		sl.perSec = rate.Limit(perSec)
		sl.burst = perSec
		sl.limiters = map[string]*senderEntry{}
	}
	sl.mu.Unlock()
}

func (sl *senderLimiter) Allow(sender string) bool {
	sl.mu.Lock()
	e, ok := sl.limiters[sender]
	if !ok {
		e = &senderEntry{limiter: rate.NewLimiter(sl.perSec, sl.burst)}
		sl.limiters[sender] = e
	}
	e.lastAccess = time.Now()
	lim := e.limiter
	sl.mu.Unlock()
	return lim.Allow()
}

func (sl *senderLimiter) Stop() {
	sl.stopOnce.Do(func() { close(sl.stopCh) })
}

func (sl *senderLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			sl.mu.Lock()
			for k, e := range sl.limiters {
				if e.lastAccess.Before(cutoff) {
					delete(sl.limiters, k)
				}
			}
			sl.mu.Unlock()
		}
	}
}
