package dispatch

import (
	"errors"
	"time"
)

var (
	// ErrBadSession is returned by Authenticate for tokens that are missing
	// from the external store (never stored, expired, or logged out).
	ErrBadSession = errors.New("bad session id")
)

// Config controls the delivery engine.
type Config struct {
	// TickInterval is the fixed dispatch period.
	TickInterval time.Duration
	// DeliverTimeout is the delivery deadline: a message older than this at
	// the start of a tick is dropped undelivered. It is the only hard stop —
	// there is no maximum retry count, only a maximum retry duration.
	DeliverTimeout time.Duration
	// AckTimeout bounds one push+ack round trip to a single socket.
	AckTimeout time.Duration
	// SessionTTL is the liveness window written to the external store on
	// authentication and on every positively acknowledged delivery.
	SessionTTL time.Duration
	// DropOffline preserves the historical behavior of dropping a message
	// when no live session matches at dispatch time. When false, such
	// messages are requeued until they age out.
	DropOffline bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 5 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	return c
}

// Metrics receives delivery-engine counters. The concrete Prometheus
// implementation lives in internal/metrics; tests plug in fakes.
type Metrics interface {
	MessageEnqueued()
	MessageDelivered(latency time.Duration)
	MessageRequeued()
	MessageExpired()
	MessageDroppedOffline()
	SessionsActive(n int)
}

type nopMetrics struct{}

func (nopMetrics) MessageEnqueued()               {}
func (nopMetrics) MessageDelivered(time.Duration) {}
func (nopMetrics) MessageRequeued()               {}
func (nopMetrics) MessageExpired()                {}
func (nopMetrics) MessageDroppedOffline()         {}
func (nopMetrics) SessionsActive(int)             {}
