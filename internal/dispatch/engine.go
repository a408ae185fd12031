// Package dispatch implements the delivery engine: the pending queue drain,
// the fixed-tick retry loop, the per-socket acknowledgment protocol, and the
// session TTL renewal that keeps acknowledged sessions authenticated.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/eventbus"
	"notifyd/internal/identity"
	"notifyd/internal/queue"
	"notifyd/internal/session"
	"notifyd/internal/store"
	logx "notifyd/pkg/logx"
)

// Engine owns the pending queue and the session registry and is the single
// service object shared by the ingestion API and the connection lifecycle.
// It is safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	log     logx.Logger
	bus     eventbus.Bus
	metrics Metrics

	queue *queue.Queue
	reg   *session.Registry
	store store.Store

	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc

	// deliverWG tracks in-flight push+ack exchanges so Stop can wait for them.
	deliverWG sync.WaitGroup
}

func New(cfg Config, st store.Store, log logx.Logger, bus eventbus.Bus, m Metrics) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		metrics: m,
		queue:   queue.New(),
		reg:     session.NewRegistry(),
		store:   st,
	}
}

// Apply updates timing knobs at runtime (config reload).
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Registry exposes the session registry to the connection lifecycle.
func (e *Engine) Registry() *session.Registry { return e.reg }

// QueueLen reports the number of currently pending messages.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// ActiveSessions reports the number of currently registered push channels.
func (e *Engine) ActiveSessions() int { return e.reg.Len() }

// Submit resolves each raw user against the sender and enqueues one pending
// message per resolved identity. It returns the canonical ids addressed.
func (e *Engine) Submit(rawUsers []string, sender, msgType string, data json.RawMessage) []string {
	now := time.Now()
	targets := make([]string, 0, len(rawUsers))
	for _, raw := range rawUsers {
		target := identity.Resolve(raw, sender)
		targets = append(targets, target)
		e.queue.Enqueue(queue.Message{
			ID:         uuid.NewString(),
			TargetUser: target,
			Type:       msgType,
			Data:       data,
			CreatedAt:  now,
		})
		e.metrics.MessageEnqueued()
		e.publish(eventbus.TypeMessageEnqueued, target)
	}
	return targets
}

// Authenticate looks a session token up in the external store. On success it
// renews the record's TTL and returns the stored identity; tokens absent from
// the store yield ErrBadSession. Store failures propagate as-is.
func (e *Engine) Authenticate(ctx context.Context, token string) (string, error) {
	rec, ok, err := e.store.Get(ctx, token)
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return "", ErrBadSession
	}
	if err := e.renew(ctx, token, rec.UserID); err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// Attach registers an authenticated session with the registry.
func (e *Engine) Attach(s *session.Session) {
	e.reg.Register(s)
	e.metrics.SessionsActive(e.reg.Len())
	e.publish(eventbus.TypeSessionOpened, s.UserID)
	e.log.Debug("session attached",
		logx.String("socket", s.SocketID),
		logx.String("user", s.UserID),
	)
}

// Detach removes a session immediately and unconditionally. Deliveries that
// are still in flight to it will time out and take the retry path.
func (e *Engine) Detach(socketID string) {
	s, ok := e.reg.Get(socketID)
	e.reg.Unregister(socketID)
	e.metrics.SessionsActive(e.reg.Len())
	if ok {
		e.publish(eventbus.TypeSessionClosed, s.UserID)
		e.log.Debug("session detached",
			logx.String("socket", socketID),
			logx.String("user", s.UserID),
		)
	}
}

// Start launches the dispatch loop. It is a no-op if already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.stopDone = make(chan struct{})
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	stopCh, stopDone, runCtx := e.stopCh, e.stopDone, e.runCtx
	interval := e.cfg.TickInterval
	e.mu.Unlock()

	go func() {
		defer close(stopDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				e.tick(runCtx)
			}
		}
	}()

	e.log.Info("dispatch loop started", logx.Duration("tick", interval))
}

// Stop halts the loop and waits for in-flight deliveries (bounded by the ack
// timeout) or ctx, whichever comes first.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	stopCh, stopDone, cancel := e.stopCh, e.stopDone, e.runCancel
	e.stopCh, e.stopDone, e.runCtx, e.runCancel = nil, nil, nil, nil
	e.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.deliverWG.Wait()
		<-stopDone
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("dispatch loop stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

// tick processes one dispatch pass over a drained snapshot of the queue.
// Failures local to one message or one socket never abort the pass.
func (e *Engine) tick(ctx context.Context) {
	batch := e.queue.DrainAll()
	if len(batch) == 0 {
		return
	}
	cfg := e.config()
	now := time.Now()

	var wg sync.WaitGroup
	for _, m := range batch {
		if m.Age(now) >= cfg.DeliverTimeout {
			// Delivery deadline reached: abandoned silently, by contract.
			e.metrics.MessageExpired()
			e.publish(eventbus.TypeMessageExpired, m.TargetUser)
			e.log.Debug("message expired",
				logx.String("target", m.TargetUser),
				logx.Duration("age", m.Age(now)),
			)
			continue
		}

		sessions := e.reg.Matching(m.TargetUser, m.BoundSocketID)
		if len(sessions) == 0 {
			if cfg.DropOffline {
				e.metrics.MessageDroppedOffline()
				e.publish(eventbus.TypeMessageDropped, m.TargetUser)
				e.log.Debug("no live session; message dropped", logx.String("target", m.TargetUser))
			} else {
				e.queue.Enqueue(m)
			}
			continue
		}

		for _, s := range sessions {
			wg.Add(1)
			e.deliverWG.Add(1)
			go func(m queue.Message, s *session.Session) {
				defer wg.Done()
				defer e.deliverWG.Done()
				e.deliver(ctx, cfg, m, s)
			}(m, s)
		}
	}
	wg.Wait()
}

// deliver pushes one message to one socket and reacts to its acknowledgment.
func (e *Engine) deliver(ctx context.Context, cfg Config, m queue.Message, s *session.Session) {
	n := session.Notification{
		ID:        m.ID,
		Type:      m.Type,
		Data:      m.Data,
		CreatedAt: m.CreatedAt,
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, cfg.AckTimeout)
	err := s.Pusher.Push(actx, n)
	cancel()

	if err == nil {
		// Positive ack: the socket is satisfied, keep its session alive.
		e.metrics.MessageDelivered(time.Since(start))
		e.publish(eventbus.TypeMessageDelivered, m.TargetUser)
		if rerr := e.renew(ctx, s.Token, s.UserID); rerr != nil {
			e.log.Warn("session ttl renewal failed",
				logx.String("socket", s.SocketID),
				logx.Err(rerr),
			)
		}
		return
	}

	// Negative ack, timeout, or channel error: retry next tick, narrowed to
	// this socket so sockets that already acknowledged are left alone.
	retry := m
	if m.BoundSocketID == "" {
		retry = m.Bind(s.SocketID)
	}
	e.queue.Enqueue(retry)
	e.metrics.MessageRequeued()
	e.publish(eventbus.TypeMessageRequeued, m.TargetUser)
	e.log.Debug("delivery failed; requeued",
		logx.String("target", m.TargetUser),
		logx.String("socket", s.SocketID),
		logx.Err(err),
	)
}

// renew extends the session record's liveness window in the external store.
func (e *Engine) renew(ctx context.Context, token, userID string) error {
	cfg := e.config()
	if err := e.store.Put(ctx, token, userID, cfg.SessionTTL); err != nil {
		return fmt.Errorf("session ttl renewal: %w", err)
	}
	return nil
}

func (e *Engine) publish(typ, target string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: target})
}
