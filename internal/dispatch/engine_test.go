package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"notifyd/internal/queue"
	"notifyd/internal/session"
	"notifyd/internal/store"
	logx "notifyd/pkg/logx"
)

type fakePusher struct {
	mu    sync.Mutex
	calls int
	fn    func(n session.Notification) error
}

func (p *fakePusher) Push(_ context.Context, n session.Notification) error {
	p.mu.Lock()
	p.calls++
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePusher) setFn(fn func(n session.Notification) error) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}

func failing() func(session.Notification) error {
	return func(session.Notification) error { return errors.New("nack") }
}

func newTestEngine(cfg Config, st store.Store) *Engine {
	return New(cfg, st, logx.Nop(), nil, nil)
}

func TestSubmitResolvesAndEnqueues(t *testing.T) {
	t.Parallel()
	e := newTestEngine(Config{}, store.NewMemory())

	targets := e.Submit([]string{"alice", "app1"}, "app1", "greeting", nil)
	if len(targets) != 2 || targets[0] != "alice:app1" || targets[1] != "app1" {
		t.Fatalf("targets = %v", targets)
	}
	if got := e.QueueLen(); got != 2 {
		t.Fatalf("QueueLen = %d, want 2", got)
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	e := newTestEngine(Config{SessionTTL: time.Hour}, mem)

	if _, err := e.Authenticate(ctx, "unknown"); !errors.Is(err, ErrBadSession) {
		t.Fatalf("Authenticate(unknown) error = %v, want ErrBadSession", err)
	}

	_ = mem.Put(ctx, "tok", "alice:app1", time.Minute)
	userID, err := e.Authenticate(ctx, "tok")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if userID != "alice:app1" {
		t.Fatalf("userID = %q, want alice:app1", userID)
	}

	// Authentication renewed the record toward the configured TTL.
	rec, ok, _ := mem.Get(ctx, "tok")
	if !ok {
		t.Fatal("record missing after authenticate")
	}
	if time.Until(rec.ExpiresAt) < 30*time.Minute {
		t.Fatalf("TTL not renewed: expires %v", rec.ExpiresAt)
	}

	// Authenticating the same token again still succeeds.
	if _, err := e.Authenticate(ctx, "tok"); err != nil {
		t.Fatalf("second Authenticate error: %v", err)
	}
}

func TestTickDeliversAndRenewsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	e := newTestEngine(Config{SessionTTL: time.Hour}, mem)

	_ = mem.Put(ctx, "tok", "alice:app1", time.Minute)
	p := &fakePusher{}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "tok", Pusher: p})

	e.Submit([]string{"alice"}, "app1", "greeting", json.RawMessage(`{"hello":"world"}`))
	e.tick(ctx)

	if got := p.count(); got != 1 {
		t.Fatalf("push count = %d, want 1", got)
	}
	if got := e.QueueLen(); got != 0 {
		t.Fatalf("QueueLen after delivery = %d, want 0", got)
	}

	rec, ok, _ := mem.Get(ctx, "tok")
	if !ok {
		t.Fatal("session record missing after delivery")
	}
	if time.Until(rec.ExpiresAt) < 30*time.Minute {
		t.Fatalf("positive ack did not renew TTL: expires %v", rec.ExpiresAt)
	}
}

func TestPartialAckNarrowsRetryToFailedSocket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(Config{}, store.NewMemory())

	acked := &fakePusher{}
	nacked := &fakePusher{fn: failing()}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "t1", Pusher: acked})
	e.Attach(&session.Session{SocketID: "s2", UserID: "alice:app1", Token: "t2", Pusher: nacked})

	e.Submit([]string{"alice"}, "app1", "greeting", nil)
	e.tick(ctx)

	if acked.count() != 1 || nacked.count() != 1 {
		t.Fatalf("push counts = %d/%d, want 1/1", acked.count(), nacked.count())
	}

	// The retry copy is bound to the socket that failed.
	batch := e.queue.DrainAll()
	if len(batch) != 1 {
		t.Fatalf("pending after tick = %d messages, want 1", len(batch))
	}
	if batch[0].BoundSocketID != "s2" {
		t.Fatalf("BoundSocketID = %q, want s2", batch[0].BoundSocketID)
	}

	// Next tick reaches only the bound socket; the acked one is left alone.
	nacked.setFn(nil)
	e.queue.Enqueue(batch[0])
	e.tick(ctx)

	if acked.count() != 1 {
		t.Fatalf("acked socket pushed again: count = %d", acked.count())
	}
	if nacked.count() != 2 {
		t.Fatalf("bound socket push count = %d, want 2", nacked.count())
	}
	if got := e.QueueLen(); got != 0 {
		t.Fatalf("QueueLen = %d, want 0", got)
	}
}

func TestExpiredMessageDroppedSilently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(Config{DeliverTimeout: 5 * time.Second}, store.NewMemory())

	p := &fakePusher{}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "tok", Pusher: p})

	e.queue.Enqueue(queue.Message{
		ID:         "m1",
		TargetUser: "alice:app1",
		CreatedAt:  time.Now().Add(-10 * time.Second),
	})
	e.tick(ctx)

	if got := p.count(); got != 0 {
		t.Fatalf("expired message was pushed %d times", got)
	}
	if got := e.QueueLen(); got != 0 {
		t.Fatalf("QueueLen = %d, want 0", got)
	}
}

func TestOfflinePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("drop", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(Config{DropOffline: true}, store.NewMemory())
		e.Submit([]string{"alice"}, "app1", "greeting", nil)
		e.tick(ctx)
		if got := e.QueueLen(); got != 0 {
			t.Fatalf("QueueLen = %d, want 0 (dropped)", got)
		}
	})

	t.Run("hold", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(Config{DropOffline: false}, store.NewMemory())
		e.Submit([]string{"alice"}, "app1", "greeting", nil)
		e.tick(ctx)
		if got := e.QueueLen(); got != 1 {
			t.Fatalf("QueueLen = %d, want 1 (held)", got)
		}
	})
}

func TestDetachedSessionReceivesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(Config{DropOffline: true}, store.NewMemory())

	p := &fakePusher{}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "tok", Pusher: p})
	e.Detach("s1")

	e.Submit([]string{"alice"}, "app1", "greeting", nil)
	e.tick(ctx)

	if got := p.count(); got != 0 {
		t.Fatalf("detached session received %d pushes", got)
	}
	if got := e.QueueLen(); got != 0 {
		t.Fatalf("QueueLen = %d, want 0", got)
	}
}

func TestNeverAcknowledgedMessageAgesOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(Config{
		DeliverTimeout: 40 * time.Millisecond,
		AckTimeout:     20 * time.Millisecond,
	}, store.NewMemory())

	p := &fakePusher{fn: failing()}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "tok", Pusher: p})

	e.Submit([]string{"alice"}, "app1", "greeting", nil)
	e.tick(ctx)
	if got := e.QueueLen(); got != 1 {
		t.Fatalf("QueueLen after failed tick = %d, want 1", got)
	}

	time.Sleep(60 * time.Millisecond)
	e.tick(ctx)

	if got := e.QueueLen(); got != 0 {
		t.Fatalf("QueueLen = %d, want 0 after deadline", got)
	}
	if got := p.count(); got != 1 {
		t.Fatalf("push count = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	e := newTestEngine(Config{TickInterval: 10 * time.Millisecond, SessionTTL: time.Hour}, mem)

	p := &fakePusher{}
	e.Attach(&session.Session{SocketID: "s1", UserID: "alice:app1", Token: "tok", Pusher: p})

	e.Start(context.Background())
	e.Start(context.Background()) // idempotent

	e.Submit([]string{"alice"}, "app1", "greeting", nil)

	deadline := time.Now().Add(2 * time.Second)
	for p.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("message was not delivered by the running loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Stop(stopCtx)
	e.Stop(stopCtx) // idempotent
}
