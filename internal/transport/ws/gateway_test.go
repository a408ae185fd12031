package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"notifyd/internal/dispatch"
	"notifyd/internal/session"
	logx "notifyd/pkg/logx"
)

type fakeCore struct {
	userID string
	err    error

	attached chan *session.Session
	detached chan string
}

func newFakeCore(userID string, err error) *fakeCore {
	return &fakeCore{
		userID:   userID,
		err:      err,
		attached: make(chan *session.Session, 1),
		detached: make(chan string, 1),
	}
}

func (f *fakeCore) Authenticate(context.Context, string) (string, error) {
	return f.userID, f.err
}

func (f *fakeCore) Attach(s *session.Session) { f.attached <- s }

func (f *fakeCore) Detach(socketID string) {
	select {
	case f.detached <- socketID:
	default:
	}
}

func newTestGateway(t *testing.T, core Core) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewGateway(core, nil, logx.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + token
	c, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	t.Parallel()
	srv := newTestGateway(t, newFakeCore("alice:app1", nil))

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGatewayRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv := newTestGateway(t, newFakeCore("", dispatch.ErrBadSession))

	resp, err := http.Get(srv.URL + "/ws?session=nope")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGatewayStoreFailure(t *testing.T) {
	t.Parallel()
	srv := newTestGateway(t, newFakeCore("", errors.New("store down")))

	resp, err := http.Get(srv.URL + "/ws?session=tok")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestPushAckRoundTrip(t *testing.T) {
	t.Parallel()
	core := newFakeCore("alice:app1", nil)
	srv := newTestGateway(t, core)
	client := dial(t, srv, "tok")

	var sess *session.Session
	select {
	case sess = <-core.attached:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not attached")
	}
	if sess.UserID != "alice:app1" || sess.Token != "tok" {
		t.Fatalf("attached session = %+v", sess)
	}

	pushErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pushErr <- sess.Pusher.Push(ctx, session.Notification{
			ID:   "m1",
			Type: "greeting",
			Data: json.RawMessage(`{"hello":"world"}`),
		})
	}()

	var frame pushFrame
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("client read error: %v", err)
	}
	if frame.Event != notificationEvent {
		t.Fatalf("event = %q, want %q", frame.Event, notificationEvent)
	}
	if frame.DeliveryID == "" || frame.Notification.ID != "m1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	if err := client.WriteJSON(ackFrame{DeliveryID: frame.DeliveryID, Ack: ackOK}); err != nil {
		t.Fatalf("client ack error: %v", err)
	}

	if err := <-pushErr; err != nil {
		t.Fatalf("Push error: %v", err)
	}
}

func TestPushNegativeAck(t *testing.T) {
	t.Parallel()
	core := newFakeCore("alice:app1", nil)
	srv := newTestGateway(t, core)
	client := dial(t, srv, "tok")

	sess := <-core.attached
	pushErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pushErr <- sess.Pusher.Push(ctx, session.Notification{ID: "m1"})
	}()

	var frame pushFrame
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("client read error: %v", err)
	}
	if err := client.WriteJSON(ackFrame{DeliveryID: frame.DeliveryID, Ack: "NO"}); err != nil {
		t.Fatalf("client ack error: %v", err)
	}

	if err := <-pushErr; !errors.Is(err, ErrNegativeAck) {
		t.Fatalf("Push error = %v, want ErrNegativeAck", err)
	}
}

func TestPushTimesOutWithoutAck(t *testing.T) {
	t.Parallel()
	core := newFakeCore("alice:app1", nil)
	srv := newTestGateway(t, core)
	client := dial(t, srv, "tok")

	sess := <-core.attached
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Drain the frame but never acknowledge it.
	go func() {
		var frame pushFrame
		_ = client.ReadJSON(&frame)
	}()

	if err := sess.Pusher.Push(ctx, session.Notification{ID: "m1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push error = %v, want deadline exceeded", err)
	}
}

func TestDisconnectDetaches(t *testing.T) {
	t.Parallel()
	core := newFakeCore("alice:app1", nil)
	srv := newTestGateway(t, core)
	client := dial(t, srv, "tok")

	sess := <-core.attached
	_ = client.Close()

	select {
	case socketID := <-core.detached:
		if socketID != sess.SocketID {
			t.Fatalf("detached %q, want %q", socketID, sess.SocketID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection close did not detach the session")
	}

	// Pushing into a dead channel fails fast.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sess.Pusher.Push(ctx, session.Notification{ID: "m1"}); err == nil {
		t.Fatal("Push on closed channel succeeded")
	}
}
