package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifyd/internal/session"
	logx "notifyd/pkg/logx"
)

const (
	// notificationEvent is the event name pushed for every delivery attempt.
	notificationEvent = "_NOTIFICATION"

	// ackOK is the only acknowledgment value that counts as success.
	ackOK = "OK"

	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 2 * pingInterval
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

var (
	ErrNegativeAck = errors.New("negative acknowledgment")
	ErrChannelDown = errors.New("push channel closed")
	ErrSendBlocked = errors.New("push channel send buffer full")
)

// pushFrame is the server -> client envelope. DeliveryID correlates the
// client's acknowledgment with one outstanding Push call; the same message
// retried on a later tick gets a fresh delivery id.
type pushFrame struct {
	Event        string               `json:"event"`
	DeliveryID   string               `json:"delivery_id"`
	Notification session.Notification `json:"notification"`
}

// ackFrame is the client -> server acknowledgment.
type ackFrame struct {
	DeliveryID string `json:"delivery_id"`
	Ack        string `json:"ack"`
}

// conn is one live websocket channel. It implements session.Pusher.
//
// All writes go through the send channel and a single write pump, because
// gorilla/websocket allows at most one concurrent writer per connection.
type conn struct {
	socketID string
	sock     *websocket.Conn
	log      logx.Logger

	send chan pushFrame

	mu     sync.Mutex
	acks   map[string]chan string // delivery id -> ack value
	closed chan struct{}
	once   sync.Once

	// onClose is invoked exactly once when either pump dies.
	onClose func()
}

func newConn(socketID string, sock *websocket.Conn, log logx.Logger, onClose func()) *conn {
	return &conn{
		socketID: socketID,
		sock:     sock,
		log:      log,
		send:     make(chan pushFrame, sendBuffer),
		acks:     map[string]chan string{},
		closed:   make(chan struct{}),
		onClose:  onClose,
	}
}

// Push sends one notification and blocks until the client acknowledges it,
// ctx expires, or the channel dies. A nil return means a positive ack.
func (c *conn) Push(ctx context.Context, n session.Notification) error {
	did := uuid.NewString()
	ackCh := make(chan string, 1)

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrChannelDown
	default:
	}
	c.acks[did] = ackCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.acks, did)
		c.mu.Unlock()
	}()

	frame := pushFrame{Event: notificationEvent, DeliveryID: did, Notification: n}
	select {
	case c.send <- frame:
	case <-c.closed:
		return ErrChannelDown
	case <-ctx.Done():
		return ErrSendBlocked
	}

	select {
	case ack := <-ackCh:
		if ack != ackOK {
			return fmt.Errorf("%w: %q", ErrNegativeAck, ack)
		}
		return nil
	case <-c.closed:
		return ErrChannelDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run starts both pumps and blocks until the connection dies.
func (c *conn) run() {
	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer c.close()

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ack ackFrame
		if err := c.sock.ReadJSON(&ack); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read pump error", logx.String("socket", c.socketID), logx.Err(err))
			}
			return
		}
		if ack.DeliveryID == "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.acks[ack.DeliveryID]
		c.mu.Unlock()
		if !ok {
			// Late ack for a delivery that already timed out; the retry
			// protocol covers it, nothing to do here.
			continue
		}
		select {
		case ch <- ack.Ack:
		default:
		}
	}
}

func (c *conn) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.close()

	for {
		select {
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(frame); err != nil {
				c.log.Debug("write pump error", logx.String("socket", c.socketID), logx.Err(err))
				return
			}
		case <-ping.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// close tears the connection down exactly once and notifies the gateway.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.sock.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}
