// Package ws is the push-channel transport: it upgrades HTTP requests to
// websockets, authenticates the handshake against the external session store,
// and binds each accepted channel into the delivery engine's registry.
package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifyd/internal/dispatch"
	"notifyd/internal/session"
	logx "notifyd/pkg/logx"
)

// Handshake rejection reasons, mirrored to the client verbatim.
const (
	reasonNoSession  = "Authentication error."
	reasonBadSession = "Bad session id."
)

// Core is the slice of the delivery engine the gateway needs.
type Core interface {
	Authenticate(ctx context.Context, token string) (string, error)
	Attach(s *session.Session)
	Detach(socketID string)
}

type Gateway struct {
	core     Core
	log      logx.Logger
	upgrader websocket.Upgrader
}

// NewGateway builds a gateway with origin checking. Empty or ["*"]
// allowedOrigins allows everything; requests without an Origin header
// (non-browser clients) always pass.
func NewGateway(core Core, allowedOrigins []string, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return &Gateway{
		core: core,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients
				}
				return originSet[origin]
			},
		},
	}
}

// ServeHTTP handles GET /ws?session=<token>.
//
// The token is authenticated before the upgrade so a rejected client gets a
// plain HTTP status instead of an immediately-closed socket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("session")
	if token == "" {
		http.Error(w, reasonNoSession, http.StatusUnauthorized)
		return
	}

	userID, err := g.core.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, dispatch.ErrBadSession) {
			http.Error(w, reasonBadSession, http.StatusUnauthorized)
			return
		}
		g.log.Error("handshake store lookup failed", logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	socketID := uuid.NewString()
	c := newConn(socketID, sock, g.log, func() {
		// Disconnect removes the session immediately and unconditionally.
		g.core.Detach(socketID)
	})

	g.core.Attach(&session.Session{
		SocketID: socketID,
		UserID:   userID,
		Token:    token,
		Pusher:   c,
	})

	g.log.Info("client connected",
		logx.String("socket", socketID),
		logx.String("user", userID),
	)

	go c.run()
}
