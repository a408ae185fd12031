package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"notifyd/internal/identity"
	logx "notifyd/pkg/logx"
)

// Sender-facing response strings, preserved verbatim from the wire protocol
// this service replaces.
const (
	responseOK          = "OK"
	responseBadSender   = "Bad sender authorization key."
	responseNoSender    = "Could not find sender authorization key."
	responseRateLimited = "Too many requests."
)

// Submitter is the slice of the delivery engine the API needs.
type Submitter interface {
	Submit(rawUsers []string, sender, msgType string, data json.RawMessage) []string
	QueueLen() int
}

// sessionStore is the slice of the external store the login/logout
// endpoints need.
type sessionStore interface {
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// Config holds the reloadable knobs of the API layer.
type Config struct {
	Senders    []string
	SessionTTL time.Duration
	RatePerSec int
}

type Handler struct {
	mu      sync.RWMutex
	senders map[string]struct{}
	ttl     time.Duration

	engine  Submitter
	store   sessionStore
	limiter *senderLimiter
	metrics statusRecorder
	log     logx.Logger
	version string
}

type statusRecorder interface {
	RecordHTTPStatus(code int)
}

func NewHandler(cfg Config, engine Submitter, store sessionStore, m statusRecorder, log logx.Logger, version string) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		engine:  engine,
		store:   store,
		limiter: newSenderLimiter(cfg.RatePerSec),
		metrics: m,
		log:     log,
		version: version,
	}
	h.Apply(cfg)
	return h
}

// Apply swaps the sender allowlist, TTL, and rate limit at runtime.
func (h *Handler) Apply(cfg Config) {
	senders := make(map[string]struct{}, len(cfg.Senders))
	for _, s := range cfg.Senders {
		senders[s] = struct{}{}
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	h.mu.Lock()
	h.senders = senders
	h.ttl = ttl
	h.mu.Unlock()
	h.limiter.SetRate(cfg.RatePerSec)
}

// Stop releases background resources (rate limiter cleanup).
func (h *Handler) Stop() { h.limiter.Stop() }

func (h *Handler) senderAllowed(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.senders[key]
	return ok
}

func (h *Handler) sessionTTL() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ttl
}

// notifyRequest is the /notify submission body.
type notifyRequest struct {
	Users []string        `json:"users"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// handleNotify accepts a submission and enqueues one pending message per
// resolved identity. Acceptance says nothing about eventual delivery.
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.authorizeSender(w, r)
	if !ok {
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Users) == 0 {
		h.respond(w, http.StatusBadRequest, "no target users")
		return
	}
	for _, u := range req.Users {
		if err := identity.ValidateRaw(u); err != nil {
			h.respond(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	targets := h.engine.Submit(req.Users, sender, req.Type, req.Data)
	h.log.Debug("submission accepted",
		logx.String("sender", sender),
		logx.Int("targets", len(targets)),
	)
	h.respond(w, http.StatusOK, responseOK)
}

// handleLogin writes a session record: the sender vouches that sessionToken
// belongs to user, valid for the configured TTL.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.authorizeSender(w, r)
	if !ok {
		return
	}

	user := r.URL.Query().Get("user")
	token := r.URL.Query().Get("session")
	if token == "" {
		h.respond(w, http.StatusBadRequest, "missing session token")
		return
	}
	if err := identity.ValidateRaw(user); err != nil {
		h.respond(w, http.StatusBadRequest, err.Error())
		return
	}

	canonical := identity.Resolve(user, sender)
	if err := h.store.Put(r.Context(), token, canonical, h.sessionTTL()); err != nil {
		h.log.Error("session store put failed", logx.Err(err))
		h.respond(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respond(w, http.StatusOK, responseOK)
}

// handleLogout deletes the session record for a token.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, ok := h.authorizeSender(w, r)
	if !ok {
		return
	}

	token := r.URL.Query().Get("session")
	if token == "" {
		h.respond(w, http.StatusBadRequest, "missing session token")
		return
	}
	if err := h.store.Delete(r.Context(), token); err != nil {
		h.log.Error("session store delete failed", logx.Err(err))
		h.respond(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respond(w, http.StatusOK, responseOK)
}

// handleHome serves the service info page.
func (h *Handler) handleHome(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"title":   "notifyd notification relay",
		"version": h.version,
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": h.engine.QueueLen(),
	})
}

// authorizeSender checks the sender key and the per-sender rate limit.
// It writes the rejection itself and returns ok=false when the request
// must not proceed.
func (h *Handler) authorizeSender(w http.ResponseWriter, r *http.Request) (string, bool) {
	sender := r.URL.Query().Get("sender")
	if sender == "" {
		h.respond(w, http.StatusUnauthorized, responseNoSender)
		return "", false
	}
	if !h.senderAllowed(sender) {
		h.respond(w, http.StatusUnauthorized, responseBadSender)
		return "", false
	}
	if !h.limiter.Allow(sender) {
		h.respond(w, http.StatusTooManyRequests, responseRateLimited)
		return "", false
	}
	return sender, true
}

func (h *Handler) respond(w http.ResponseWriter, code int, response string) {
	h.writeJSON(w, code, map[string]string{"response": response})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	if h.metrics != nil {
		h.metrics.RecordHTTPStatus(code)
	}
}
