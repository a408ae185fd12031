// Package session tracks the currently connected, authenticated push channels.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"notifyd/internal/identity"
)

// Notification is the payload pushed to a client over its channel.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Pusher delivers one notification over a live channel and blocks until the
// remote acknowledges it, the context expires, or the channel dies. A nil
// return means a positive ("OK") acknowledgment; anything else is a failed
// delivery attempt.
type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// Session is one live, authenticated push channel.
// UserID is immutable for the session's lifetime.
type Session struct {
	SocketID string
	UserID   string
	Token    string
	Pusher   Pusher
}

// Registry owns the set of live sessions. The connection lifecycle mutates it;
// the delivery engine only reads through Matching. Safe for concurrent use.
//
// No uniqueness is enforced on UserID: a user with several devices holds
// several sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // socket id -> session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Register adds a session after successful authentication.
// A re-register with the same socket id replaces the previous entry.
func (r *Registry) Register(s *Session) {
	if s == nil || s.SocketID == "" {
		return
	}
	r.mu.Lock()
	r.sessions[s.SocketID] = s
	r.mu.Unlock()
}

// Unregister removes the session with that socket id, if present.
// Idempotent: unknown ids are a no-op.
func (r *Registry) Unregister(socketID string) {
	r.mu.Lock()
	delete(r.sessions, socketID)
	r.mu.Unlock()
}

// Get returns the session for a socket id.
func (r *Registry) Get(socketID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[socketID]
	return s, ok
}

// Matching returns the live sessions a message addressed to targetUser may
// reach. With boundSocketID set, only the session with exactly that socket id
// qualifies (a retry narrowed to one socket after a partial failure).
func (r *Registry) Matching(targetUser, boundSocketID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if boundSocketID != "" {
		s, ok := r.sessions[boundSocketID]
		if !ok || !identity.Match(s.UserID, targetUser) {
			return nil
		}
		return []*Session{s}
	}

	var out []*Session
	for _, s := range r.sessions {
		if identity.Match(s.UserID, targetUser) {
			out = append(out, s)
		}
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
