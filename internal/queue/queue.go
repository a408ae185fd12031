// Package queue holds notifications awaiting delivery or retry.
package queue

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is one pending notification addressed to one canonical identity.
//
// BoundSocketID is empty for a broadcast to every live session of the target
// user. Once a subset of sockets has acknowledged, retries are split into
// copies bound to the sockets that failed; a bound message never re-widens.
type Message struct {
	ID            string
	TargetUser    string
	Type          string
	Data          json.RawMessage
	CreatedAt     time.Time
	BoundSocketID string
}

// Age is how long the message has been in flight.
func (m Message) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// Bind returns a copy of the message narrowed to a single socket.
func (m Message) Bind(socketID string) Message {
	m.BoundSocketID = socketID
	return m
}

// Queue is an unbounded in-memory pending set.
//
// DrainAll swaps the whole backing slice out under the lock, so a dispatch
// pass iterates a stable snapshot while concurrent Enqueue calls land in a
// fresh queue for the next pass. There is no deduplication: duplicate
// submissions create duplicate messages.
type Queue struct {
	mu      sync.Mutex
	pending []Message
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends a message to the pending set.
func (q *Queue) Enqueue(m Message) {
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()
}

// DrainAll atomically removes and returns every currently pending message.
func (q *Queue) DrainAll() []Message {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	return batch
}

// Len reports the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
