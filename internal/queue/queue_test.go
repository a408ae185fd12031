package queue

import (
	"testing"
	"time"
)

func TestEnqueueDrainAll(t *testing.T) {
	t.Parallel()
	q := New()
	q.Enqueue(Message{ID: "1"})
	q.Enqueue(Message{ID: "2"})

	if got := q.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	batch := q.DrainAll()
	if len(batch) != 2 || batch[0].ID != "1" || batch[1].ID != "2" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len after drain = %d, want 0", got)
	}
	if batch := q.DrainAll(); len(batch) != 0 {
		t.Fatalf("second drain not empty: %+v", batch)
	}
}

func TestEnqueueDuringDrainLandsInNextBatch(t *testing.T) {
	t.Parallel()
	q := New()
	q.Enqueue(Message{ID: "1"})
	batch := q.DrainAll()
	q.Enqueue(Message{ID: "2"})

	if len(batch) != 1 || batch[0].ID != "1" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}
	next := q.DrainAll()
	if len(next) != 1 || next[0].ID != "2" {
		t.Fatalf("unexpected second batch: %+v", next)
	}
}

func TestBindReturnsCopy(t *testing.T) {
	t.Parallel()
	m := Message{ID: "1", TargetUser: "alice:app1"}
	bound := m.Bind("sock-1")

	if bound.BoundSocketID != "sock-1" {
		t.Fatalf("BoundSocketID = %q, want sock-1", bound.BoundSocketID)
	}
	if m.BoundSocketID != "" {
		t.Fatal("Bind mutated the original message")
	}
}

func TestAge(t *testing.T) {
	t.Parallel()
	created := time.Now().Add(-3 * time.Second)
	m := Message{CreatedAt: created}
	if got := m.Age(created.Add(3 * time.Second)); got != 3*time.Second {
		t.Fatalf("Age = %v, want 3s", got)
	}
}
