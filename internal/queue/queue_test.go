package queue

import (
	"testing"
	"time"

	"roulette/pkg/types"
)

func entry(id string, at time.Time) types.QueueEntry {
	return types.QueueEntry{ClientID: id, EnqueuedAt: at}
}

func TestQueue_InsertionOrder(t *testing.T) {
	q := New()
	now := time.Now()

	if pos := q.Enqueue(entry("a", now)); pos != 1 {
		t.Errorf("expected position 1, got %d", pos)
	}
	if pos := q.Enqueue(entry("b", now)); pos != 2 {
		t.Errorf("expected position 2, got %d", pos)
	}
	q.Enqueue(entry("c", now))

	ids := []string{}
	for _, e := range q.Entries() {
		ids = append(ids, e.ClientID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("unexpected order: %v", ids)
	}
}

func TestQueue_EnqueueReplaces(t *testing.T) {
	q := New()
	now := time.Now()

	q.Enqueue(entry("a", now))
	q.Enqueue(entry("b", now))
	replaced := entry("a", now.Add(time.Second))
	replaced.Priority = 1

	pos := q.Enqueue(replaced)
	if pos != 2 {
		t.Errorf("re-enqueued client should move to the back, got position %d", pos)
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", q.Len())
	}
	got, ok := q.Get("a")
	if !ok || got.Priority != 1 {
		t.Errorf("entry was not replaced: %+v", got)
	}
	if q.Position("b") != 1 {
		t.Errorf("expected b at position 1, got %d", q.Position("b"))
	}
}

func TestQueue_Remove(t *testing.T) {
	q := New()
	now := time.Now()
	q.Enqueue(entry("a", now))
	q.Enqueue(entry("b", now))
	q.Enqueue(entry("c", now))

	if !q.Remove("b") {
		t.Fatal("expected b to be removed")
	}
	if q.Remove("b") {
		t.Error("second remove should report false")
	}
	if q.Contains("b") {
		t.Error("b should be gone")
	}
	if q.Position("c") != 2 {
		t.Errorf("index not rebuilt: c at %d", q.Position("c"))
	}
	if q.Position("missing") != 0 {
		t.Error("missing client should have position 0")
	}
}

func TestQueue_EvictOlderThan(t *testing.T) {
	q := New()
	base := time.Now()
	q.Enqueue(entry("old1", base.Add(-10*time.Minute)))
	q.Enqueue(entry("fresh", base.Add(-time.Minute)))
	q.Enqueue(entry("old2", base.Add(-6*time.Minute)))

	evicted := q.EvictOlderThan(base.Add(-5 * time.Minute))
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evictions, got %v", evicted)
	}
	if q.Len() != 1 || q.Position("fresh") != 1 {
		t.Errorf("unexpected queue after eviction: %+v", q.Entries())
	}
}

func TestQueue_EntriesIsSnapshot(t *testing.T) {
	q := New()
	q.Enqueue(entry("a", time.Now()))
	snap := q.Entries()
	snap[0].ClientID = "mutated"

	if _, ok := q.Get("a"); !ok {
		t.Error("mutating a snapshot must not affect the queue")
	}
}
