package queue

import (
	"time"

	"roulette/pkg/types"
)

// Queue is the insertion-ordered set of clients waiting for a partner
// ARCHITECTURAL DISCOVERY: Owned by the hub goroutine, so it carries no lock.
// It is NOT safe for concurrent use.
type Queue struct {
	entries []types.QueueEntry
	index   map[string]int // clientID -> position in entries
}

// New creates an empty queue
func New() *Queue {
	return &Queue{
		index: make(map[string]int),
	}
}

// Enqueue appends an entry, replacing any existing entry for the same client.
// A replaced entry moves to the back. Returns the 1-indexed position.
func (q *Queue) Enqueue(entry types.QueueEntry) int {
	q.Remove(entry.ClientID)
	q.entries = append(q.entries, entry)
	q.index[entry.ClientID] = len(q.entries) - 1
	return len(q.entries)
}

// Remove deletes the entry for clientID. Reports whether one existed.
func (q *Queue) Remove(clientID string) bool {
	pos, ok := q.index[clientID]
	if !ok {
		return false
	}

	q.entries = append(q.entries[:pos], q.entries[pos+1:]...)
	delete(q.index, clientID)
	for i := pos; i < len(q.entries); i++ {
		q.index[q.entries[i].ClientID] = i
	}
	return true
}

// Get returns the entry for clientID
func (q *Queue) Get(clientID string) (types.QueueEntry, bool) {
	pos, ok := q.index[clientID]
	if !ok {
		return types.QueueEntry{}, false
	}
	return q.entries[pos], true
}

// Contains reports whether clientID is waiting
func (q *Queue) Contains(clientID string) bool {
	_, ok := q.index[clientID]
	return ok
}

// Position returns the 1-indexed position of clientID or 0 when absent
func (q *Queue) Position(clientID string) int {
	pos, ok := q.index[clientID]
	if !ok {
		return 0
	}
	return pos + 1
}

// Entries returns a snapshot in insertion order
func (q *Queue) Entries() []types.QueueEntry {
	out := make([]types.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of waiting clients
func (q *Queue) Len() int {
	return len(q.entries)
}

// EvictOlderThan removes entries enqueued before cutoff and returns their ids
// FUNCTIONAL DISCOVERY: Used by the sweep; evicted clients are not notified
func (q *Queue) EvictOlderThan(cutoff time.Time) []string {
	var evicted []string
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			evicted = append(evicted, e.ClientID)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept

	if len(evicted) > 0 {
		q.index = make(map[string]int, len(q.entries))
		for i, e := range q.entries {
			q.index[e.ClientID] = i
		}
	}
	return evicted
}
