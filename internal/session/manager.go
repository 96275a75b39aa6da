package session

import (
	"time"

	"roulette/pkg/types"
)

// Manager is the connection registry: clientID -> matched-session state
// ARCHITECTURAL DISCOVERY: The hub goroutine is the only caller, so the map
// carries no lock. It is NOT safe for concurrent use.
type Manager struct {
	entries map[string]*types.ConnectionEntry
}

// NewManager creates an empty registry
func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*types.ConnectionEntry),
	}
}

// Get returns the entry for clientID
func (m *Manager) Get(clientID string) (*types.ConnectionEntry, bool) {
	entry, exists := m.entries[clientID]
	return entry, exists
}

// Put stores entry, replacing any previous entry for the same client
func (m *Manager) Put(entry *types.ConnectionEntry) {
	m.entries[entry.ClientID] = entry
}

// Delete removes the entry for clientID and returns it
func (m *Manager) Delete(clientID string) (*types.ConnectionEntry, bool) {
	entry, exists := m.entries[clientID]
	if exists {
		delete(m.entries, clientID)
	}
	return entry, exists
}

// Touch refreshes lastSeen. Reports whether the client has an entry.
func (m *Manager) Touch(clientID string, now time.Time) bool {
	entry, exists := m.entries[clientID]
	if !exists {
		return false
	}
	entry.LastSeen = now
	return true
}

// Pair creates symmetric entries for a and b with a shared session
// FUNCTIONAL DISCOVERY: Both entries are written in the same hub event so the
// symmetry invariant is never observable as broken after pairing
func (m *Manager) Pair(a, b types.QueueEntry, sessionID string, score float64, now time.Time) (*types.ConnectionEntry, *types.ConnectionEntry) {
	ea := &types.ConnectionEntry{
		ClientID:     a.ClientID,
		Profile:      a.Profile,
		Filters:      a.Filters,
		MatchedWith:  b.ClientID,
		SessionID:    sessionID,
		SessionStart: now,
		LastSeen:     now,
		MatchScore:   score,
	}
	eb := &types.ConnectionEntry{
		ClientID:     b.ClientID,
		Profile:      b.Profile,
		Filters:      b.Filters,
		MatchedWith:  a.ClientID,
		SessionID:    sessionID,
		SessionStart: now,
		LastSeen:     now,
		MatchScore:   score,
	}
	m.entries[a.ClientID] = ea
	m.entries[b.ClientID] = eb
	return ea, eb
}

// Validate returns the sender's entry if it exists and is matched with peerID
// ARCHITECTURAL DISCOVERY: Existence plus symmetry check prevents spoofed or
// stale routing to a third party after a match has ended
func (m *Manager) Validate(senderID, peerID string) (*types.ConnectionEntry, error) {
	entry, exists := m.entries[senderID]
	if !exists {
		return nil, ErrInvalidConnection
	}
	if peerID == "" || entry.MatchedWith != peerID {
		return nil, ErrInvalidConnection
	}
	return entry, nil
}

// Peer returns the sender's entry and its current peer id
func (m *Manager) Peer(senderID string) (*types.ConnectionEntry, error) {
	entry, exists := m.entries[senderID]
	if !exists || entry.HalfOpen() {
		return nil, ErrInvalidConnection
	}
	return entry, nil
}

// All returns a snapshot of the entries
func (m *Manager) All() []*types.ConnectionEntry {
	out := make([]*types.ConnectionEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	return out
}

// StaleSince returns the ids of entries whose lastSeen is before cutoff
func (m *Manager) StaleSince(cutoff time.Time) []string {
	var stale []string
	for id, entry := range m.entries {
		if entry.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Len returns the number of entries, half-open ones included
func (m *Manager) Len() int {
	return len(m.entries)
}

// MatchedSessions returns the number of live sessions (pairs with both sides present)
func (m *Manager) MatchedSessions() int {
	matched := 0
	for _, entry := range m.entries {
		if !entry.HalfOpen() {
			matched++
		}
	}
	return matched / 2
}
