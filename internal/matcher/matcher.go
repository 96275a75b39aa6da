package matcher

import (
	"time"

	"roulette/pkg/types"
)

// BlockChecker reports whether a pair of clients has blocked each other
type BlockChecker interface {
	IsBlocked(a, b string) bool
}

// Matcher selects the best waiting partner for a new arrival
// ARCHITECTURAL DISCOVERY: Pure function of its inputs; the hub owns the queue
// and the ledger and passes snapshots in
type Matcher struct {
	weights Weights
}

// New creates a matcher with the given weights
func New(weights Weights) *Matcher {
	return &Matcher{weights: weights}
}

// Threshold returns the strict lower bound an accepted score must exceed
func (m *Matcher) Threshold() float64 {
	return m.weights.Threshold
}

// FindBestMatch scores every entry against candidate and returns the best one
// whose score strictly exceeds the threshold, or nil.
// FUNCTIONAL DISCOVERY: Ties keep the earliest entry because only a strictly
// greater score replaces the current best, and entries arrive in insertion order
func (m *Matcher) FindBestMatch(candidate types.QueueEntry, entries []types.QueueEntry, blocked BlockChecker, now time.Time) (*types.QueueEntry, float64) {
	var best *types.QueueEntry
	bestScore := 0.0

	for i := range entries {
		other := &entries[i]
		if other.ClientID == candidate.ClientID {
			continue
		}
		if blocked != nil && blocked.IsBlocked(candidate.ClientID, other.ClientID) {
			continue
		}

		score := m.Score(candidate, *other, now)
		if best == nil || score > bestScore {
			best = other
			bestScore = score
		}
	}

	if best == nil || bestScore <= m.weights.Threshold {
		return nil, 0
	}

	match := *best
	return &match, bestScore
}
