package hub

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"roulette/pkg/types"
)

// runReaper enqueues a sweep event on every tick
// ARCHITECTURAL DISCOVERY: The ticker never touches state itself; the sweep
// runs inside the event loop like any client message
func (h *Hub) runReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.Sweep(); err != nil {
				return
			}
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep evicts idle registry entries and stale queue entries
func (h *Hub) sweep() {
	now := h.now()
	cutoff := now.Add(-h.cfg.SessionTimeout)

	stale := h.sessions.StaleSince(cutoff)
	sort.Strings(stale)
	staleSet := make(map[string]bool, len(stale))
	for _, id := range stale {
		staleSet[id] = true
	}

	// FUNCTIONAL DISCOVERY: A peer that is stale in the same sweep is not
	// notified or re-queued; it is about to be evicted itself
	for _, id := range stale {
		entry, exists := h.sessions.Delete(id)
		if !exists || entry.HalfOpen() {
			continue
		}
		h.endSession(entry, types.EndReasonTimeout, !staleSet[entry.MatchedWith])
	}

	evicted := h.queue.EvictOlderThan(cutoff)
	pruned := h.limiter.Cleanup(h.limiterIdle())

	if len(stale) > 0 || len(evicted) > 0 {
		h.logger.Info("Reaper sweep",
			zap.Int("evicted_connections", len(stale)),
			zap.Int("evicted_queue", len(evicted)),
			zap.Int("pruned_limiter_keys", pruned))
	}
}

// limiterIdle is the longest budget window on the shared limiter, connect
// budget included; older limiter state is irrelevant
func (h *Hub) limiterIdle() time.Duration {
	l := h.cfg.Limits
	idle := l.General.Window
	for _, w := range []time.Duration{l.Connect.Window, l.Ready.Window, l.Chat.Window, l.Report.Window} {
		if w > idle {
			idle = w
		}
	}
	return idle
}
