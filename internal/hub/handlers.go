package hub

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roulette/internal/ratelimit"
	"roulette/internal/router"
	"roulette/internal/safety"
	"roulette/internal/session"
	"roulette/pkg/types"
)

var errInternal = errors.New("internal error")

// handleMessage dispatches one inbound envelope
// TECHNICAL DISCOVERY: The general budget is charged for every event, including
// ones that later fail validation
func (h *Hub) handleMessage(clientID string, env *types.Envelope) error {
	if _, connected := h.clients[clientID]; !connected {
		h.logger.Debug("Message from unknown client dropped", zap.String("client", clientID))
		return nil
	}
	if env == nil {
		return types.ErrInvalidPayload
	}
	if !h.limiter.AllowBudget(ratelimit.Key("evt", clientID), h.cfg.Limits.General) {
		return ratelimit.ErrRateLimited
	}

	switch {
	case env.Type == types.EventReady:
		return h.handleReady(clientID, env)
	case router.IsRelayEvent(env.Type):
		return h.router.RouteMessage(clientID, env)
	case env.Type == types.EventReport:
		return h.handleReport(clientID, env)
	case env.Type == types.EventBlock:
		return h.handleBlock(clientID, env)
	case env.Type == types.EventHeartbeat:
		h.sessions.Touch(clientID, h.now())
		return nil
	default:
		return types.ErrUnknownEvent
	}
}

func (h *Hub) handleReady(clientID string, env *types.Envelope) error {
	if !h.limiter.AllowBudget(ratelimit.Key("ready", clientID), h.cfg.Limits.Ready) {
		return ratelimit.ErrRateLimited
	}

	var p types.ReadyPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	// A client asking for a new partner leaves whatever it had before and is
	// not paired straight back with the peer it just skipped
	previous := ""
	if entry, exists := h.sessions.Delete(clientID); exists && !entry.HalfOpen() {
		previous = entry.MatchedWith
		h.endSession(entry, types.EndReasonNext, true)
	}
	h.queue.Remove(clientID)

	h.matchOrEnqueue(types.QueueEntry{
		ClientID:   clientID,
		Profile:    p.Profile,
		Filters:    p.Filters,
		EnqueuedAt: h.now(),
	}, previous)
	return nil
}

// pairFilter excludes blocked pairs and one optional skipped peer
type pairFilter struct {
	ledger *safety.Ledger
	skip   string
}

func (f pairFilter) IsBlocked(a, b string) bool {
	if f.skip != "" && (a == f.skip || b == f.skip) {
		return true
	}
	return f.ledger.IsBlocked(a, b)
}

// matchOrEnqueue pairs candidate with the best waiting partner or queues it
func (h *Hub) matchOrEnqueue(candidate types.QueueEntry, skip string) {
	now := h.now()
	filter := pairFilter{ledger: h.ledger, skip: skip}
	match, score := h.matcher.FindBestMatch(candidate, h.queue.Entries(), filter, now)
	if match == nil {
		pos := h.queue.Enqueue(candidate)
		h.send(candidate.ClientID, types.NewOutbound(types.EventWaiting, types.WaitingPayload{QueuePosition: pos}))
		h.logger.Debug("Client queued", zap.String("client", candidate.ClientID), zap.Int("position", pos))
		return
	}

	h.queue.Remove(match.ClientID)
	sessionID := uuid.New().String()
	h.sessions.Pair(candidate, *match, sessionID, score, now)

	// FUNCTIONAL DISCOVERY: The arriving client initiates the WebRTC offer
	h.send(candidate.ClientID, types.NewOutbound(types.EventMatched, types.MatchedPayload{
		PeerID:      match.ClientID,
		PeerProfile: match.Profile,
		MatchScore:  score,
		SessionID:   sessionID,
		Initiator:   true,
	}))
	h.send(match.ClientID, types.NewOutbound(types.EventMatched, types.MatchedPayload{
		PeerID:      candidate.ClientID,
		PeerProfile: candidate.Profile,
		MatchScore:  score,
		SessionID:   sessionID,
		Initiator:   false,
	}))

	h.logger.Info("Clients matched",
		zap.String("session", sessionID),
		zap.String("client_a", candidate.ClientID),
		zap.String("client_b", match.ClientID),
		zap.Float64("score", score))
}

// endSession closes the session of an entry that was already removed from the
// registry. The surviving peer, if still pointing back, becomes half-open; with
// notify it is told why and re-queued with elevated priority.
func (h *Hub) endSession(leaver *types.ConnectionEntry, reason string, notify bool) {
	now := h.now()
	duration := now.Sub(leaver.SessionStart)

	if h.journal != nil {
		h.journal.Record(types.SessionRecord{
			ID:         leaver.SessionID,
			ClientA:    leaver.ClientID,
			ClientB:    leaver.MatchedWith,
			StartedAt:  leaver.SessionStart,
			EndedAt:    now,
			DurationMs: duration.Milliseconds(),
			MatchScore: leaver.MatchScore,
			EndReason:  reason,
		})
	}

	peer, exists := h.sessions.Get(leaver.MatchedWith)
	if !exists || peer.MatchedWith != leaver.ClientID {
		return
	}
	peer.MatchedWith = ""

	if !notify {
		return
	}

	h.send(peer.ClientID, types.NewOutbound(types.EventPeerDisconnected, types.PeerDisconnectedPayload{
		ID:              leaver.ClientID,
		SessionDuration: duration.Milliseconds(),
		Reason:          reason,
	}))

	pos := h.queue.Enqueue(types.QueueEntry{
		ClientID:   peer.ClientID,
		Profile:    peer.Profile,
		Filters:    peer.Filters,
		EnqueuedAt: now,
		Priority:   h.cfg.RequeuePriority,
	})
	h.send(peer.ClientID, types.NewOutbound(types.EventWaiting, types.WaitingPayload{QueuePosition: pos}))

	h.logger.Info("Session ended",
		zap.String("session", leaver.SessionID),
		zap.String("left", leaver.ClientID),
		zap.String("requeued", peer.ClientID),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
}

func (h *Hub) handleDisconnect(clientID string) {
	delete(h.clients, clientID)
	h.queue.Remove(clientID)

	if entry, exists := h.sessions.Delete(clientID); exists && !entry.HalfOpen() {
		h.endSession(entry, types.EndReasonDisconnect, true)
	}

	h.limiter.Forget(clientID)
	h.logger.Debug("Client disconnected", zap.String("client", clientID))
}

func (h *Hub) handleReport(clientID string, env *types.Envelope) error {
	if !h.limiter.AllowBudget(ratelimit.Key("report", clientID), h.cfg.Limits.Report) {
		return ratelimit.ErrRateLimited
	}

	var p types.ReportPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}
	report, err := h.ledger.Report(clientID, p.Target, p.Reason, p.Details)
	if err != nil {
		return err
	}

	if report.Flagged && h.moderator != nil {
		h.moderator.Publish(report)
	}
	h.send(clientID, types.NewOutbound(types.EventReported, types.TargetAck{Target: p.Target}))
	return nil
}

// handleBlock records the pair; a live session between them is left running
func (h *Hub) handleBlock(clientID string, env *types.Envelope) error {
	var p types.BlockPayload
	if err := types.DecodePayload(env, &p); err != nil {
		return err
	}
	if err := p.Validate(clientID); err != nil {
		return err
	}

	if h.ledger.Block(clientID, p.Target) {
		h.logger.Info("Pair blocked", zap.String("blocker", clientID), zap.String("target", p.Target))
	}
	h.send(clientID, types.NewOutbound(types.EventBlocked, types.TargetAck{Target: p.Target}))
	return nil
}

// sendError reports a failed action back to the client that triggered it
func (h *Hub) sendError(clientID string, err error) {
	code, message := classify(err)
	if code == types.CodeInternal {
		h.logger.Error("Event handling failed", zap.String("client", clientID), zap.Error(err))
	}
	h.send(clientID, types.NewOutbound(types.EventError, types.ErrorPayload{Message: message, Code: code}))
}

// classify maps an error to its wire code and user-facing message
func classify(err error) (string, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return types.CodeValidation, err.Error()
	case errors.Is(err, session.ErrInvalidConnection):
		return types.CodeInvalidState, err.Error()
	case errors.Is(err, ratelimit.ErrRateLimited):
		return types.CodeRateLimited, err.Error()
	default:
		return types.CodeInternal, errInternal.Error()
	}
}
