package router

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"roulette/internal/ratelimit"
	"roulette/internal/session"
	"roulette/pkg/types"
)

// Sender delivers an outbound message to a connected client
// ARCHITECTURAL DISCOVERY: Fire-and-forget; false means the client has no live
// transport or its write buffer is full. Callers never wait on the network.
type Sender interface {
	Send(clientID string, msg types.OutboundMessage) bool
}

// Router is the signaling relay between two matched clients
// ARCHITECTURAL DISCOVERY: Pure pass-through; SDP, ICE and stats payloads stay
// as raw JSON and are never interpreted
type Router struct {
	sessions   *session.Manager
	sender     Sender
	limiter    *ratelimit.Limiter
	chatBudget ratelimit.Budget
	logger     *zap.Logger
	now        func() time.Time
}

// Options configures a Router
type Options struct {
	ChatBudget ratelimit.Budget
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewRouter creates a new signaling relay
func NewRouter(sessions *session.Manager, sender Sender, limiter *ratelimit.Limiter, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		sessions:   sessions,
		sender:     sender,
		limiter:    limiter,
		chatBudget: opts.ChatBudget,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// IsRelayEvent reports whether eventType is handled by RouteMessage
func IsRelayEvent(eventType string) bool {
	switch eventType {
	case types.EventOffer, types.EventAnswer, types.EventICE,
		types.EventChatMessage, types.EventConnectionQuality:
		return true
	default:
		return false
	}
}

// RouteMessage decodes, validates and relays one negotiation or chat event
// FUNCTIONAL DISCOVERY: Payload validation happens before the registry check so
// malformed frames are reported as validation errors, not state errors
func (r *Router) RouteMessage(senderID string, env *types.Envelope) error {
	switch env.Type {
	case types.EventOffer, types.EventAnswer:
		var p types.SessionDescriptionPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.relaySessionDescription(senderID, env.Type, p)

	case types.EventICE:
		var p types.ICEPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.relayICE(senderID, p)

	case types.EventChatMessage:
		var p types.ChatPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.relayChat(senderID, p)

	case types.EventConnectionQuality:
		var p types.QualityPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.relayQuality(senderID, p)

	default:
		return ErrUnsupportedEvent
	}
}

func (r *Router) relaySessionDescription(senderID, eventType string, p types.SessionDescriptionPayload) error {
	if _, err := r.sessions.Validate(senderID, p.To); err != nil {
		return err
	}
	return r.deliver(p.To, types.NewOutbound(eventType, types.RelayedSessionDescription{
		From:      senderID,
		SDP:       p.SDP,
		Timestamp: r.now().UnixMilli(),
	}))
}

func (r *Router) relayICE(senderID string, p types.ICEPayload) error {
	if _, err := r.sessions.Validate(senderID, p.To); err != nil {
		return err
	}
	return r.deliver(p.To, types.NewOutbound(types.EventICE, types.RelayedICE{
		From:      senderID,
		Candidate: p.Candidate,
	}))
}

func (r *Router) relayChat(senderID string, p types.ChatPayload) error {
	entry, err := r.sessions.Peer(senderID)
	if err != nil {
		return err
	}

	// TECHNICAL DISCOVERY: Chat has its own budget on top of the general event budget
	if r.limiter != nil && !r.limiter.AllowBudget(ratelimit.Key("chat", senderID), r.chatBudget) {
		return ratelimit.ErrRateLimited
	}

	return r.deliver(entry.MatchedWith, types.NewOutbound(types.EventChatMessage, types.RelayedChat{
		From:      senderID,
		Message:   p.Message,
		Timestamp: r.now().UnixMilli(),
	}))
}

func (r *Router) relayQuality(senderID string, p types.QualityPayload) error {
	entry, err := r.sessions.Peer(senderID)
	if err != nil {
		return err
	}
	return r.deliver(entry.MatchedWith, types.NewOutbound(types.EventPeerConnectionQuality, types.RelayedQuality{
		From:    senderID,
		Quality: p.Quality,
		Stats:   p.Stats,
	}))
}

// deliver hands msg to the peer's transport
// Delivery failure is logged, not surfaced: the disconnect path cleans up the peer
func (r *Router) deliver(peerID string, msg types.OutboundMessage) error {
	if !r.sender.Send(peerID, msg) {
		r.logger.Debug("Relay target unreachable",
			zap.String("peer", peerID),
			zap.String("type", msg.Type),
			zap.Error(ErrPeerUnreachable))
	}
	return nil
}

type validator interface {
	Validate() error
}

func decode(env *types.Envelope, v validator) error {
	if err := types.DecodePayload(env, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return v.Validate()
}
