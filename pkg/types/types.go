package types

import (
	"encoding/json"
	"time"
)

// Inbound event types sent by clients over the websocket
// ARCHITECTURAL DISCOVERY: Event names are the wire contract with browser clients
// and must not change without a coordinated client release
const (
	EventReady             = "ready"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICE               = "ice"
	EventChatMessage       = "chat-message"
	EventConnectionQuality = "connection-quality"
	EventReport            = "report"
	EventBlock             = "block"
	EventHeartbeat         = "heartbeat"
)

// Outbound event types emitted by the engine
const (
	EventConnected             = "connected"
	EventMatched               = "matched"
	EventWaiting               = "waiting"
	EventPeerConnectionQuality = "peer-connection-quality"
	EventReported              = "reported"
	EventBlocked               = "blocked"
	EventPeerDisconnected      = "peer-disconnected"
	EventError                 = "error"
)

// Genders and gender preferences
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
	GenderAny    = "any"
)

// Report reasons
const (
	ReasonInappropriate = "inappropriate"
	ReasonSpam          = "spam"
	ReasonHarassment    = "harassment"
	ReasonFakeProfile   = "fake-profile"
	ReasonOther         = "other"
)

// Session end reasons carried by peer-disconnected
const (
	EndReasonDisconnect = "disconnect"
	EndReasonTimeout    = "timeout"
	EndReasonNext       = "next"
)

// Error codes carried by error messages
const (
	CodeValidation   = "validation"
	CodeInvalidState = "invalid_state"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// Location is an optional coarse location attached to a profile
type Location struct {
	Country string `json:"country,omitempty" yaml:"country,omitempty"`
	City    string `json:"city,omitempty" yaml:"city,omitempty"`
}

// ClientProfile is submitted with every ready event and replaced wholesale
// on re-submission
type ClientProfile struct {
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Bio       string    `json:"bio,omitempty"`
	Interests []string  `json:"interests,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// MatchFilters constrain which partners a client accepts
// Zero ages mean "omitted" and are defaulted by Validate; an explicit zero on
// the wire is rejected while decoding
type MatchFilters struct {
	GenderPref string `json:"genderPref,omitempty"`
	AgeMin     int    `json:"ageMin,omitempty"`
	AgeMax     int    `json:"ageMax,omitempty"`
}

// QueueEntry is a client waiting for a partner
// FUNCTIONAL DISCOVERY: Priority is raised for peers whose partner just left so
// they are favoured by the wait-time bonus when the next arrival is scored
type QueueEntry struct {
	ClientID   string
	Profile    ClientProfile
	Filters    MatchFilters
	EnqueuedAt time.Time
	Priority   int
}

// ConnectionEntry is the matched-session state of a client
// MatchedWith is empty once the peer has left (half-open)
type ConnectionEntry struct {
	ClientID     string
	Profile      ClientProfile
	Filters      MatchFilters
	MatchedWith  string
	SessionID    string
	SessionStart time.Time
	LastSeen     time.Time
	MatchScore   float64
}

// HalfOpen reports whether the peer of this entry has already left
func (e *ConnectionEntry) HalfOpen() bool {
	return e.MatchedWith == ""
}

// Report is an append-only abuse report
type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporterId"`
	TargetID   string    `json:"targetId"`
	Reason     string    `json:"reason"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Flagged    bool      `json:"flagged"`
}

// Envelope is the frame format in both directions
// TECHNICAL DISCOVERY: Payload stays raw until the event type is known so each
// event is decoded into exactly one typed payload at the boundary
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is an envelope with an already typed payload
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewOutbound builds an outbound message
func NewOutbound(eventType string, payload interface{}) OutboundMessage {
	return OutboundMessage{Type: eventType, Payload: payload}
}

// Inbound payloads

// ReadyPayload enters the waiting queue with a fresh profile and filters
type ReadyPayload struct {
	Profile ClientProfile `json:"profile"`
	Filters MatchFilters  `json:"filters"`
}

// SessionDescriptionPayload carries an offer or answer SDP for the matched peer
type SessionDescriptionPayload struct {
	To  string          `json:"to"`
	SDP json.RawMessage `json:"sdp"`
}

// ICEPayload carries one ICE candidate for the matched peer
type ICEPayload struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// ChatPayload is an in-call text message
type ChatPayload struct {
	Message string `json:"message"`
}

// QualityPayload reports the sender's connection quality
type QualityPayload struct {
	Quality string          `json:"quality"`
	Stats   json.RawMessage `json:"stats,omitempty"`
}

// ReportPayload files an abuse report against target
type ReportPayload struct {
	Target  string `json:"target"`
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// BlockPayload keeps the sender and target from being matched again
type BlockPayload struct {
	Target string `json:"target"`
}

// Outbound payloads

// ConnectedPayload hands a new client its server-assigned id
type ConnectedPayload struct {
	ID string `json:"id"`
}

// MatchedPayload announces a partner; the initiator sends the WebRTC offer
type MatchedPayload struct {
	PeerID      string        `json:"peerId"`
	PeerProfile ClientProfile `json:"peerProfile"`
	MatchScore  float64       `json:"matchScore"`
	SessionID   string        `json:"sessionId"`
	Initiator   bool          `json:"initiator"`
}

// WaitingPayload reports the client's 1-indexed queue position
type WaitingPayload struct {
	QueuePosition int `json:"queuePosition"`
}

// RelayedSessionDescription is an offer or answer as delivered to the peer
type RelayedSessionDescription struct {
	From      string          `json:"from"`
	SDP       json.RawMessage `json:"sdp"`
	Timestamp int64           `json:"timestamp"`
}

// RelayedICE is an ICE candidate as delivered to the peer
type RelayedICE struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// RelayedChat is a chat message as delivered to the peer
type RelayedChat struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// RelayedQuality is sent as peer-connection-quality
type RelayedQuality struct {
	From    string          `json:"from"`
	Quality string          `json:"quality"`
	Stats   json.RawMessage `json:"stats,omitempty"`
}

// TargetAck acknowledges a report or block
type TargetAck struct {
	Target string `json:"target"`
}

// PeerDisconnectedPayload tells a client its session ended and why
type PeerDisconnectedPayload struct {
	ID              string `json:"id"`
	SessionDuration int64  `json:"sessionDuration"`
	Reason          string `json:"reason"`
}

// ErrorPayload describes a rejected event
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Stats is the read-only status snapshot for operational tooling
type Stats struct {
	ActiveConnections int     `json:"activeConnections"`
	ActiveSessions    int     `json:"activeSessions"`
	QueueSize         int     `json:"queueSize"`
	ReportCount       int     `json:"reportCount"`
	BlockedPairs      int     `json:"blockedPairs"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// SessionRecord describes an ended session for the journal
type SessionRecord struct {
	ID         string    `json:"id"`
	ClientA    string    `json:"clientA"`
	ClientB    string    `json:"clientB"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	DurationMs int64     `json:"durationMs"`
	MatchScore float64   `json:"matchScore"`
	EndReason  string    `json:"endReason"`
}
