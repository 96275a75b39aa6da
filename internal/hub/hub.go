package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"roulette/internal/matcher"
	"roulette/internal/queue"
	"roulette/internal/ratelimit"
	"roulette/internal/router"
	"roulette/internal/safety"
	"roulette/internal/session"
	"roulette/pkg/types"
)

// Journal receives every ended session
type Journal interface {
	Record(rec types.SessionRecord)
}

// Moderator receives reports flagged for human review
type Moderator interface {
	Publish(report types.Report)
}

// Limits are the per-action rate-limit budgets
// Connect is enforced by the transport on the shared limiter; the hub only
// needs its window so the sweep never prunes a live connect history
type Limits struct {
	Connect ratelimit.Budget
	General ratelimit.Budget
	Ready   ratelimit.Budget
	Chat    ratelimit.Budget
	Report  ratelimit.Budget
}

// Config tunes the hub
type Config struct {
	EventBuffer     int
	SessionTimeout  time.Duration
	SweepInterval   time.Duration
	RequeuePriority int
	Limits          Limits
	Weights         matcher.Weights
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		EventBuffer:     1000,
		SessionTimeout:  5 * time.Minute,
		SweepInterval:   60 * time.Second,
		RequeuePriority: 1,
		Limits: Limits{
			Connect: ratelimit.Budget{Max: 20, Window: time.Minute},
			General: ratelimit.Budget{Max: 300, Window: time.Minute},
			Ready:   ratelimit.Budget{Max: 10, Window: time.Minute},
			Chat:    ratelimit.Budget{Max: 30, Window: time.Minute},
			Report:  ratelimit.Budget{Max: 5, Window: 10 * time.Minute},
		},
		Weights: matcher.DefaultWeights(),
	}
}

// Dependencies are the collaborators injected into the hub
type Dependencies struct {
	Sender    router.Sender
	Limiter   *ratelimit.Limiter
	Journal   Journal
	Moderator Moderator
	Logger    *zap.Logger
	Now       func() time.Time
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventConnect
	eventDisconnect
	eventSweep
	eventStats
)

type event struct {
	kind     eventKind
	clientID string
	envelope *types.Envelope
	reply    chan types.Stats
}

// Hub is the single serialization point of the engine
// ARCHITECTURAL DISCOVERY: One goroutine owns the queue, the connection
// registry, the safety ledger and every matching decision. Connects, messages,
// disconnects, sweeps and stats queries all arrive on one channel and each is
// processed to completion before the next.
type Hub struct {
	events   chan event
	shutdown chan struct{}
	done     chan struct{}

	// Owned by the run goroutine
	clients  map[string]time.Time
	sessions *session.Manager
	queue    *queue.Queue
	ledger   *safety.Ledger
	matcher  *matcher.Matcher
	router   *router.Router

	limiter   *ratelimit.Limiter
	sender    router.Sender
	journal   Journal
	moderator Moderator
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	startedAt time.Time

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub(cfg Config, deps Dependencies) *Hub {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiterWithClock(deps.Now)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	sessions := session.NewManager()
	h := &Hub{
		events:    make(chan event, cfg.EventBuffer),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		clients:   make(map[string]time.Time),
		sessions:  sessions,
		queue:     queue.New(),
		ledger:    safety.NewLedger(deps.Logger.Named("safety"), deps.Now),
		matcher:   matcher.New(cfg.Weights),
		limiter:   deps.Limiter,
		sender:    deps.Sender,
		journal:   deps.Journal,
		moderator: deps.Moderator,
		cfg:       cfg,
		logger:    deps.Logger,
		now:       deps.Now,
		startedAt: deps.Now(),
	}
	h.router = router.NewRouter(sessions, deps.Sender, deps.Limiter, router.Options{
		ChatBudget: cfg.Limits.Chat,
		Logger:     deps.Logger.Named("relay"),
		Now:        deps.Now,
	})
	return h
}

// Start begins hub processing and the reaper ticker
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("Starting matchmaking hub",
		zap.Duration("session_timeout", h.cfg.SessionTimeout),
		zap.Duration("sweep_interval", h.cfg.SweepInterval))

	go h.run(ctx)
	if h.cfg.SweepInterval > 0 {
		go h.runReaper(ctx, h.cfg.SweepInterval)
	}
	return nil
}

// Stop shuts the hub down and waits for the event loop to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	h.logger.Info("Stopping matchmaking hub")
	<-h.done
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect registers a newly accepted client; the hub greets it with its id
func (h *Hub) Connect(clientID string) error {
	if !types.IsValidClientID(clientID) {
		return ErrInvalidClientID
	}
	return h.enqueueBlocking(event{kind: eventConnect, clientID: clientID})
}

// Submit queues an inbound envelope from clientID
// TECHNICAL DISCOVERY: Non-blocking send so a flooded hub sheds load instead
// of stalling every read pump
func (h *Hub) Submit(clientID string, env *types.Envelope) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.events <- event{kind: eventMessage, clientID: clientID, envelope: env}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Disconnect queues the transport-level disconnect of clientID
// Disconnects are never dropped; the call blocks until queued or the hub stops
func (h *Hub) Disconnect(clientID string) error {
	return h.enqueueBlocking(event{kind: eventDisconnect, clientID: clientID})
}

// Sweep queues a reaper pass
func (h *Hub) Sweep() error {
	return h.enqueueBlocking(event{kind: eventSweep})
}

// Stats returns a read-only snapshot taken inside the event loop
func (h *Hub) Stats(ctx context.Context) (types.Stats, error) {
	if !h.isRunning() {
		return types.Stats{}, ErrHubNotRunning
	}
	reply := make(chan types.Stats, 1)
	select {
	case h.events <- event{kind: eventStats, reply: reply}:
	case <-h.shutdown:
		return types.Stats{}, ErrHubNotRunning
	case <-ctx.Done():
		return types.Stats{}, ctx.Err()
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-h.done:
		return types.Stats{}, ErrHubNotRunning
	case <-ctx.Done():
		return types.Stats{}, ctx.Err()
	}
}

func (h *Hub) enqueueBlocking(ev event) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.shutdown:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Info("Hub processing stopped")

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case <-h.shutdown:
			h.drain()
			return
		case <-ctx.Done():
			h.logger.Info("Hub context cancelled")
			return
		}
	}
}

// drain processes events queued before Stop so accepted disconnects still
// end their sessions
func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		default:
			return
		}
	}
}

// handle processes one event and recovers from panics at the event boundary
// FUNCTIONAL DISCOVERY: A failing event never takes the loop down; the
// triggering client gets a generic internal error instead
func (h *Hub) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered panic in event handler",
				zap.Any("panic", r),
				zap.String("client", ev.clientID),
				zap.Int("kind", int(ev.kind)))
			if ev.kind == eventMessage {
				h.sendError(ev.clientID, errInternal)
			}
		}
	}()

	switch ev.kind {
	case eventConnect:
		h.handleConnect(ev.clientID)
	case eventMessage:
		if err := h.handleMessage(ev.clientID, ev.envelope); err != nil {
			h.sendError(ev.clientID, err)
		}
	case eventDisconnect:
		h.handleDisconnect(ev.clientID)
	case eventSweep:
		h.sweep()
	case eventStats:
		ev.reply <- h.snapshot()
	}
}

func (h *Hub) handleConnect(clientID string) {
	h.clients[clientID] = h.now()
	h.send(clientID, types.NewOutbound(types.EventConnected, types.ConnectedPayload{ID: clientID}))
	h.logger.Debug("Client connected", zap.String("client", clientID))
}

func (h *Hub) snapshot() types.Stats {
	return types.Stats{
		ActiveConnections: len(h.clients),
		ActiveSessions:    h.sessions.MatchedSessions(),
		QueueSize:         h.queue.Len(),
		ReportCount:       h.ledger.ReportCount(),
		BlockedPairs:      h.ledger.BlockedPairs(),
		UptimeSeconds:     h.now().Sub(h.startedAt).Seconds(),
	}
}

func (h *Hub) send(clientID string, msg types.OutboundMessage) {
	if h.sender == nil {
		return
	}
	if !h.sender.Send(clientID, msg) {
		h.logger.Debug("Outbound message dropped",
			zap.String("client", clientID),
			zap.String("type", msg.Type))
	}
}
