package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roulette/internal/ratelimit"
	"roulette/pkg/types"
)

// Engine is the event sink behind the transport
type Engine interface {
	Connect(clientID string) error
	Submit(clientID string, env *types.Envelope) error
	Disconnect(clientID string) error
}

// HandlerConfig tunes the transport
type HandlerConfig struct {
	ConnectBudget   ratelimit.Budget
	FramesPerSecond float64
	FrameBurst      int
	MaxMessageBytes int64
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	AllowedOrigins  []string
}

// DefaultHandlerConfig returns production transport settings
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ConnectBudget:   ratelimit.Budget{Max: 20, Window: time.Minute},
		FramesPerSecond: 50,
		FrameBurst:      100,
		MaxMessageBytes: 64 * 1024,
		SendBuffer:      100,
		WriteTimeout:    5 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
	}
}

// Handler upgrades HTTP requests and pumps frames into the engine
// ARCHITECTURAL DISCOVERY: Multi-stage admission (connect budget -> upgrade ->
// registration -> engine) so rejected clients never consume a socket
type Handler struct {
	registry *Registry
	engine   Engine
	limiter  *ratelimit.Limiter
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
	pumps    sync.WaitGroup // one per running read pump
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *Registry, engine Engine, limiter *ratelimit.Limiter, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter()
	}
	h := &Handler{
		registry: registry,
		engine:   engine,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles a websocket connection request
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	// TECHNICAL DISCOVERY: Coarse budget keyed by network address, checked
	// before the upgrade so floods never allocate sockets
	if !h.limiter.AllowBudget(ratelimit.Key("conn", ip), h.cfg.ConnectBudget) {
		h.logger.Warn("Connection rate limited", zap.String("ip", ip))
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	conn := NewConnection(ws, clientID, ip, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("Failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	if err := h.engine.Connect(clientID); err != nil {
		h.logger.Error("Engine rejected connection", zap.String("client", clientID), zap.Error(err))
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	h.pumps.Add(1)
	go h.handleConnection(conn)
}

// Wait blocks until every read pump has exited and delivered its disconnect,
// or ctx ends first
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection runs the read pump until the socket closes
func (h *Handler) handleConnection(conn *Connection) {
	clientID := conn.ClientID()
	defer func() {
		defer h.pumps.Done()
		// FUNCTIONAL DISCOVERY: Transport close is the disconnect event
		h.registry.Unregister(conn)
		_ = conn.Close()
		if err := h.engine.Disconnect(clientID); err != nil {
			h.logger.Debug("Disconnect not delivered", zap.String("client", clientID), zap.Error(err))
		}
	}()

	if h.cfg.MaxMessageBytes > 0 {
		conn.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	if h.cfg.PongWait > 0 {
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		conn.conn.SetPongHandler(func(string) error {
			return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}
	if h.cfg.PingInterval > 0 {
		go h.pingLoop(conn)
	}

	flood := rate.NewLimiter(rate.Inf, 0)
	if h.cfg.FramesPerSecond > 0 {
		flood = rate.NewLimiter(rate.Limit(h.cfg.FramesPerSecond), h.cfg.FrameBurst)
	}

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("client", clientID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !flood.Allow() {
			h.logger.Warn("Frame dropped by flood guard", zap.String("client", clientID))
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.replyError(conn, types.ErrorPayload{Message: types.ErrInvalidPayload.Error(), Code: types.CodeValidation})
			continue
		}

		if err := h.engine.Submit(clientID, &env); err != nil {
			h.logger.Warn("Event not accepted", zap.String("client", clientID), zap.Error(err))
			h.replyError(conn, types.ErrorPayload{Message: "server busy", Code: types.CodeInternal})
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) replyError(conn *Connection, payload types.ErrorPayload) {
	if err := conn.WriteJSON(types.NewOutbound(types.EventError, payload)); err != nil {
		h.logger.Debug("Failed to send error", zap.String("client", conn.ClientID()), zap.Error(err))
	}
}

// remoteIP strips the port from the request's remote address
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
