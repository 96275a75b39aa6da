package websocket

import (
	"sync"

	"go.uber.org/zap"

	"roulette/pkg/types"
)

// Registry tracks live sockets by client id
// ARCHITECTURAL DISCOVERY: Pure transport bookkeeping; matched-session state
// lives in the hub. The registry is the hub's outbound Sender.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger
}

// NewRegistry creates a new connection registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Register adds conn, closing any previous connection with the same id
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.ClientID() == "" {
		return ErrMissingClientID
	}

	r.mu.Lock()
	existing, exists := r.connections[conn.ClientID()]
	r.connections[conn.ClientID()] = conn
	r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close outside the lock to prevent deadlock
	if exists && existing != conn {
		if err := existing.Close(); err != nil {
			r.logger.Debug("Failed to close replaced connection", zap.Error(err))
		}
	}
	return nil
}

// Unregister removes conn only if it is still the registered instance
// RACE CONDITION FIX: an old connection must not unregister its replacement
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ClientID()]; exists && registered == conn {
		delete(r.connections, conn.ClientID())
	}
}

// Get returns the connection for a client
func (r *Registry) Get(clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[clientID]
	return conn, exists
}

// Send queues msg for clientID. Returns false when the client is gone or slow.
func (r *Registry) Send(clientID string, msg types.OutboundMessage) bool {
	conn, exists := r.Get(clientID)
	if !exists {
		return false
	}
	if err := conn.WriteJSON(msg); err != nil {
		r.logger.Debug("Dropped outbound message",
			zap.String("client", clientID),
			zap.String("type", msg.Type),
			zap.Error(err))
		return false
	}
	return true
}

// Count returns the number of live sockets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
