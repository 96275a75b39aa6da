package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "roulette/pkg/database"
	"roulette/pkg/types"
)

var (
	ErrManagerClosed   = errors.New("database manager is closed")
	ErrWriteTimeout    = errors.New("write operation timeout")
	ErrJournalBackedUp = errors.New("journal write queue is full")
)

const defaultRetryDelay = 5 * time.Second

// Manager is the session journal: an append-only sqlite log of ended sessions
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	retryDelay   time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued write; result is nil for fire-and-forget records
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the journal database and applies the embedded migrations
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	return newManager(config, logger, defaultRetryDelay)
}

func newManager(config *dbconfig.Config, logger *zap.Logger, retryDelay time.Duration) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, config.WriteBuffer),
		retryDelay:   retryDelay,
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	m.wg.Add(1)
	go m.writeLoop()

	logger.Info("Session journal opened", zap.String("path", config.DatabasePath))
	return m, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op, true)
		case <-m.shutdown:
			// Flush whatever the hub queued before shutdown
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op, false)
				default:
					m.logger.Info("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// run executes one write, retrying exactly once after retryDelay
func (m *Manager) run(op writeOperation, retry bool) {
	err := op.operation(m.db)
	if err != nil && retry {
		m.logger.Warn("Database write failed, retrying", zap.Duration("delay", m.retryDelay), zap.Error(err))
		select {
		case <-time.After(m.retryDelay):
			err = op.operation(m.db)
		case <-m.shutdown:
		}
	}
	if err != nil {
		m.logger.Error("Database write failed", zap.Error(err))
	}
	if op.result != nil {
		op.result <- err
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func insertRecord(rec types.SessionRecord) func(*sql.DB) error {
	return func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO session_records
				(id, client_a, client_b, started_at, ended_at, duration_ms, match_score, end_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.ClientA, rec.ClientB,
			rec.StartedAt.UTC(), rec.EndedAt.UTC(),
			rec.DurationMs, rec.MatchScore, rec.EndReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
		}
		return nil
	}
}

// Record queues an ended session without waiting.
// FUNCTIONAL DISCOVERY: Called from the hub goroutine, which must never block
// on disk; a full queue drops the record and logs it.
func (m *Manager) Record(rec types.SessionRecord) {
	if m.isClosed() {
		return
	}
	select {
	case m.writeChannel <- writeOperation{operation: insertRecord(rec)}:
	default:
		m.logger.Warn("Session record dropped", zap.String("session", rec.ID), zap.Error(ErrJournalBackedUp))
	}
}

// RecordSession stores an ended session and waits for the write
func (m *Manager) RecordSession(ctx context.Context, rec types.SessionRecord) error {
	return m.executeWrite(ctx, insertRecord(rec))
}

// ListRecentSessions returns up to limit sessions, most recently ended first
func (m *Manager) ListRecentSessions(ctx context.Context, limit int) ([]types.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, client_a, client_b, started_at, ended_at, duration_ms, match_score, end_reason
		FROM session_records
		ORDER BY ended_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]types.SessionRecord, 0, limit)
	for rows.Next() {
		var rec types.SessionRecord
		if err := rows.Scan(&rec.ID, &rec.ClientA, &rec.ClientB, &rec.StartedAt, &rec.EndedAt,
			&rec.DurationMs, &rec.MatchScore, &rec.EndReason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountSessions returns the number of journaled sessions
func (m *Manager) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.CountSessions(ctx); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains queued writes and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
