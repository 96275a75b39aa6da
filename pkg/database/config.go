package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds session journal storage settings
type Config struct {
	DatabasePath    string        `json:"path" yaml:"path"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	// WriteBuffer bounds queued journal writes; further records are dropped
	WriteBuffer int `json:"write_buffer" yaml:"write_buffer"`
}

// DefaultConfig returns production journal settings
// FUNCTIONAL DISCOVERY: The journal is append-mostly; a small pool serves the
// status API reads while one goroutine owns all writes
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/roulette.db",
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteBuffer:     256,
	}
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteBuffer <= 0 {
		return errors.New("write buffer must be greater than 0")
	}
	return nil
}

// DSN returns the sqlite connection string with busy timeout and WAL enabled
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL"
}

const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -16000;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations sets the journal's pragmas on an open pool
func ApplySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
