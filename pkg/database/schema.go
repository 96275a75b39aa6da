package database

import (
	"database/sql"
	"fmt"
)

// journalColumns is the declared type of every session_records column
var journalColumns = map[string]string{
	"id":          "TEXT",
	"client_a":    "TEXT",
	"client_b":    "TEXT",
	"started_at":  "DATETIME",
	"ended_at":    "DATETIME",
	"duration_ms": "INTEGER",
	"match_score": "REAL",
	"end_reason":  "TEXT",
}

var journalIndexes = []string{
	"idx_session_records_ended_at",
	"idx_session_records_reason",
}

// SchemaValidator checks a database against the journal schema
// ARCHITECTURAL DISCOVERY: Kept apart from migrations so a deployment can be
// verified (roulette config check) without writing anything
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check
func (v *SchemaValidator) Validate() error {
	for _, table := range []string{"session_records", "schema_migrations"} {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	if err := v.validateColumns("session_records", journalColumns); err != nil {
		return fmt.Errorf("session_records table structure invalid: %w", err)
	}

	for _, index := range journalIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, dtype  string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dtype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, want := range expected {
		got, exists := found[column]
		if !exists {
			return fmt.Errorf("column %s not found", column)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, want)
		}
	}
	return nil
}
