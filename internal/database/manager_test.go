package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "roulette/pkg/database"
	"roulette/pkg/types"
)

func testConfig(t *testing.T) *dbconfig.Config {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "journal", "test.db")
	return cfg
}

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	m, err := newManager(testConfig(t), nil, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func record(id string, ended time.Time, reason string) types.SessionRecord {
	return types.SessionRecord{
		ID:         id,
		ClientA:    "a-" + id,
		ClientB:    "b-" + id,
		StartedAt:  ended.Add(-90 * time.Second),
		EndedAt:    ended,
		DurationMs: 90000,
		MatchScore: 135,
		EndReason:  reason,
	}
}

func TestManager_RecordAndList(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordSession(ctx, record("s1", base, types.EndReasonDisconnect)))
	require.NoError(t, m.RecordSession(ctx, record("s2", base.Add(time.Minute), types.EndReasonNext)))
	require.NoError(t, m.RecordSession(ctx, record("s3", base.Add(2*time.Minute), types.EndReasonTimeout)))

	recent, err := m.ListRecentSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s3", recent[0].ID)
	assert.Equal(t, "s2", recent[1].ID)

	got := recent[0]
	assert.Equal(t, "a-s3", got.ClientA)
	assert.Equal(t, "b-s3", got.ClientB)
	assert.Equal(t, int64(90000), got.DurationMs)
	assert.Equal(t, 135.0, got.MatchScore)
	assert.Equal(t, types.EndReasonTimeout, got.EndReason)
	assert.True(t, got.EndedAt.Equal(base.Add(2*time.Minute)), "ended_at round-trips, got %v", got.EndedAt)

	n, err := m.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestManager_RejectsUnknownReason(t *testing.T) {
	m := setupTestDB(t)

	err := m.RecordSession(context.Background(), record("bad", time.Now(), "vanished"))
	assert.Error(t, err, "check constraint should reject the reason even after the retry")
}

func TestManager_RecordIsFlushedOnClose(t *testing.T) {
	cfg := testConfig(t)
	m, err := newManager(cfg, nil, 10*time.Millisecond)
	require.NoError(t, err)

	now := time.Now()
	for i, id := range []string{"q1", "q2", "q3"} {
		m.Record(record(id, now.Add(time.Duration(i)*time.Second), types.EndReasonDisconnect))
	}
	require.NoError(t, m.Close())

	reopened, err := newManager(cfg, nil, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	n, err := reopened.CountSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestManager_ClosedManager(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	err := m.RecordSession(context.Background(), record("late", time.Now(), types.EndReasonNext))
	assert.True(t, errors.Is(err, ErrManagerClosed))
	assert.ErrorIs(t, m.HealthCheck(context.Background()), ErrManagerClosed)

	// Fire-and-forget after close is silently ignored
	m.Record(record("later", time.Now(), types.EndReasonNext))
}

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	assert.NoError(t, m.HealthCheck(context.Background()))
}

func TestManager_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConnections = 0
	_, err := NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManager_ContextCancelled(t *testing.T) {
	m := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ListRecentSessions(ctx, 10)
	assert.Error(t, err)
}
