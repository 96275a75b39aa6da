package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roulette/internal/config"
	"roulette/internal/database"
	"roulette/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "roulette.db")
	return cfg
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn}
	var connected types.ConnectedPayload
	c.expect(types.EventConnected, &connected)
	c.id = connected.ID
	return c
}

func (c *client) send(eventType string, payload interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.Envelope{Type: eventType, Payload: raw}))
}

// expect reads frames until one of eventType arrives
func (c *client) expect(eventType string, into interface{}) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env types.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", eventType)
		if env.Type == eventType {
			if into != nil {
				require.NoError(c.t, json.Unmarshal(env.Payload, into))
			}
			return
		}
	}
}

func TestApplication_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			_ = application.Stop(context.Background())
		}
	})

	addr := application.Addr()
	a := dial(t, addr)
	b := dial(t, addr)

	a.send(types.EventReady, types.ReadyPayload{
		Profile: types.ClientProfile{Name: "A", Age: 25, Gender: types.GenderMale,
			Interests: []string{"music", "travel"}, Location: &types.Location{Country: "IN"}},
		Filters: types.MatchFilters{GenderPref: types.GenderAny, AgeMin: 18, AgeMax: 100},
	})
	var waiting types.WaitingPayload
	a.expect(types.EventWaiting, &waiting)
	assert.Equal(t, 1, waiting.QueuePosition)

	b.send(types.EventReady, types.ReadyPayload{
		Profile: types.ClientProfile{Name: "B", Age: 23, Gender: types.GenderFemale,
			Interests: []string{"travel", "music", "art"}, Location: &types.Location{Country: "IN"}},
		Filters: types.MatchFilters{GenderPref: types.GenderMale, AgeMin: 18, AgeMax: 100},
	})

	var matchedB, matchedA types.MatchedPayload
	b.expect(types.EventMatched, &matchedB)
	a.expect(types.EventMatched, &matchedA)
	assert.Equal(t, a.id, matchedB.PeerID)
	assert.Equal(t, b.id, matchedA.PeerID)
	assert.True(t, matchedB.Initiator)
	assert.False(t, matchedA.Initiator)
	assert.GreaterOrEqual(t, matchedA.MatchScore, 135.0)
	assert.Equal(t, matchedA.SessionID, matchedB.SessionID)

	b.send(types.EventChatMessage, types.ChatPayload{Message: "hi"})
	var chat types.RelayedChat
	a.expect(types.EventChatMessage, &chat)
	assert.Equal(t, "hi", chat.Message)
	assert.Equal(t, b.id, chat.From)

	resp, err := http.Get("http://" + addr + "/api/stats")
	require.NoError(t, err)
	var stats types.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	_ = resp.Body.Close()
	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, 1, stats.ActiveSessions)

	require.NoError(t, a.conn.Close())
	var left types.PeerDisconnectedPayload
	b.expect(types.EventPeerDisconnected, &left)
	assert.Equal(t, a.id, left.ID)
	assert.Equal(t, types.EndReasonDisconnect, left.Reason)
	b.expect(types.EventWaiting, nil)

	stopped = true
	require.NoError(t, application.Stop(context.Background()))

	journal, err := database.NewManager(&cfg.Database, nil)
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()
	sessions, err := journal.ListRecentSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, matchedA.SessionID, sessions[0].ID)
	assert.Equal(t, types.EndReasonDisconnect, sessions[0].EndReason)
}

// matchPair connects two clients and waits until both are matched
func matchPair(t *testing.T, addr string) {
	t.Helper()
	a := dial(t, addr)
	b := dial(t, addr)
	a.send(types.EventReady, types.ReadyPayload{
		Profile: types.ClientProfile{Name: "A", Age: 30, Gender: types.GenderMale, Interests: []string{"chess"}},
		Filters: types.MatchFilters{GenderPref: types.GenderFemale, AgeMin: 18, AgeMax: 100},
	})
	a.expect(types.EventWaiting, nil)
	b.send(types.EventReady, types.ReadyPayload{
		Profile: types.ClientProfile{Name: "B", Age: 29, Gender: types.GenderFemale, Interests: []string{"chess"}},
		Filters: types.MatchFilters{GenderPref: types.GenderMale, AgeMin: 18, AgeMax: 100},
	})
	b.expect(types.EventMatched, nil)
	a.expect(types.EventMatched, nil)
}

func TestApplication_StopJournalsLiveSessions(t *testing.T) {
	cfg := testConfig(t)
	application, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	const pairs = 5
	for i := 0; i < pairs; i++ {
		matchPair(t, application.Addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))

	journal, err := database.NewManager(&cfg.Database, nil)
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()

	count, err := journal.CountSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pairs, count, "every session live at shutdown must be journaled")

	sessions, err := journal.ListRecentSessions(context.Background(), pairs)
	require.NoError(t, err)
	for _, s := range sessions {
		assert.Equal(t, types.EndReasonDisconnect, s.EndReason)
	}
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	application, err := NewApplication(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + application.config.Address() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = 0
	_, err := NewApplication(cfg, nil)
	assert.Error(t, err)
}

func TestApplication_ConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.Chat.Max = 7
	cfg.Reaper.SessionTimeout = time.Minute
	cfg.HTTP.AllowedOrigins = []string{"https://roulette.example"}

	h := HubConfig(cfg)
	assert.Equal(t, 7, h.Limits.Chat.Max)
	assert.Equal(t, cfg.Limits.Connect, h.Limits.Connect)
	assert.Equal(t, time.Minute, h.SessionTimeout)
	assert.Equal(t, cfg.Matching.Weights, h.Weights)

	w := HandlerConfig(cfg)
	assert.Equal(t, cfg.Limits.Connect, w.ConnectBudget)
	assert.Equal(t, []string{"https://roulette.example"}, w.AllowedOrigins)
}
