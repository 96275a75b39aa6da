package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roulette/internal/app"
	"roulette/internal/config"
	"roulette/pkg/types"
)

const waitTimeout = 3 * time.Second

// TestServer is a fully wired application listening on a loopback port
type TestServer struct {
	app  *app.Application
	Addr string
}

func StartServer(t *testing.T, mutate func(*config.Config)) *TestServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "roulette.db")
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return &TestServer{app: application, Addr: application.Addr()}
}

// Stats polls the status API
func (s *TestServer) Stats(t *testing.T) types.Stats {
	t.Helper()
	resp, err := http.Get("http://" + s.Addr + "/api/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats types.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	return stats
}

// EventuallyStats waits until cond holds for the server's counters
func (s *TestServer) EventuallyStats(t *testing.T, cond func(types.Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Stats(t)) }, waitTimeout, 20*time.Millisecond)
}

// TestClient is a websocket peer that buffers every frame it receives
type TestClient struct {
	ID   string
	Name string

	t        *testing.T
	conn     *websocket.Conn
	writeMu  sync.Mutex
	messages chan types.Envelope
	done     chan struct{}
}

// Connect dials the server and waits for the connected greeting
func (s *TestServer) Connect(t *testing.T, name string) *TestClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr+"/ws", nil)
	require.NoError(t, err, "client %s failed to connect", name)

	tc := &TestClient{
		Name:     name,
		t:        t,
		conn:     conn,
		messages: make(chan types.Envelope, 100),
		done:     make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)

	var connected types.ConnectedPayload
	tc.WaitFor(types.EventConnected, &connected)
	tc.ID = connected.ID
	return tc
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	for {
		var env types.Envelope
		if err := tc.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case tc.messages <- env:
		default:
			// Buffer overflow means the test is not draining; the frame is lost
		}
	}
}

// Send writes one envelope
func (tc *TestClient) Send(eventType string, payload interface{}) {
	tc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(tc.t, err)

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	require.NoError(tc.t, tc.conn.WriteJSON(types.Envelope{Type: eventType, Payload: raw}))
}

// Ready submits a profile and filters
func (tc *TestClient) Ready(p types.ReadyPayload) {
	tc.Send(types.EventReady, p)
}

// WaitFor skips frames until one of eventType arrives and decodes it into out
func (tc *TestClient) WaitFor(eventType string, out interface{}) {
	tc.t.Helper()
	env, err := tc.next(eventType)
	require.NoError(tc.t, err, "client %s", tc.Name)
	if out != nil {
		require.NoError(tc.t, json.Unmarshal(env.Payload, out))
	}
}

func (tc *TestClient) next(eventType string) (types.Envelope, error) {
	timeout := time.After(waitTimeout)
	for {
		select {
		case env := <-tc.messages:
			if env.Type == eventType {
				return env, nil
			}
		case <-tc.done:
			return types.Envelope{}, fmt.Errorf("connection closed waiting for %s", eventType)
		case <-timeout:
			return types.Envelope{}, fmt.Errorf("timeout waiting for %s", eventType)
		}
	}
}

// ExpectError waits for an error frame and returns its code
func (tc *TestClient) ExpectError() string {
	tc.t.Helper()
	var payload types.ErrorPayload
	tc.WaitFor(types.EventError, &payload)
	return payload.Code
}

// Close drops the connection; the server sees a disconnect
func (tc *TestClient) Close() {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	_ = tc.conn.Close()
}

func readyAny(name string, age int, gender string, interests ...string) types.ReadyPayload {
	return types.ReadyPayload{
		Profile: types.ClientProfile{Name: name, Age: age, Gender: gender, Interests: interests},
		Filters: types.MatchFilters{GenderPref: types.GenderAny, AgeMin: 18, AgeMax: 100},
	}
}
