// ABOUTME: Tests for the WebSocket live feed.
// ABOUTME: Dials a real server and checks snapshots, ping, chat fan-out, and hub shutdown.

package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
)

// wireEvent mirrors hub.Event with a raw payload for decoding in tests.
type wireEvent struct {
	Kind    hub.Kind        `json:"type"`
	AgentID string          `json:"agent_id"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func dialLive(t *testing.T, gw *Gateway) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until one of kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind hub.Kind) wireEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var e wireEvent
		require.NoError(t, json.Unmarshal(data, &e))
		if e.Kind == kind {
			return e
		}
	}
}

func TestLive_InitialSnapshot(t *testing.T) {
	gw := newTestGateway(t)
	gw.agents.Create("Agent-1", "Scanner", agent.Config{Target: "example.com"})
	gw.queue.Add("nmap example.com")

	conn := dialLive(t, gw)

	e := readUntil(t, conn, hub.KindSnapshot)
	var snap LiveSnapshot
	require.NoError(t, json.Unmarshal(e.Data, &snap))
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "Agent-1", snap.Agents[0].Name)
	assert.Equal(t, 1, snap.Queue.TotalPending)
	assert.Nil(t, snap.Mission)

	assert.Equal(t, 1, gw.hub.Count())
}

func TestLive_PingPong(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialLive(t, gw)
	readUntil(t, conn, hub.KindSnapshot)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	readUntil(t, conn, hub.KindPong)
}

func TestLive_PongOnlyToRequester(t *testing.T) {
	gw := newTestGateway(t)
	first := dialLive(t, gw)
	second := dialLive(t, gw)
	readUntil(t, first, hub.KindSnapshot)
	readUntil(t, second, hub.KindSnapshot)

	require.NoError(t, first.WriteJSON(ClientMessage{Type: "ping"}))
	readUntil(t, first, hub.KindPong)

	// A broadcast after the pong proves the second socket skipped it.
	gw.hub.Publish(hub.SystemEvent("marker"))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	var e wireEvent
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, hub.KindSystem, e.Kind)
	assert.Equal(t, "marker", e.Message)
}

func TestLive_ChatBroadcast(t *testing.T) {
	gw := newTestGateway(t)
	a := gw.agents.Create("Agent-1", "Scanner", agent.Config{})

	sender := dialLive(t, gw)
	watcher := dialLive(t, gw)
	readUntil(t, sender, hub.KindSnapshot)
	readUntil(t, watcher, hub.KindSnapshot)

	require.NoError(t, sender.WriteJSON(ClientMessage{Type: "chat", AgentID: a.ID, Message: "focus on port 443"}))

	for _, conn := range []*websocket.Conn{sender, watcher} {
		e := readUntil(t, conn, hub.KindChat)
		assert.Equal(t, a.ID, e.AgentID)
		assert.Equal(t, "focus on port 443", e.Message)
	}

	msgs, ok := gw.agents.Messages(a.ID)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestLive_GetUpdates(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialLive(t, gw)
	readUntil(t, conn, hub.KindSnapshot)

	gw.agents.Create("Agent-1", "Scanner", agent.Config{})
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "get_updates"}))

	e := readUntil(t, conn, hub.KindSnapshot)
	var snap LiveSnapshot
	require.NoError(t, json.Unmarshal(e.Data, &snap))
	assert.Len(t, snap.Agents, 1)
}

func TestLive_IgnoresMalformedMessages(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialLive(t, gw)
	readUntil(t, conn, hub.KindSnapshot)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))

	readUntil(t, conn, hub.KindPong)
}

func TestLive_DisconnectUnregisters(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialLive(t, gw)
	readUntil(t, conn, hub.KindSnapshot)
	require.Equal(t, 1, gw.hub.Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool { return gw.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLive_HubCloseSendsCloseFrame(t *testing.T) {
	gw := newTestGateway(t)
	conn := dialLive(t, gw)
	readUntil(t, conn, hub.KindSnapshot)

	gw.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	assert.ErrorAs(t, err, &closeErr)
}
