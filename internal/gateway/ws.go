// ABOUTME: WebSocket live feed backed by a hub observer per connection
// ABOUTME: writePump drains hub events to the socket; readPump handles ping, chat and get_updates

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/mission"
	"github.com/2389/coven-swarm/internal/queue"
	"github.com/2389/coven-swarm/internal/telemetry"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 8192
)

// Client message types accepted on /ws/live.
const (
	clientPing       = "ping"
	clientChat       = "chat"
	clientGetUpdates = "get_updates"
)

// ClientMessage is a message sent by a live feed client.
type ClientMessage struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// LiveSnapshot is the current state sent on connect and on get_updates.
type LiveSnapshot struct {
	Agents    []agent.Agent     `json:"agents"`
	Queue     queue.Snapshot    `json:"queue"`
	Resources *telemetry.Sample `json:"resources,omitempty"`
	Mission   *mission.Mission  `json:"mission,omitempty"`
}

type liveConn struct {
	ws     *websocket.Conn
	obs    *hub.Observer
	cancel context.CancelFunc
	logger *slog.Logger
}

// handleLive upgrades the request and attaches the socket to the hub.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}
	ws.SetReadLimit(wsMaxMessageSize)

	// The request context ends when this handler returns, so the observer
	// gets its own lifetime bounded by readPump.
	ctx, cancel := context.WithCancel(context.Background())
	obs := g.hub.Register(ctx)

	c := &liveConn{
		ws:     ws,
		obs:    obs,
		cancel: cancel,
		logger: g.logger.With("observer_id", obs.ID(), "remote_addr", r.RemoteAddr),
	}
	c.logger.Info("live observer connected", "total_observers", g.hub.Count())

	g.hub.Send(obs.ID(), hub.SnapshotEvent(g.snapshot()))

	go g.writePump(c)
	go g.readPump(c)
}

// snapshot collects the state a client needs to render from scratch.
func (g *Gateway) snapshot() LiveSnapshot {
	s := LiveSnapshot{
		Agents: g.agents.List(),
		Queue:  g.queue.List(),
	}
	if sample, ok := g.sampler.Latest(); ok {
		s.Resources = &sample
	}
	if m, ok := g.coordinator.Current(); ok {
		s.Mission = &m
	}
	return s
}

func (g *Gateway) readPump(c *liveConn) {
	defer func() {
		c.cancel()
		c.ws.Close()
		c.logger.Info("live observer disconnected")
	}()

	c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		g.handleClientMessage(c, data)
	}
}

func (g *Gateway) writePump(c *liveConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case e, ok := <-c.obs.Events():
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Hub closed the channel
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := e.Marshal()
			if err != nil {
				c.logger.Error("encoding event", "event_type", e.Kind, "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage dispatches one inbound message. Replies go through the
// hub so writePump stays the only writer on the socket.
func (g *Gateway) handleClientMessage(c *liveConn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("ignoring malformed client message", "error", err)
		return
	}

	switch msg.Type {
	case clientPing:
		g.hub.Send(c.obs.ID(), hub.PongEvent())

	case clientChat:
		text := strings.TrimSpace(msg.Message)
		if text == "" {
			return
		}
		if msg.AgentID != "" {
			g.agents.AppendMessage(msg.AgentID, "user", text, "")
		}
		g.hub.Publish(hub.ChatEvent(msg.AgentID, text))

	case clientGetUpdates:
		g.hub.Send(c.obs.ID(), hub.SnapshotEvent(g.snapshot()))

	default:
		c.logger.Debug("ignoring unknown client message", "type", msg.Type)
	}
}
