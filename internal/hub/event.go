// ABOUTME: Broadcast event envelope and constructors for each event kind.
// ABOUTME: Events are immutable once published and serialize to JSON.

package hub

import (
	"encoding/json"
	"time"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindSystem      Kind = "system"
	KindAgentStatus Kind = "agent_status"
	KindResources   Kind = "resources"
	KindQueue       Kind = "queue"
	KindChat        Kind = "chat"
	KindFinding     Kind = "finding"

	// Sent to a single observer in reply to its own request.
	KindPong     Kind = "pong"
	KindSnapshot Kind = "snapshot"
)

// Event is one fact delivered to observers. Data must not be mutated after
// Publish.
type Event struct {
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func newEvent(kind Kind) Event {
	return Event{Kind: kind, Timestamp: time.Now()}
}

// SystemEvent carries an operator-facing message.
func SystemEvent(message string) Event {
	e := newEvent(KindSystem)
	e.Message = message
	return e
}

// AgentStatusEvent reports an agent's status with an optional agent snapshot.
func AgentStatusEvent(agentID, status, message string, snapshot any) Event {
	e := newEvent(KindAgentStatus)
	e.AgentID = agentID
	e.Status = status
	e.Message = message
	e.Data = snapshot
	return e
}

// ResourceEvent carries a telemetry sample.
func ResourceEvent(sample any) Event {
	e := newEvent(KindResources)
	e.Data = sample
	return e
}

// QueueEvent carries a queue snapshot.
func QueueEvent(snapshot any) Event {
	e := newEvent(KindQueue)
	e.Data = snapshot
	return e
}

// ChatEvent carries a chat message from an observer or agent.
func ChatEvent(agentID, message string) Event {
	e := newEvent(KindChat)
	e.AgentID = agentID
	e.Message = message
	return e
}

// FindingEvent announces a newly recorded finding.
func FindingEvent(agentID string, finding any) Event {
	e := newEvent(KindFinding)
	e.AgentID = agentID
	e.Data = finding
	return e
}

// PongEvent answers an observer's ping.
func PongEvent() Event {
	return newEvent(KindPong)
}

// SnapshotEvent carries the current system state for a newly connected or
// refreshing observer.
func SnapshotEvent(state any) Event {
	e := newEvent(KindSnapshot)
	e.Data = state
	return e
}
