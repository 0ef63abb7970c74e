// ABOUTME: Concurrency-safe registry of agents and their message logs.
// ABOUTME: Owns the status state machine and notifies listeners outside the lock.

package agent

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-swarm/internal/notify"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// ErrInvalidTransition indicates the agent's current status forbids the change.
var ErrInvalidTransition = errors.New("invalid status transition")

// DefaultMessageRetention is the number of log entries kept per agent.
const DefaultMessageRetention = 200

// Listener receives registry changes. Calls happen after the registry lock is
// released and in the order the changes were made. Listeners may read the
// registry and call other components, but must not mutate the registry.
type Listener interface {
	AgentStatusChanged(a Agent)
	AgentRemoved(id string)
}

// Registry stores every agent record. All mutation goes through its methods.
type Registry struct {
	agents    map[string]*Agent
	messages  map[string][]Message
	listeners []Listener
	seq       notify.Sequencer
	retention int
	mu        sync.RWMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates an empty registry keeping at most retention messages per
// agent. A non-positive retention uses DefaultMessageRetention.
func NewRegistry(retention int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultMessageRetention
	}
	return &Registry{
		agents:    make(map[string]*Agent),
		messages:  make(map[string][]Message),
		retention: retention,
		logger:    logger.With("component", "agent-registry"),
		now:       time.Now,
	}
}

// AddListener registers l for future change notifications.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Create allocates a new idle agent.
func (r *Registry) Create(name, role string, cfg Config) Agent {
	now := r.now()
	a := &Agent{
		ID:        uuid.New().String(),
		Name:      name,
		Role:      role,
		Status:    StatusIdle,
		Config:    cfg.clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.agents[a.ID] = a
	r.messages[a.ID] = nil
	snap := a.snapshot()
	total := len(r.agents)
	r.unlockAndNotify(func(l Listener) { l.AgentStatusChanged(snap) })

	r.logger.Info("agent created",
		"agent_id", snap.ID,
		"name", name,
		"role", role,
		"target", cfg.Target,
		"total_agents", total,
	)
	return snap
}

// Get returns a copy of the agent with the given id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.snapshot(), true
}

// List returns copies of all agents ordered by creation time.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Running returns the ids of agents currently in the running state.
func (r *Registry) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, a := range r.agents {
		if a.Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Delete removes an agent together with its message history.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, id)
	delete(r.messages, id)
	total := len(r.agents)
	r.unlockAndNotify(func(l Listener) { l.AgentRemoved(id) })

	r.logger.Info("agent deleted", "agent_id", id, "name", a.Name, "total_agents", total)
	return true
}

// SetStatus sets the status unless the agent is terminal. Setting the current
// status again succeeds without notifying listeners.
func (r *Registry) SetStatus(id string, status Status) bool {
	if !status.Valid() {
		return false
	}

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if a.Status == status {
		r.mu.Unlock()
		return true
	}
	if a.Status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	prev := a.Status
	a.Status = status
	a.UpdatedAt = r.now()
	snap := a.snapshot()
	r.unlockAndNotify(func(l Listener) { l.AgentStatusChanged(snap) })

	r.logger.Debug("agent status changed", "agent_id", id, "from", prev, "to", status)
	return true
}

// Transition moves the agent from one status to another, failing with
// ErrAgentNotFound or ErrInvalidTransition.
func (r *Registry) Transition(id string, from, to Status) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return ErrAgentNotFound
	}
	if a.Status != from {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	a.Status = to
	a.UpdatedAt = r.now()
	snap := a.snapshot()
	r.unlockAndNotify(func(l Listener) { l.AgentStatusChanged(snap) })
	return nil
}

// unlockAndNotify releases r.mu and then calls fn for every listener, after
// the notifications of every earlier change. Must be called with r.mu held.
func (r *Registry) unlockAndNotify(fn func(l Listener)) {
	listeners := r.listeners
	ticket := r.seq.Ticket()
	r.mu.Unlock()

	r.seq.Deliver(ticket, func() {
		for _, l := range listeners {
			fn(l)
		}
	})
}

// Pause moves a running agent to paused.
func (r *Registry) Pause(id string) bool {
	return r.Transition(id, StatusRunning, StatusPaused) == nil
}

// Resume moves a paused agent back to running.
func (r *Registry) Resume(id string) bool {
	return r.Transition(id, StatusPaused, StatusRunning) == nil
}

// update applies fn to the agent under the write lock. Unknown ids are ignored.
func (r *Registry) update(id string, fn func(a *Agent)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}
	fn(a)
	a.UpdatedAt = r.now()
	return true
}

// UpdateResources replaces the agent's resource snapshot.
func (r *Registry) UpdateResources(id string, res Resources) {
	r.update(id, func(a *Agent) { a.Resources = res })
}

// UpdateProgress sets progress (clamped to 0..100) and, when label is
// non-empty, the current task description.
func (r *Registry) UpdateProgress(id string, pct int, label string) {
	pct = min(max(pct, 0), 100)
	r.update(id, func(a *Agent) {
		a.Progress = pct
		if label != "" {
			a.CurrentTask = label
		}
	})
}

// SetLastCommand records the last command the agent executed or attempted.
func (r *Registry) SetLastCommand(id, command string) {
	r.update(id, func(a *Agent) { a.LastCommand = command })
}

// IncrementTaskCount adds one to the agent's completed task count.
func (r *Registry) IncrementTaskCount(id string) {
	r.update(id, func(a *Agent) { a.TaskCount++ })
}

// IncrementFindings adds one to the agent's findings count.
func (r *Registry) IncrementFindings(id string) {
	r.update(id, func(a *Agent) { a.Findings++ })
}

// AppendMessage adds an entry to the agent's log, dropping the oldest entries
// beyond the retention bound. Unknown agents are ignored.
func (r *Registry) AppendMessage(id, role, content, tool string) {
	msg := Message{
		ID:        uuid.New().String(),
		AgentID:   id,
		Role:      role,
		Content:   content,
		Tool:      tool,
		Timestamp: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return
	}
	log := append(r.messages[id], msg)
	if over := len(log) - r.retention; over > 0 {
		log = slices.Delete(log, 0, over)
	}
	r.messages[id] = log
}

// Messages returns a copy of the agent's log.
func (r *Registry) Messages(id string) ([]Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.agents[id]; !ok {
		return nil, false
	}
	return slices.Clone(r.messages[id]), true
}
