// ABOUTME: Registry and queue notifications wired into queue release and hub events.
// ABOUTME: These run after the originating component has released its lock.

package mission

import (
	"fmt"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/queue"
)

var _ agent.Listener = (*Coordinator)(nil)

// AgentStatusChanged publishes the new status. An agent entering error gives
// its claimed instructions back to the queue.
func (c *Coordinator) AgentStatusChanged(a agent.Agent) {
	if a.Status == agent.StatusError {
		if n := c.queue.Release(a.ID); n > 0 {
			c.logger.Info("released claims of failed agent", "agent_id", a.ID, "released", n)
		}
	}
	c.publish(hub.AgentStatusEvent(a.ID, string(a.Status), "", a))
}

// AgentRemoved gives a deleted agent's claimed instructions back to the queue.
func (c *Coordinator) AgentRemoved(id string) {
	n := c.queue.Release(id)
	if n > 0 {
		c.logger.Info("released claims of removed agent", "agent_id", id, "released", n)
	}
	c.publish(hub.SystemEvent(fmt.Sprintf("Agent %s removed, %d instruction(s) returned to queue", id, n)))
}

func (c *Coordinator) queueChanged(s queue.Snapshot) {
	c.publish(hub.QueueEvent(s))
}
