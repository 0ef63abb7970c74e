// Package agent tracks the worker agents of a mission.
//
// # Registry
//
// The Registry owns every Agent record and its message log:
//
//	reg := agent.NewRegistry(200, logger)
//	a := reg.Create("Agent-1", "Scanner", agent.Config{Target: "10.0.0.1"})
//	reg.SetStatus(a.ID, agent.StatusRunning)
//
// Values handed out by Get and List are copies; mutating them has no effect
// on the registry.
//
// # Status Machine
//
//	idle -> running <-> paused
//	           |
//	           v
//	   complete | error   (terminal, no resurrection)
//
// Pause only succeeds from running and Resume only from paused. Both return
// false without changing anything otherwise, so retries are safe.
//
// # Listeners
//
// Listeners are notified of status changes and removals after the registry
// lock has been released. The mission coordinator uses this to release queue
// claims held by deleted or failed agents.
//
// # Thread Safety
//
// A single RWMutex guards the agent and message maps. Field-group updates
// (resources, progress, counters) are atomic per call. Updates for unknown
// ids are silently ignored so a straggling update for a deleted agent is
// harmless.
package agent
