// Package mission coordinates a swarm of role agents against one target.
//
// Each agent runs its own task loop. It claims instructions from the shared
// queue, vets them against the tool policy, hands approved commands to an
// Executor, and asks the reasoning client for more work when the queue is dry.
// The Coordinator listens to the agent registry so that deleted or failed
// agents return their claims, and forwards every change to the hub.
package mission
