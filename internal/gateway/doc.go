// Package gateway wires the coven-swarm components together and serves them.
//
// # Overview
//
// The gateway owns every long-lived component: the SQLite store, the agent
// registry, the instruction queue, the event hub, the LLM client, the
// optional rego rules, the mission coordinator, the telemetry sampler and
// the optional Redis mirror. New constructs them in dependency order.
//
// # HTTP API
//
// Routes are registered on a ServeMux with method patterns (api.go):
//
//   - POST /api/start, POST /api/stop, GET /api/mission
//   - GET /api/agents, GET|DELETE /api/agents/{id}
//   - POST /api/agents/{id}/pause, POST /api/agents/{id}/resume
//   - GET|POST|DELETE /api/queue, PUT|DELETE /api/queue/{id}
//   - GET /api/resources, GET /api/resources/history
//   - GET /api/findings, GET /api/models
//   - GET /api/tools, POST /api/tools/check
//   - GET|POST /api/configs, GET|DELETE /api/configs/{name}
//   - GET /health, GET /health/ready
//
// Errors are JSON objects of the form {"error": "..."}. Missing entities map
// to 404, state conflicts to 409 and validation failures to 400.
//
// # Live Feed
//
// GET /ws/live upgrades to a WebSocket and registers a hub observer (ws.go).
// The client receives a snapshot event on connect and then every published
// event. It may send:
//
//	{"type": "ping"}
//	{"type": "chat", "agent_id": "...", "message": "..."}
//	{"type": "get_updates"}
//
// Replies to ping and get_updates go only to the requesting socket.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run also drives the sampler, the stale-claim sweeper and the Redis mirror.
// On return it stops any running mission, closes the hub (sending close frames
// to live clients) and closes the store.
package gateway
