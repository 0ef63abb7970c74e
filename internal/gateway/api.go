// ABOUTME: HTTP JSON API for missions, agents, the instruction queue and telemetry
// ABOUTME: Also serves findings, saved mission configs, the model list and tool policy checks

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/llm"
	"github.com/2389/coven-swarm/internal/mission"
	"github.com/2389/coven-swarm/internal/policy"
	"github.com/2389/coven-swarm/internal/queue"
	"github.com/2389/coven-swarm/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// StartMissionRequest is the body of POST /api/start. A named saved config
// fills any field the request leaves empty.
type StartMissionRequest struct {
	mission.StartRequest
	Config            string `json:"config,omitempty"`
	ExecutionDuration string `json:"execution_duration,omitempty"`
}

// AgentDetailResponse is the body of GET /api/agents/{id}.
type AgentDetailResponse struct {
	Agent    agent.Agent     `json:"agent"`
	Messages []agent.Message `json:"messages"`
}

// QueueAddRequest is the body of POST /api/queue.
type QueueAddRequest struct {
	Command  string   `json:"command"`
	Commands []string `json:"commands"`
}

// ToolCheckRequest is the body of POST /api/tools/check.
type ToolCheckRequest struct {
	Command        string   `json:"command"`
	RequestedTools []string `json:"requested_tools"`
	AllowlistOnly  bool     `json:"allowlist_only"`
	AgentID        string   `json:"agent_id,omitempty"`
	Target         string   `json:"target,omitempty"`
}

// ToolCheckResponse reports a policy decision.
type ToolCheckResponse struct {
	Allowed  bool   `json:"allowed"`
	Tool     string `json:"tool"`
	Category string `json:"category,omitempty"`
	Marker   string `json:"marker,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ToolCatalogResponse is the body of GET /api/tools.
type ToolCatalogResponse struct {
	Categories map[string][]string `json:"categories"`
	Denylist   []string            `json:"denylist"`
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendDomainError maps component sentinel errors onto HTTP statuses.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound),
		errors.Is(err, queue.ErrInstructionNotFound),
		errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agent.ErrInvalidTransition),
		errors.Is(err, queue.ErrNotPending),
		errors.Is(err, mission.ErrMissionActive):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mission.ErrTargetRequired),
		errors.Is(err, queue.ErrEmptyCommand),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, store.ErrInvalidSeverity):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// handleStart launches a mission.
func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	var body StartMissionRequest
	if err := decodeBody(w, r, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := body.StartRequest
	if body.Config != "" {
		saved, err := g.store.GetConfig(r.Context(), body.Config)
		if err != nil {
			g.sendDomainError(w, err)
			return
		}
		merged, err := mergeSavedConfig(req, saved)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = merged
	}
	if body.ExecutionDuration != "" {
		d, err := time.ParseDuration(body.ExecutionDuration)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid execution_duration: %v", err))
			return
		}
		req.MaxDuration = d
	}

	m, err := g.coordinator.Start(r.Context(), req)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, m)
}

// mergeSavedConfig fills empty fields of req from saved.
func mergeSavedConfig(req mission.StartRequest, saved *store.SavedConfig) (mission.StartRequest, error) {
	if req.Target == "" {
		req.Target = saved.Target
	}
	if req.Category == "" {
		req.Category = saved.Category
	}
	if req.Model == "" {
		req.Model = saved.Model
	}
	if req.AgentCount == 0 {
		req.AgentCount = saved.AgentCount
	}
	if req.Instructions == "" {
		req.Instructions = saved.Instructions
	}
	if req.Mode == "" {
		req.Mode = saved.Mode
	}
	if req.OSType == "" {
		req.OSType = saved.OSType
	}
	if len(req.RequestedTools) == 0 {
		req.RequestedTools = saved.RequestedTools
		req.AllowlistOnly = req.AllowlistOnly || saved.AllowlistOnly
	}
	if req.Stealth == (agent.StealthFlags{}) && len(saved.Stealth) > 0 {
		if err := json.Unmarshal(saved.Stealth, &req.Stealth); err != nil {
			return req, fmt.Errorf("saved config %q has invalid stealth flags: %w", saved.Name, err)
		}
	}
	if req.Capabilities == (agent.CapabilityFlags{}) && len(saved.Capabilities) > 0 {
		if err := json.Unmarshal(saved.Capabilities, &req.Capabilities); err != nil {
			return req, fmt.Errorf("saved config %q has invalid capabilities: %w", saved.Name, err)
		}
	}
	if req.MaxDuration == 0 && saved.ExecutionDuration != "" {
		d, err := time.ParseDuration(saved.ExecutionDuration)
		if err != nil {
			return req, fmt.Errorf("saved config %q has invalid execution_duration: %w", saved.Name, err)
		}
		req.MaxDuration = d
	}
	return req, nil
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := g.coordinator.Stop()
	g.sendJSON(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (g *Gateway) handleMission(w http.ResponseWriter, r *http.Request) {
	m, ok := g.coordinator.Current()
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "no active mission")
		return
	}
	g.sendJSON(w, http.StatusOK, m)
}

func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.agents.List())
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := g.agents.Get(id)
	if !ok {
		g.sendDomainError(w, agent.ErrAgentNotFound)
		return
	}
	msgs, _ := g.agents.Messages(id)
	if msgs == nil {
		msgs = []agent.Message{}
	}
	g.sendJSON(w, http.StatusOK, AgentDetailResponse{Agent: a, Messages: msgs})
}

func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !g.agents.Delete(r.PathValue("id")) {
		g.sendDomainError(w, agent.ErrAgentNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	g.transitionAgent(w, r.PathValue("id"), agent.StatusRunning, agent.StatusPaused)
}

func (g *Gateway) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	g.transitionAgent(w, r.PathValue("id"), agent.StatusPaused, agent.StatusRunning)
}

// transitionAgent moves an agent from one status to another. Repeating a
// request whose target status already holds succeeds without a change.
func (g *Gateway) transitionAgent(w http.ResponseWriter, id string, from, to agent.Status) {
	a, ok := g.agents.Get(id)
	if !ok {
		g.sendDomainError(w, agent.ErrAgentNotFound)
		return
	}
	if a.Status != to {
		if err := g.agents.Transition(id, from, to); err != nil {
			g.sendDomainError(w, fmt.Errorf("%w: agent is %s", err, a.Status))
			return
		}
		a, _ = g.agents.Get(id)
	}
	g.sendJSON(w, http.StatusOK, a)
}

func (g *Gateway) handleListQueue(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.queue.List())
}

func (g *Gateway) handleAddQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueAddRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	commands := req.Commands
	if req.Command != "" {
		commands = append([]string{req.Command}, commands...)
	}
	added := g.queue.AddBatch(commands)
	if added == 0 {
		g.sendDomainError(w, queue.ErrEmptyCommand)
		return
	}
	g.sendJSON(w, http.StatusCreated, map[string]int{"added": added})
}

func (g *Gateway) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]int{"cleared": g.queue.Clear()})
}

func (g *Gateway) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := g.instructionID(w, r)
	if !ok {
		return
	}
	if err := g.queue.Delete(id); err != nil {
		g.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleEditQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := g.instructionID(w, r)
	if !ok {
		return
	}
	var req QueueAddRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := g.queue.Edit(id, req.Command); err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, g.queue.List())
}

func (g *Gateway) instructionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid instruction id")
		return 0, false
	}
	return id, true
}

func (g *Gateway) handleResources(w http.ResponseWriter, r *http.Request) {
	sample, ok := g.sampler.Latest()
	if !ok {
		sample = g.sampler.Measure(r.Context())
	}
	g.sendJSON(w, http.StatusOK, sample)
}

func (g *Gateway) handleResourceHistory(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.sampler.History())
}

func (g *Gateway) handleListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.FindingFilter{
		Target:   q.Get("target"),
		Severity: q.Get("severity"),
	}
	if filter.Severity != "" && !store.ValidSeverity(filter.Severity) {
		g.sendDomainError(w, fmt.Errorf("%w: %s", store.ErrInvalidSeverity, filter.Severity))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	findings, err := g.store.ListFindings(r.Context(), filter)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	if findings == nil {
		findings = []*store.Finding{}
	}
	g.sendJSON(w, http.StatusOK, findings)
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, llm.Models())
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	resp := ToolCatalogResponse{
		Categories: make(map[string][]string),
		Denylist:   policy.Denylist(),
	}
	for _, c := range policy.Categories() {
		resp.Categories[c] = policy.ToolsIn(c)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCheckTool(w http.ResponseWriter, r *http.Request) {
	var req ToolCheckRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		g.sendDomainError(w, queue.ErrEmptyCommand)
		return
	}

	d := policy.Evaluate(req.Command, req.RequestedTools, req.AllowlistOnly)
	d = g.rules.Check(r.Context(), d, policy.RuleInput{
		Command: req.Command,
		Tool:    d.Tool,
		AgentID: req.AgentID,
		Target:  req.Target,
	})

	resp := ToolCheckResponse{
		Allowed:  d.Allowed,
		Tool:     d.Tool,
		Category: policy.CategoryOf(d.Tool),
		Marker:   d.Marker,
	}
	if d.Reason != nil {
		resp.Reason = d.Reason.Error()
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := g.store.ListConfigs(r.Context())
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	if configs == nil {
		configs = []*store.SavedConfig{}
	}
	g.sendJSON(w, http.StatusOK, configs)
}

func (g *Gateway) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.SavedConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.ExecutionDuration != "" {
		if _, err := time.ParseDuration(cfg.ExecutionDuration); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid execution_duration: %v", err))
			return
		}
	}
	if err := g.store.SaveConfig(r.Context(), &cfg); err != nil {
		g.sendDomainError(w, err)
		return
	}

	g.hub.Publish(hub.SystemEvent(fmt.Sprintf("Config %q saved", cfg.Name)))
	g.sendJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := g.store.GetConfig(r.Context(), r.PathValue("name"))
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := g.store.DeleteConfig(r.Context(), r.PathValue("name")); err != nil {
		g.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
