// ABOUTME: Per-agent task loop: claim shared work, enforce tool policy, plan with the LLM.
// ABOUTME: Pause is cooperative; the loop re-reads agent status at every step boundary.

package mission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/dedupe"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/llm"
	"github.com/2389/coven-swarm/internal/policy"
	"github.com/2389/coven-swarm/internal/queue"
	"github.com/2389/coven-swarm/internal/store"
)

// Message roles written to agent logs.
const (
	RoleSystem    = "system"
	RoleCommand   = "command"
	RoleOutput    = "output"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// blockedResult is recorded on instructions rejected by policy.
const blockedResult = "blocked"

func (c *Coordinator) runAgent(ctx context.Context, id string, r *run) {
	logger := c.logger.With("agent_id", id, "mission_id", r.mission.ID)
	logger.Debug("agent task started")
	defer logger.Debug("agent task exited")

	iteration := 0
	for ctx.Err() == nil {
		a, ok := c.agents.Get(id)
		if !ok || a.Status.IsTerminal() {
			return
		}
		if a.Status != agent.StatusRunning {
			if !sleep(ctx, c.opts.PollInterval) {
				return
			}
			continue
		}

		if in, ok := c.queue.ClaimNext(id); ok {
			c.execute(ctx, a, in, logger)
			continue
		}

		if iteration < c.opts.MaxIterations {
			iteration++
			if a.Config.Stealth.TimingJitter {
				if !sleep(ctx, c.Jitter(c.opts.BaseDelay)) {
					return
				}
			}
			done, err := c.plan(ctx, a, r, iteration, logger)
			if err != nil {
				return
			}
			if done {
				iteration = c.opts.MaxIterations
			}
			continue
		}

		if c.queue.List().TotalPending == 0 {
			c.agents.UpdateProgress(id, 100, "Done")
			c.agents.SetStatus(id, agent.StatusComplete)
			logger.Info("agent finished", "tasks", a.TaskCount, "findings", a.Findings)
			return
		}
		if !sleep(ctx, c.opts.PollInterval) {
			return
		}
	}
}

// execute runs one claimed instruction through policy and the executor.
func (c *Coordinator) execute(ctx context.Context, a agent.Agent, in queue.Instruction, logger *slog.Logger) {
	d := policy.Evaluate(in.Command, a.Config.RequestedTools, a.Config.AllowlistOnly)
	d = c.rules.Check(ctx, d, policy.RuleInput{
		Command: in.Command,
		Tool:    d.Tool,
		AgentID: a.ID,
		Target:  a.Config.Target,
	})

	if !d.Allowed {
		c.agents.AppendMessage(a.ID, RoleSystem, d.Marker, d.Tool)
		c.agents.SetLastCommand(a.ID, d.Marker)
		c.queue.Complete(in.ID, a.ID, blockedResult)
		logger.Warn("command blocked",
			"instruction_id", in.ID,
			"tool", d.Tool,
			"command", in.Command,
			"reason", d.Reason,
		)
		c.publishAgent(a.ID, d.Marker)
		return
	}

	c.agents.UpdateProgress(a.ID, a.Progress, in.Command)
	c.agents.SetLastCommand(a.ID, in.Command)
	c.agents.AppendMessage(a.ID, RoleCommand, in.Command, d.Tool)

	start := time.Now()
	out, err := c.exec.Execute(ctx, ExecRequest{
		AgentID: a.ID,
		Command: in.Command,
		Tool:    d.Tool,
		Target:  a.Config.Target,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Leave the work for a future mission.
			c.queue.Fail(in.ID, a.ID, "mission stopped")
			return
		}
		c.agents.AppendMessage(a.ID, RoleError, err.Error(), d.Tool)
		c.queue.Complete(in.ID, a.ID, "error: "+err.Error())
		logger.Warn("command failed", "instruction_id", in.ID, "tool", d.Tool, "error", err)
		c.publishAgent(a.ID, fmt.Sprintf("%s failed", d.Tool))
		return
	}

	c.agents.AppendMessage(a.ID, RoleOutput, out, d.Tool)
	c.agents.IncrementTaskCount(a.ID)
	c.queue.Complete(in.ID, a.ID, out)
	logger.Info("command executed", "instruction_id", in.ID, "tool", d.Tool, "duration", time.Since(start))
	c.publishAgent(a.ID, fmt.Sprintf("Executed %s", d.Tool))
}

// plan asks the LLM for the next commands and findings. An error moves the
// agent to error; the registry listener then releases its claims.
func (c *Coordinator) plan(ctx context.Context, a agent.Agent, r *run, iteration int, logger *slog.Logger) (bool, error) {
	total := c.opts.MaxIterations
	c.agents.UpdateProgress(a.ID, a.Progress, fmt.Sprintf("Planning iteration %d/%d", iteration, total))

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(a, r.mission.Request)},
		{Role: "user", Content: userPrompt(iteration, total, c.queue.List())},
	}

	reply, err := c.llm.Chat(ctx, messages, a.Config.Model)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		c.agents.AppendMessage(a.ID, RoleError, fmt.Sprintf("LLM request failed: %v", err), "")
		c.agents.SetStatus(a.ID, agent.StatusError)
		logger.Error("llm request failed", "iteration", iteration, "error", err)
		return false, err
	}

	c.agents.AppendMessage(a.ID, RoleAssistant, reply, "")

	commands, done := ParseCommands(reply)
	added := c.queue.AddBatch(commands)
	recorded := c.recordFindings(ctx, a, ParseFindings(reply), logger)

	c.agents.UpdateProgress(a.ID, iteration*100/total, fmt.Sprintf("Iteration %d/%d", iteration, total))
	logger.Info("planned iteration",
		"iteration", iteration,
		"commands_queued", added,
		"findings", recorded,
		"done", done,
	)
	c.publishAgent(a.ID, fmt.Sprintf("Queued %d commands", added))
	return done, nil
}

// recordFindings persists findings not already reported for the target.
func (c *Coordinator) recordFindings(ctx context.Context, a agent.Agent, findings []ReportedFinding, logger *slog.Logger) int {
	recorded := 0
	for _, f := range findings {
		if c.dedupe != nil && c.dedupe.CheckAndMark(dedupe.Key(a.Config.Target, f.Content)) {
			logger.Debug("duplicate finding suppressed", "content", f.Content)
			continue
		}

		rec := &store.Finding{
			AgentID:   a.ID,
			AgentName: a.Name,
			Target:    a.Config.Target,
			Severity:  f.Severity,
			Content:   f.Content,
			CreatedAt: time.Now(),
		}
		if c.store != nil {
			if err := c.store.SaveFinding(ctx, rec); err != nil {
				logger.Warn("failed to save finding", "error", err)
			}
		}

		c.agents.IncrementFindings(a.ID)
		c.publish(hub.FindingEvent(a.ID, rec))
		recorded++
	}
	return recorded
}

func (c *Coordinator) publishAgent(id, message string) {
	a, ok := c.agents.Get(id)
	if !ok {
		return
	}
	c.publish(hub.AgentStatusEvent(id, string(a.Status), message, a))
}

// sleep waits for d or ctx cancellation, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
