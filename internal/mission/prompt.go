// ABOUTME: Prompt construction for agent planning calls.

package mission

import (
	"fmt"
	"slices"
	"strings"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/policy"
	"github.com/2389/coven-swarm/internal/queue"
)

const maxPromptTools = 30

func systemPrompt(a agent.Agent, req StartRequest) string {
	var b strings.Builder

	mode := "Normal"
	switch {
	case a.Config.Stealth.TimingJitter:
		mode = "Stealth (evade detection)"
	case strings.EqualFold(req.Mode, "aggressive"):
		mode = "Aggressive (thorough scanning)"
	}

	fmt.Fprintf(&b, "You are %s, an autonomous security agent in a coordinated swarm.\n\n", a.Name)
	fmt.Fprintf(&b, "Role: %s\n", a.Role)
	fmt.Fprintf(&b, "Target: %s\n", a.Config.Target)
	if req.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", req.Category)
	}
	if a.Config.OSType != "" {
		fmt.Fprintf(&b, "OS: %s\n", a.Config.OSType)
	}
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	if req.Instructions != "" {
		fmt.Fprintf(&b, "Operator instructions: %s\n", req.Instructions)
	}

	tools := promptTools(a.Config)
	fmt.Fprintf(&b, "\nAVAILABLE TOOLS: %s\n", strings.Join(tools, ", "))
	if a.Config.AllowlistOnly {
		b.WriteString("IMPORTANT: You can ONLY use these exact tools. Any other tool will be BLOCKED.\n")
	}

	b.WriteString(`
Respond with a JSON object only. Numeric keys give queue order and values are
commands starting with "RUN ". Commands go to a shared queue that every agent
draws from. Report findings in a "findings" array of {"severity","content"}.
When the assessment is complete respond with {"status": "END"}.
`)
	return b.String()
}

func promptTools(cfg agent.Config) []string {
	if cfg.AllowlistOnly {
		tools := slices.Clone(cfg.RequestedTools)
		slices.Sort(tools)
		return tools[:min(len(tools), maxPromptTools)]
	}

	var tools []string
	for _, cat := range policy.Categories() {
		in := policy.ToolsIn(cat)
		tools = append(tools, in[:min(len(in), 8)]...)
	}
	slices.Sort(tools)
	tools = slices.Compact(tools)
	return tools[:min(len(tools), maxPromptTools)]
}

func userPrompt(iteration, total int, snap queue.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Iteration %d of %d.\n", iteration, total)
	fmt.Fprintf(&b, "Queue: %d pending, %d executing, %d completed.\n",
		snap.TotalPending, snap.TotalExecuting, snap.TotalCompleted)
	if len(snap.RecentCompleted) > 0 {
		b.WriteString("Recently completed:\n")
		for _, in := range snap.RecentCompleted {
			fmt.Fprintf(&b, "- %s => %s\n", in.Command, firstLine(in.Result))
		}
	}
	b.WriteString("Plan the next commands.")
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
