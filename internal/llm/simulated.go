// ABOUTME: Offline reasoning client returning deterministic per-role command plans.
// ABOUTME: Lets a mission exercise the queue, policy, and findings without network access.

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// SimulatedClient answers every request with a fixed plan for the role and
// target named in the prompt. It reads "Role:" and "Target:" lines from the
// conversation; missing values fall back to a generic recon plan.
type SimulatedClient struct{}

// NewSimulatedClient returns the offline client.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{}
}

type simFinding struct {
	Severity string `json:"severity"`
	Content  string `json:"content"`
}

type rolePlan struct {
	commands []string
	findings []simFinding
}

var plans = map[string]rolePlan{
	"scanner": {
		commands: []string{"nmap -sV -sC {target}", "whatweb {target}"},
		findings: []simFinding{{Severity: "Medium", Content: "SSH service exposed on {target}:22 with outdated banner"}},
	},
	"analyzer": {
		commands: []string{"nikto -h {target}", "nuclei -u {target}"},
		findings: []simFinding{{Severity: "Medium", Content: "Missing X-Frame-Options header on {target}"}},
	},
	"reporter": {
		commands: []string{"curl -I {target}"},
	},
	"exploiter": {
		commands: []string{"sqlmap -u http://{target}/login --batch"},
		findings: []simFinding{{Severity: "High", Content: "Possible SQL injection at http://{target}/login"}},
	},
	"validator": {
		commands: []string{"nuclei -u https://{target} -severity high,critical", "curl -skI https://{target}"},
		findings: []simFinding{{Severity: "Low", Content: "Weak TLS cipher suites offered by {target}"}},
	},
}

// Chat returns a JSON plan in the same shape a real model is asked to produce.
func (c *SimulatedClient) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	role := strings.ToLower(promptField(messages, "Role"))
	target := promptField(messages, "Target")
	if target == "" {
		target = "localhost"
	}

	plan, ok := plans[role]
	if !ok {
		plan = plans["scanner"]
	}

	out := make(map[string]any, len(plan.commands)+1)
	for i, cmd := range plan.commands {
		out[strconv.Itoa(i+1)] = "RUN " + strings.ReplaceAll(cmd, "{target}", target)
	}
	if len(plan.findings) > 0 {
		findings := make([]simFinding, len(plan.findings))
		for i, f := range plan.findings {
			findings[i] = simFinding{Severity: f.Severity, Content: strings.ReplaceAll(f.Content, "{target}", target)}
		}
		out["findings"] = findings
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// promptField returns the value of the last "key: value" line across messages.
func promptField(messages []Message, key string) string {
	prefix := key + ":"
	var value string
	for _, m := range messages {
		sc := bufio.NewScanner(strings.NewReader(m.Content))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if rest, ok := strings.CutPrefix(line, prefix); ok {
				value = strings.TrimSpace(rest)
			}
		}
	}
	return value
}
