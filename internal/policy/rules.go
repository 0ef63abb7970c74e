// ABOUTME: Optional operator-supplied rego rules consulted after the static policy.
// ABOUTME: A non-empty deny set from data.coven.command.deny blocks the command.

package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// RuleQuery is the rego query every rules module must define.
const RuleQuery = "data.coven.command.deny"

// RuleInput is the document rules are evaluated against.
type RuleInput struct {
	Command string `json:"command"`
	Tool    string `json:"tool"`
	AgentID string `json:"agent_id"`
	Target  string `json:"target"`
}

// RuleEngine evaluates prepared rego rules. It is immutable after construction
// and safe for concurrent use.
type RuleEngine struct {
	query rego.PreparedEvalQuery
}

// NewRuleEngine prepares the given rego module source.
func NewRuleEngine(ctx context.Context, module string) (*RuleEngine, error) {
	r := rego.New(
		rego.Query(RuleQuery),
		rego.Module("coven_rules.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing rules: %w", err)
	}
	return &RuleEngine{query: query}, nil
}

// LoadRuleEngine reads a rego module from path and prepares it.
func LoadRuleEngine(ctx context.Context, path string) (*RuleEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return NewRuleEngine(ctx, string(data))
}

// Deny returns the sorted deny reasons produced for input. An empty result allows.
func (e *RuleEngine) Deny(ctx context.Context, input RuleInput) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"command":  input.Command,
		"tool":     input.Tool,
		"agent_id": input.AgentID,
		"target":   input.Target,
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []any:
		for _, item := range v {
			reasons = append(reasons, fmt.Sprint(item))
		}
	case string:
		reasons = append(reasons, v)
	}
	sort.Strings(reasons)
	return reasons, nil
}

// Check evaluates rules for an already-allowed decision and returns a blocked
// decision when any rule denies. Rule evaluation errors block the command.
func (e *RuleEngine) Check(ctx context.Context, d Decision, input RuleInput) Decision {
	if e == nil || !d.Allowed {
		return d
	}

	reasons, err := e.Deny(ctx, input)
	if err != nil {
		return Decision{
			Tool:   d.Tool,
			Marker: "BLOCKED: Rule evaluation failed",
			Reason: err,
		}
	}
	if len(reasons) == 0 {
		return d
	}
	return Decision{
		Tool:   d.Tool,
		Marker: "BLOCKED: " + reasons[0],
		Reason: fmt.Errorf("%w: %s", ErrToolNotAllowed, reasons[0]),
	}
}
