// ABOUTME: Tests for the rego rule engine layered over the static policy.
// ABOUTME: Verifies deny reasons, pass-through, and invalid modules.

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `
package coven.command

deny[msg] {
	input.tool == "hydra"
	msg := "hydra is disabled on this deployment"
}

deny[msg] {
	contains(input.target, "prod")
	input.tool == "sqlmap"
	msg := "no sqlmap against production"
}
`

func TestRuleEngine_Deny(t *testing.T) {
	engine, err := NewRuleEngine(t.Context(), testRules)
	require.NoError(t, err)

	reasons, err := engine.Deny(t.Context(), RuleInput{Command: "hydra -l admin", Tool: "hydra"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hydra is disabled on this deployment"}, reasons)

	reasons, err = engine.Deny(t.Context(), RuleInput{Command: "nmap host", Tool: "nmap"})
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestRuleEngine_Check(t *testing.T) {
	engine, err := NewRuleEngine(t.Context(), testRules)
	require.NoError(t, err)

	allowed := Evaluate("sqlmap -u http://prod.example", nil, false)
	require.True(t, allowed.Allowed)

	d := engine.Check(t.Context(), allowed, RuleInput{Command: "sqlmap -u http://prod.example", Tool: "sqlmap", Target: "prod.example"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "BLOCKED: no sqlmap against production", d.Marker)
	assert.ErrorIs(t, d.Reason, ErrToolNotAllowed)

	d = engine.Check(t.Context(), allowed, RuleInput{Tool: "sqlmap", Target: "staging.example"})
	assert.True(t, d.Allowed)

	// already-blocked decisions are returned untouched
	blocked := Evaluate("rm -rf /", nil, false)
	assert.Equal(t, blocked, engine.Check(t.Context(), blocked, RuleInput{Tool: "rm"}))
}

func TestRuleEngine_NilIsPassThrough(t *testing.T) {
	var engine *RuleEngine
	d := Evaluate("nmap host", nil, false)
	assert.Equal(t, d, engine.Check(t.Context(), d, RuleInput{Tool: "nmap"}))
}

func TestRuleEngine_InvalidModule(t *testing.T) {
	_, err := NewRuleEngine(t.Context(), "package coven.command\n\ndeny[msg] {")
	assert.Error(t, err)
}

func TestLoadRuleEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.rego")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o644))

	engine, err := LoadRuleEngine(t.Context(), path)
	require.NoError(t, err)
	assert.NotNil(t, engine)

	_, err = LoadRuleEngine(t.Context(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}
