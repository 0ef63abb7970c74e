// Package dedupe suppresses duplicate findings reported by different agents
// against the same target.
package dedupe
