// Package llm provides the reasoning client mission agents consult for their
// next commands. OpenRouterClient calls a chat completions API and paces
// requests with a token bucket; SimulatedClient returns canned role plans so a
// mission runs end to end without a key.
package llm
