// Package config handles configuration loading for coven-swarm.
//
// # Overview
//
// Configuration is loaded from YAML, or TOML when the file ends in .toml.
// Values are layered over Default, so a file only needs the fields it changes.
//
// # Configuration File
//
// Lookup order (see ResolvePath):
//
//  1. Explicit --config flag
//  2. Path from COVEN_SWARM_CONFIG environment variable
//  3. ./config.yaml (current directory)
//  4. <user config dir>/coven-swarm/config.yaml
//
// COVEN_SWARM_DB_PATH overrides database.path after loading.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// Unset variables expand to the empty string. An empty api_key runs missions
// against the simulated reasoning client.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	mission:
//	  base_delay: "2s"
//	  max_duration: "30m"
//	queue:
//	  claim_timeout: "5m"
//
// # Hub Overflow
//
// hub.overflow selects what happens when an observer's buffer is full:
// "disconnect" drops the observer, "drop_oldest" discards its oldest event.
package config
