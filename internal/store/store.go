// ABOUTME: Store interface and record types for coven-swarm persistence
// ABOUTME: Defines Finding and SavedConfig plus the operations the gateway and missions use

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidName is returned when a saved config has no name
var ErrInvalidName = errors.New("config name is required")

// ErrDuplicateFinding is returned when a finding ID already exists
var ErrDuplicateFinding = errors.New("finding already exists")

// ErrInvalidSeverity is returned when a finding carries an unknown severity
var ErrInvalidSeverity = errors.New("invalid severity")

// Severity levels for findings, highest first.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
	SeverityInfo     = "Info"
)

// ValidSeverity reports whether s is one of the severity constants.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Finding is a security observation reported by an agent.
type Finding struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Target    string    `json:"target"`
	Severity  string    `json:"severity"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FindingFilter narrows ListFindings. Zero fields match everything.
type FindingFilter struct {
	Target   string
	Severity string
	Limit    int
}

// SavedConfig is a named mission template.
type SavedConfig struct {
	Name              string          `json:"name"`
	Target            string          `json:"target"`
	Category          string          `json:"category"`
	Model             string          `json:"model"`
	AgentCount        int             `json:"agent_count"`
	Instructions      string          `json:"instructions"`
	Mode              string          `json:"mode"`
	OSType            string          `json:"os_type"`
	RequestedTools    []string        `json:"requested_tools"`
	AllowlistOnly     bool            `json:"allowlist_only"`
	Stealth           json.RawMessage `json:"stealth,omitempty"`
	Capabilities      json.RawMessage `json:"capabilities,omitempty"`
	ExecutionDuration string          `json:"execution_duration"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Store persists findings and mission configs.
type Store interface {
	SaveFinding(ctx context.Context, f *Finding) error
	ListFindings(ctx context.Context, filter FindingFilter) ([]*Finding, error)

	// SaveConfig inserts or replaces the config with the same name.
	SaveConfig(ctx context.Context, cfg *SavedConfig) error
	GetConfig(ctx context.Context, name string) (*SavedConfig, error)
	ListConfigs(ctx context.Context) ([]*SavedConfig, error)
	DeleteConfig(ctx context.Context, name string) error

	Close() error
}
