// ABOUTME: Agent record types: status machine, config snapshot, resources, messages.
// ABOUTME: Values returned by the registry are copies safe to read without locking.

package agent

import (
	"slices"
	"time"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusPaused, StatusComplete, StatusError:
		return true
	}
	return false
}

// StealthFlags selects evasion behaviours requested for a mission.
type StealthFlags struct {
	ProxyChain          bool `json:"proxy_chain"`
	TorRouting          bool `json:"tor_routing"`
	MACSpoofing         bool `json:"mac_spoofing"`
	TimingJitter        bool `json:"timing_jitter"`
	UserAgentRotation   bool `json:"user_agent_rotation"`
	HeaderRandomization bool `json:"header_randomization"`
	DNSOverHTTPS        bool `json:"dns_over_https"`
	TrafficPadding      bool `json:"traffic_padding"`
}

// CapabilityFlags lists optional offensive capabilities enabled for a mission.
type CapabilityFlags struct {
	PacketInjection   bool `json:"packet_injection"`
	MITMAttacks       bool `json:"mitm_attacks"`
	WebSocketHijack   bool `json:"websocket_hijack"`
	SSLStripping      bool `json:"ssl_stripping"`
	DNSSpoof          bool `json:"dns_spoof"`
	ARPSpoof          bool `json:"arp_spoof"`
	SessionHijack     bool `json:"session_hijack"`
	CredentialCapture bool `json:"credential_capture"`
}

// Config is captured when an agent is created and never changes afterwards.
type Config struct {
	Target         string          `json:"target"`
	Model          string          `json:"model"`
	OSType         string          `json:"os_type"`
	Stealth        StealthFlags    `json:"stealth"`
	Capabilities   CapabilityFlags `json:"capabilities"`
	RequestedTools []string        `json:"requested_tools,omitempty"`
	AllowlistOnly  bool            `json:"allowlist_only"`
}

func (c Config) clone() Config {
	c.RequestedTools = slices.Clone(c.RequestedTools)
	return c
}

// Resources is a point-in-time resource snapshot attributed to an agent.
type Resources struct {
	CPU       float64 `json:"cpu"`
	MemoryMB  float64 `json:"memory_mb"`
	Disk      float64 `json:"disk"`
	NetworkIO float64 `json:"network_io"`
}

// Agent is one worker unit.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Status      Status    `json:"status"`
	Config      Config    `json:"config"`
	CurrentTask string    `json:"current_task"`
	LastCommand string    `json:"last_command"`
	TaskCount   int       `json:"task_count"`
	Findings    int       `json:"findings"`
	Progress    int       `json:"progress"`
	Resources   Resources `json:"resources"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *Agent) snapshot() Agent {
	cp := *a
	cp.Config = a.Config.clone()
	return cp
}

// Message is one entry in an agent's append-only log.
type Message struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tool      string    `json:"tool,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
