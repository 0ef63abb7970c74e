// ABOUTME: Mission coordinator that spawns role agents against a target and supervises them.
// ABOUTME: Owns mission lifecycle: start, stop, max-duration cutoff, and completion tracking.

package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/dedupe"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/llm"
	"github.com/2389/coven-swarm/internal/policy"
	"github.com/2389/coven-swarm/internal/queue"
	"github.com/2389/coven-swarm/internal/store"
)

var (
	ErrTargetRequired = errors.New("target is required")
	ErrMissionActive  = errors.New("a mission is already running")
)

// Roles are assigned to agents in creation order.
var Roles = []string{"Scanner", "Analyzer", "Reporter", "Exploiter", "Validator"}

const (
	DefaultAgents        = 3
	DefaultMaxAgents     = 10
	DefaultMaxIterations = 5
	DefaultBaseDelay     = 2 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond

	// ModeStealth turns on timing jitter for every agent.
	ModeStealth = "stealth"
)

// Publisher receives coordinator events.
type Publisher interface {
	Publish(e hub.Event)
}

// StartRequest describes a mission to launch.
type StartRequest struct {
	Target         string                `json:"target"`
	Category       string                `json:"category"`
	Model          string                `json:"model"`
	AgentCount     int                   `json:"agent_count"`
	Instructions   string                `json:"instructions"`
	Mode           string                `json:"mode"`
	OSType         string                `json:"os_type"`
	RequestedTools []string              `json:"requested_tools"`
	AllowlistOnly  bool                  `json:"allowlist_only"`
	Stealth        agent.StealthFlags    `json:"stealth"`
	Capabilities   agent.CapabilityFlags `json:"capabilities"`
	MaxDuration    time.Duration         `json:"max_duration"`
}

// Mission is the record of a launched mission.
type Mission struct {
	ID          string        `json:"id"`
	Target      string        `json:"target"`
	Model       string        `json:"model"`
	AgentIDs    []string      `json:"agent_ids"`
	StartedAt   time.Time     `json:"started_at"`
	MaxDuration time.Duration `json:"max_duration,omitempty"`
	Request     StartRequest  `json:"request"`
}

// Deps are the collaborators a Coordinator drives. Store, Dedupe, Rules, and
// Executor are optional.
type Deps struct {
	Agents   *agent.Registry
	Queue    *queue.Queue
	Hub      Publisher
	LLM      llm.Client
	Store    store.Store
	Dedupe   *dedupe.Cache
	Rules    *policy.RuleEngine
	Executor Executor
	Logger   *slog.Logger
}

// Options tunes mission behaviour.
type Options struct {
	DefaultAgents int
	MaxAgents     int
	MaxIterations int
	BaseDelay     time.Duration
	PollInterval  time.Duration
	DefaultModel  string
	MaxDuration   time.Duration
	// Rand seeds timing jitter. Nil uses a time-seeded source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.DefaultAgents <= 0 {
		o.DefaultAgents = DefaultAgents
	}
	if o.MaxAgents <= 0 {
		o.MaxAgents = DefaultMaxAgents
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DefaultModel == "" {
		o.DefaultModel = llm.DefaultModel
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

type run struct {
	mission Mission
	cancel  context.CancelFunc
	timer   *time.Timer
	done    chan struct{}
}

// Coordinator launches and supervises missions. One mission runs at a time.
type Coordinator struct {
	agents *agent.Registry
	queue  *queue.Queue
	hub    Publisher
	llm    llm.Client
	store  store.Store
	dedupe *dedupe.Cache
	rules  *policy.RuleEngine
	exec   Executor
	opts   Options
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	current *run
	last    *run
}

// New creates a coordinator and subscribes it to registry and queue changes.
func New(deps Deps, opts Options) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Executor == nil {
		deps.Executor = DryRunExecutor{}
	}
	if deps.LLM == nil {
		deps.LLM = llm.NewSimulatedClient()
	}
	opts = opts.withDefaults()

	c := &Coordinator{
		agents: deps.Agents,
		queue:  deps.Queue,
		hub:    deps.Hub,
		llm:    deps.LLM,
		store:  deps.Store,
		dedupe: deps.Dedupe,
		rules:  deps.Rules,
		exec:   deps.Executor,
		opts:   opts,
		rng:    opts.Rand,
		logger: logger.With("component", "mission"),
	}

	c.agents.AddListener(c)
	c.queue.OnChange(c.queueChanged)
	return c
}

// Start launches a mission. The mission outlives ctx; it ends when every
// agent finishes, Stop is called, or MaxDuration elapses.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (Mission, error) {
	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		return Mission{}, ErrTargetRequired
	}

	count := req.AgentCount
	if count <= 0 {
		count = c.opts.DefaultAgents
	}
	count = min(count, c.opts.MaxAgents, len(Roles))
	req.AgentCount = count

	if req.Model == "" {
		req.Model = c.opts.DefaultModel
	}
	if req.MaxDuration <= 0 {
		req.MaxDuration = c.opts.MaxDuration
	}
	if strings.EqualFold(req.Mode, ModeStealth) {
		req.Stealth.TimingJitter = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return Mission{}, ErrMissionActive
	}

	cfg := agent.Config{
		Target:         req.Target,
		Model:          req.Model,
		OSType:         req.OSType,
		Stealth:        req.Stealth,
		Capabilities:   req.Capabilities,
		RequestedTools: req.RequestedTools,
		AllowlistOnly:  req.AllowlistOnly,
	}

	m := Mission{
		ID:          uuid.New().String(),
		Target:      req.Target,
		Model:       req.Model,
		StartedAt:   time.Now(),
		MaxDuration: req.MaxDuration,
		Request:     req,
	}
	for i := 0; i < count; i++ {
		a := c.agents.Create(fmt.Sprintf("Agent-%d", i+1), Roles[i], cfg)
		c.agents.SetStatus(a.ID, agent.StatusRunning)
		m.AgentIDs = append(m.AgentIDs, a.ID)
	}

	missionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{mission: m, cancel: cancel, done: make(chan struct{})}

	g, gctx := errgroup.WithContext(missionCtx)
	for _, id := range m.AgentIDs {
		g.Go(func() error {
			c.runAgent(gctx, id, r)
			return nil
		})
	}

	if req.MaxDuration > 0 {
		r.timer = time.AfterFunc(req.MaxDuration, func() {
			c.logger.Info("mission reached max duration", "mission_id", m.ID, "max_duration", req.MaxDuration)
			c.stopRun(r, "max duration reached")
		})
	}

	c.current = r
	c.last = r

	go func() {
		_ = g.Wait()
		cancel()
		c.finish(r)
	}()

	c.logger.Info("mission started",
		"mission_id", m.ID,
		"target", m.Target,
		"model", m.Model,
		"agents", count,
		"allowlist_only", req.AllowlistOnly,
	)
	c.publish(hub.SystemEvent(fmt.Sprintf("Mission started against %s with %d agents", m.Target, count)))

	return cloneMission(m), nil
}

// Stop ends the active mission, moving its non-terminal agents to complete.
// It returns the number of agents stopped.
func (c *Coordinator) Stop() int {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return 0
	}
	return c.stopRun(r, "stopped by operator")
}

func (c *Coordinator) stopRun(r *run, reason string) int {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return 0
	}
	c.current = nil
	c.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()

	stopped := 0
	for _, id := range r.mission.AgentIDs {
		a, ok := c.agents.Get(id)
		if !ok || a.Status.IsTerminal() {
			continue
		}
		if c.agents.SetStatus(id, agent.StatusComplete) {
			stopped++
		}
	}

	c.logger.Info("mission stopped", "mission_id", r.mission.ID, "reason", reason, "agents_stopped", stopped)
	c.publish(hub.SystemEvent(fmt.Sprintf("Mission stopped: %s", reason)))
	return stopped
}

// finish runs once every agent task of r has returned.
func (c *Coordinator) finish(r *run) {
	if r.timer != nil {
		r.timer.Stop()
	}

	c.mu.Lock()
	natural := c.current == r
	if natural {
		c.current = nil
	}
	c.mu.Unlock()

	close(r.done)

	if natural {
		c.logger.Info("mission complete", "mission_id", r.mission.ID, "duration", time.Since(r.mission.StartedAt))
		c.publish(hub.SystemEvent(fmt.Sprintf("Mission against %s complete", r.mission.Target)))
	}
}

// Wait blocks until every agent task of the most recent mission has returned.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()

	if r != nil {
		<-r.done
	}
}

// Active reports whether a mission is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the running mission, if any.
func (c *Coordinator) Current() (Mission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Mission{}, false
	}
	return cloneMission(c.current.mission), true
}

func (c *Coordinator) publish(e hub.Event) {
	if c.hub != nil {
		c.hub.Publish(e)
	}
}

func cloneMission(m Mission) Mission {
	m.AgentIDs = append([]string(nil), m.AgentIDs...)
	m.Request.RequestedTools = append([]string(nil), m.Request.RequestedTools...)
	return m
}
