// ABOUTME: Gateway orchestrator that wires the swarm components and serves HTTP
// ABOUTME: Owns lifecycle of the store, hub, mission coordinator, sampler and background loops

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/config"
	"github.com/2389/coven-swarm/internal/dedupe"
	"github.com/2389/coven-swarm/internal/hub"
	"github.com/2389/coven-swarm/internal/llm"
	"github.com/2389/coven-swarm/internal/mission"
	"github.com/2389/coven-swarm/internal/policy"
	"github.com/2389/coven-swarm/internal/queue"
	"github.com/2389/coven-swarm/internal/store"
	"github.com/2389/coven-swarm/internal/telemetry"
)

const (
	// findingDedupeTTL is how long a reported finding suppresses repeats.
	findingDedupeTTL  = time.Hour
	findingDedupeSize = 10000

	shutdownTimeout = 5 * time.Second
)

// Gateway owns every swarm component and exposes them over HTTP and WebSocket.
type Gateway struct {
	config      *config.Config
	store       store.Store
	agents      *agent.Registry
	queue       *queue.Queue
	hub         *hub.Hub
	llm         llm.Client
	rules       *policy.RuleEngine
	coordinator *mission.Coordinator
	sampler     *telemetry.Sampler
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	// redis is nil unless a redis address is configured
	redis  *redis.Client
	mirror *hub.RedisMirror

	mu   sync.RWMutex
	addr string

	startedAt time.Time
}

// New creates a gateway from cfg. Components are constructed in dependency
// order; any failure closes what was already opened.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := llm.New(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		DefaultModel:      cfg.LLM.DefaultModel,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, logger)
	return newGateway(cfg, client, logger)
}

func newGateway(cfg *config.Config, client llm.Client, logger *slog.Logger) (*Gateway, error) {
	logger = logger.With("component", "gateway")

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	var rules *policy.RuleEngine
	if cfg.Policy.RulesFile != "" {
		rules, err = policy.LoadRuleEngine(context.Background(), cfg.Policy.RulesFile)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("loading policy rules: %w", err)
		}
		logger.Info("policy rules loaded", "path", cfg.Policy.RulesFile)
	}

	agents := agent.NewRegistry(cfg.Agents.MessageRetention, logger)
	q := queue.New(queue.Options{
		MaxPending:      cfg.Queue.MaxPending,
		HistorySize:     cfg.Queue.HistorySize,
		RecentCompleted: cfg.Queue.RecentCompleted,
	}, logger)
	h := hub.NewHub(logger,
		hub.WithBufferSize(cfg.Hub.BufferSize),
		hub.WithOverflow(hub.Overflow(cfg.Hub.Overflow)),
	)

	coordinator := mission.New(mission.Deps{
		Agents: agents,
		Queue:  q,
		Hub:    h,
		LLM:    client,
		Store:  s,
		Dedupe: dedupe.New(findingDedupeTTL, findingDedupeSize),
		Rules:  rules,
		Logger: logger,
	}, mission.Options{
		DefaultAgents: cfg.Mission.DefaultAgents,
		MaxAgents:     cfg.Mission.MaxAgents,
		MaxIterations: cfg.Mission.MaxIterations,
		BaseDelay:     cfg.Mission.BaseDelay,
		PollInterval:  cfg.Mission.PollInterval,
		DefaultModel:  cfg.LLM.DefaultModel,
		MaxDuration:   cfg.Mission.MaxDuration,
	})

	samplerOpts := telemetry.Options{
		Interval:    cfg.Telemetry.Interval,
		HistorySize: cfg.Telemetry.HistorySize,
		Logger:      logger,
	}
	if cfg.Telemetry.SyntheticAgents {
		samplerOpts.Agents = telemetry.NewSyntheticAgentSource(time.Now().UnixNano())
	}
	sampler := telemetry.NewSampler(telemetry.NewHostSource(cfg.Telemetry.DiskPath, logger), agents, h, samplerOpts)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		agents:      agents,
		queue:       q,
		hub:         h,
		llm:         client,
		rules:       rules,
		coordinator: coordinator,
		sampler:     sampler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logger,
		startedAt: time.Now(),
	}

	if cfg.Redis.Addr != "" {
		gw.redis = hub.NewRedisClient(cfg.Redis.Addr)
		gw.mirror = hub.NewRedisMirror(gw.redis, cfg.Redis.Channel, logger)
		logger.Info("mirroring events to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("POST /api/start", g.handleStart)
	mux.HandleFunc("POST /api/stop", g.handleStop)
	mux.HandleFunc("GET /api/mission", g.handleMission)

	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", g.handleDeleteAgent)
	mux.HandleFunc("POST /api/agents/{id}/pause", g.handlePauseAgent)
	mux.HandleFunc("POST /api/agents/{id}/resume", g.handleResumeAgent)

	mux.HandleFunc("GET /api/queue", g.handleListQueue)
	mux.HandleFunc("POST /api/queue", g.handleAddQueue)
	mux.HandleFunc("DELETE /api/queue", g.handleClearQueue)
	mux.HandleFunc("PUT /api/queue/{id}", g.handleEditQueue)
	mux.HandleFunc("DELETE /api/queue/{id}", g.handleDeleteQueue)

	mux.HandleFunc("GET /api/resources", g.handleResources)
	mux.HandleFunc("GET /api/resources/history", g.handleResourceHistory)

	mux.HandleFunc("GET /api/findings", g.handleListFindings)
	mux.HandleFunc("GET /api/models", g.handleListModels)
	mux.HandleFunc("GET /api/tools", g.handleListTools)
	mux.HandleFunc("POST /api/tools/check", g.handleCheckTool)

	mux.HandleFunc("GET /api/configs", g.handleListConfigs)
	mux.HandleFunc("POST /api/configs", g.handleSaveConfig)
	mux.HandleFunc("GET /api/configs/{name}", g.handleGetConfig)
	mux.HandleFunc("DELETE /api/configs/{name}", g.handleDeleteConfig)

	mux.HandleFunc("GET /ws/live", g.handleLive)
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Addr returns the address the HTTP server is listening on, or "" before Run.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.addr
}

func (g *Gateway) setupListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	g.mu.Lock()
	g.addr = ln.Addr().String()
	g.mu.Unlock()
	return ln, nil
}

func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBackground runs the sampler, the stale-claim sweeper and the optional
// redis mirror until ctx is done.
func (g *Gateway) startBackground(ctx context.Context) *errgroup.Group {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.sampler.Run(gctx)
		return nil
	})
	grp.Go(func() error {
		g.queue.RunSweeper(gctx, g.config.Queue.SweepInterval, g.config.Queue.ClaimTimeout)
		return nil
	})
	if g.mirror != nil {
		grp.Go(func() error {
			g.mirror.Run(gctx, g.hub)
			return nil
		})
	}

	return grp
}

// waitForShutdownSignal blocks until context is canceled or a server error occurs.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and background loops, then blocks until ctx is
// canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	background := g.startBackground(bgCtx)

	g.hub.Publish(hub.SystemEvent("Gateway started"))

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopBackground()
	_ = background.Wait()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// stopMission stops the running mission and waits for its agents to return.
func (g *Gateway) stopMission(ctx context.Context) error {
	if stopped := g.coordinator.Stop(); stopped > 0 {
		g.logger.Info("stopped running mission", "agents_stopped", stopped)
	}

	done := make(chan struct{})
	go func() {
		g.coordinator.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the mission, the HTTP server, the hub and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "mission stop", g.stopMission(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Closing the hub closes every observer channel, which ends WebSocket
	// write pumps with a close frame.
	g.hub.Close()

	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns OK if the server is running.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyResponse is the body of GET /health/ready.
type ReadyResponse struct {
	Status        string  `json:"status"`
	Agents        int     `json:"agents"`
	Observers     int     `json:"observers"`
	MissionActive bool    `json:"mission_active"`
	Simulated     bool    `json:"simulated_llm"`
	Uptime        float64 `json:"uptime_seconds"`
}

// handleReady reports component counts. It fails only once the hub is closed.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:        "ready",
		Agents:        g.agents.Count(),
		Observers:     g.hub.Count(),
		MissionActive: g.coordinator.Active(),
		Simulated:     isSimulated(g.llm),
		Uptime:        time.Since(g.startedAt).Seconds(),
	}
	status := http.StatusOK
	if g.hub.Closed() {
		resp.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	}
	g.sendJSON(w, status, resp)
}

func isSimulated(c llm.Client) bool {
	_, ok := c.(*llm.SimulatedClient)
	return ok
}
