// ABOUTME: Periodic telemetry loop publishing host samples and per-agent readings.
// ABOUTME: Sampling failures degrade to a zero sample; the loop never stops on error.

package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultHistorySize = 60
)

// AgentView is the slice of the agent registry the sampler needs.
type AgentView interface {
	Running() []string
	UpdateResources(id string, res agent.Resources)
}

// Publisher receives resource events.
type Publisher interface {
	Publish(e hub.Event)
}

// Options configures a Sampler.
type Options struct {
	Interval    time.Duration
	HistorySize int
	// Agents, when set, attaches a per-agent reading to every running agent.
	Agents AgentSource
	Logger *slog.Logger
}

// Sampler measures resources on a fixed tick.
type Sampler struct {
	source    Source
	agentSrc  AgentSource
	agents    AgentView
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	history []Sample
	size    int
}

// NewSampler creates a sampler. agents and pub may be nil.
func NewSampler(src Source, agents AgentView, pub Publisher, opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sampler{
		source:    src,
		agentSrc:  opts.Agents,
		agents:    agents,
		publisher: pub,
		interval:  opts.Interval,
		size:      opts.HistorySize,
		logger:    opts.Logger.With("component", "telemetry"),
	}
}

// Run samples immediately and then on every tick until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	s.logger.Info("telemetry sampler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry sampler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one sampling round and returns the recorded sample.
func (s *Sampler) Tick(ctx context.Context) Sample {
	sample := s.Measure(ctx)
	s.record(sample)

	if s.publisher != nil {
		s.publisher.Publish(hub.ResourceEvent(sample))
	}

	if s.agentSrc != nil && s.agents != nil {
		running := s.agents.Running()
		for _, id := range running {
			s.agents.UpdateResources(id, s.agentSrc.AgentSample(id))
		}
		if r, ok := s.agentSrc.(interface{ Retain([]string) }); ok {
			r.Retain(running)
		}
	}

	return sample
}

// Measure reads the source once without recording, publishing or updating
// agents. A failing source yields a zero sample stamped with the current time.
func (s *Sampler) Measure(ctx context.Context) Sample {
	sample, err := s.source.Sample(ctx)
	if err != nil {
		s.logger.Warn("sampling host resources failed, using zero sample", "error", err)
		sample = Sample{}
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return sample
}

func (s *Sampler) record(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, sample)
	if over := len(s.history) - s.size; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
}

// Latest returns the most recent sample, if any.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns recorded samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}
