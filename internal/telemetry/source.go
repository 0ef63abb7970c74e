// ABOUTME: Resource sample sources: real host metrics via gopsutil and a
// ABOUTME: clearly-labelled synthetic per-agent generator for demos and tests.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/2389/coven-swarm/internal/agent"
)

// Sample is one host measurement.
type Sample struct {
	CPU          float64   `json:"cpu"`
	Memory       float64   `json:"memory"`
	Disk         float64   `json:"disk"`
	NetworkBytes uint64    `json:"network_bytes"`
	NetworkRate  float64   `json:"network_rate"`
	Timestamp    time.Time `json:"timestamp"`
	Synthetic    bool      `json:"synthetic,omitempty"`
}

// Source produces host samples.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// AgentSource produces a resource snapshot attributed to one agent.
type AgentSource interface {
	AgentSample(agentID string) agent.Resources
}

// HostSource samples the local machine with gopsutil. Each metric is read
// independently; one failing reading leaves the others intact.
type HostSource struct {
	diskPath string
	logger   *slog.Logger

	readCPU     func(ctx context.Context) (float64, error)
	readMemory  func(ctx context.Context) (float64, error)
	readDisk    func(ctx context.Context) (float64, error)
	readNetwork func(ctx context.Context) (uint64, error)

	mu        sync.Mutex
	lastBytes uint64
	lastAt    time.Time
}

// NewHostSource creates a source measuring disk usage at diskPath.
func NewHostSource(diskPath string, logger *slog.Logger) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &HostSource{
		diskPath: diskPath,
		logger:   logger.With("component", "host-source"),
	}
	s.readCPU = func(ctx context.Context) (float64, error) {
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil || len(pct) == 0 {
			return 0, err
		}
		return pct[0], nil
	}
	s.readMemory = func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}
	s.readDisk = func(ctx context.Context) (float64, error) {
		du, err := disk.UsageWithContext(ctx, s.diskPath)
		if err != nil {
			return 0, err
		}
		return du.UsedPercent, nil
	}
	s.readNetwork = func(ctx context.Context) (uint64, error) {
		counters, err := psnet.IOCountersWithContext(ctx, false)
		if err != nil {
			return 0, err
		}
		var total uint64
		for _, c := range counters {
			total += c.BytesSent + c.BytesRecv
		}
		return total, nil
	}
	return s
}

// Sample measures CPU, memory, disk and network counters. Network rate is the
// byte delta since the previous successful network reading. A failed metric
// is logged and reported as zero; an error is returned only when every metric
// failed.
func (s *HostSource) Sample(ctx context.Context) (Sample, error) {
	now := time.Now()
	sample := Sample{Timestamp: now}
	var errs []error

	read := func(metric string, fn func(context.Context) (float64, error), dst *float64) {
		v, err := fn(ctx)
		if err != nil {
			s.logger.Warn("reading host metric failed", "metric", metric, "error", err)
			errs = append(errs, fmt.Errorf("reading %s: %w", metric, err))
			return
		}
		*dst = round1(v)
	}
	read("cpu", s.readCPU, &sample.CPU)
	read("memory", s.readMemory, &sample.Memory)
	read("disk", s.readDisk, &sample.Disk)

	bytes, err := s.readNetwork(ctx)
	if err != nil {
		s.logger.Warn("reading host metric failed", "metric", "network", "error", err)
		errs = append(errs, fmt.Errorf("reading network: %w", err))
	} else {
		sample.NetworkBytes = bytes
		s.mu.Lock()
		if !s.lastAt.IsZero() && bytes >= s.lastBytes {
			if elapsed := now.Sub(s.lastAt).Seconds(); elapsed > 0 {
				sample.NetworkRate = float64(bytes-s.lastBytes) / elapsed
			}
		}
		s.lastBytes = bytes
		s.lastAt = now
		s.mu.Unlock()
	}

	if len(errs) == 4 {
		return Sample{}, errors.Join(errs...)
	}
	return sample, nil
}

// baseline is the slowly drifting centre of an agent's synthetic readings.
type baseline struct {
	cpu    float64
	memory float64
}

// SyntheticAgentSource fabricates per-agent resource readings: a per-agent
// baseline (CPU 5-40%, memory 50-200 MB) plus bounded jitter, clamped to
// valid ranges. Readings are for display only.
type SyntheticAgentSource struct {
	mu        sync.Mutex
	rng       *rand.Rand
	baselines map[string]*baseline
}

// NewSyntheticAgentSource creates a generator seeded with seed.
func NewSyntheticAgentSource(seed int64) *SyntheticAgentSource {
	return &SyntheticAgentSource{
		rng:       rand.New(rand.NewSource(seed)),
		baselines: make(map[string]*baseline),
	}
}

// AgentSample returns the next jittered reading for agentID.
func (s *SyntheticAgentSource) AgentSample(agentID string) agent.Resources {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baselines[agentID]
	if !ok {
		b = &baseline{
			cpu:    5 + s.rng.Float64()*35,
			memory: 50 + s.rng.Float64()*150,
		}
		s.baselines[agentID] = b
	}

	b.cpu = clamp(b.cpu+s.jitter(2), 5, 40)
	b.memory = clamp(b.memory+s.jitter(5), 50, 200)

	return agent.Resources{
		CPU:       round1(clamp(b.cpu+s.jitter(5), 0, 100)),
		MemoryMB:  round1(clamp(b.memory+s.jitter(10), 0, 1<<20)),
		Disk:      round1(clamp(s.rng.Float64()*5, 0, 100)),
		NetworkIO: round1(clamp(s.rng.Float64()*1024, 0, 1<<30)),
	}
}

// Retain forgets baselines for agents not in ids.
func (s *SyntheticAgentSource) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.baselines {
		if _, ok := keep[id]; !ok {
			delete(s.baselines, id)
		}
	}
}

// jitter returns a uniform value in [-spread, spread]. Must be called with mu held.
func (s *SyntheticAgentSource) jitter(spread float64) float64 {
	return (s.rng.Float64()*2 - 1) * spread
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
