// ABOUTME: Tests for the telemetry sampler and synthetic agent source.
// ABOUTME: Covers failure fallback, per-agent updates, history bounds, and clamping.

package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/hub"
)

type stubSource struct {
	mu     sync.Mutex
	sample Sample
	err    error
	calls  int
}

func (s *stubSource) Sample(context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.sample, s.err
}

type stubAgents struct {
	mu      sync.Mutex
	running []string
	updates map[string]agent.Resources
}

func (a *stubAgents) Running() []string { return a.running }

func (a *stubAgents) UpdateResources(id string, res agent.Resources) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updates == nil {
		a.updates = map[string]agent.Resources{}
	}
	a.updates[id] = res
}

type capturePublisher struct {
	mu     sync.Mutex
	events []hub.Event
}

func (p *capturePublisher) Publish(e hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestSampler_TickPublishesSample(t *testing.T) {
	src := &stubSource{sample: Sample{CPU: 12.5, Memory: 40, Disk: 70, Timestamp: time.Now()}}
	pub := &capturePublisher{}
	s := NewSampler(src, nil, pub, Options{})

	got := s.Tick(t.Context())
	assert.Equal(t, 12.5, got.CPU)

	require.Equal(t, 1, pub.len())
	assert.Equal(t, hub.KindResources, pub.events[0].Kind)
	assert.Equal(t, got, pub.events[0].Data)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, got, latest)
}

func TestSampler_FailureDegradesToZeroSample(t *testing.T) {
	src := &stubSource{err: errors.New("platform unsupported")}
	pub := &capturePublisher{}
	s := NewSampler(src, nil, pub, Options{})

	got := s.Tick(t.Context())
	assert.Zero(t, got.CPU)
	assert.Zero(t, got.Memory)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 1, pub.len(), "zero sample is still published")
}

func TestSampler_RunSurvivesErrors(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	pub := &capturePublisher{}
	s := NewSampler(src, nil, pub, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pub.len() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
}

func TestSampler_UpdatesRunningAgents(t *testing.T) {
	agents := &stubAgents{running: []string{"a1", "a2"}}
	s := NewSampler(&stubSource{}, agents, nil, Options{Agents: NewSyntheticAgentSource(1)})

	s.Tick(t.Context())

	agents.mu.Lock()
	defer agents.mu.Unlock()
	require.Len(t, agents.updates, 2)
	for _, res := range agents.updates {
		assert.GreaterOrEqual(t, res.CPU, 0.0)
		assert.LessOrEqual(t, res.CPU, 100.0)
		assert.Positive(t, res.MemoryMB)
	}
}

func TestSampler_HistoryBounded(t *testing.T) {
	src := &stubSource{}
	s := NewSampler(src, nil, nil, Options{HistorySize: 3})

	for i := 0; i < 5; i++ {
		src.mu.Lock()
		src.sample = Sample{CPU: float64(i), Timestamp: time.Now()}
		src.mu.Unlock()
		s.Tick(t.Context())
	}

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, 2.0, history[0].CPU)
	assert.Equal(t, 4.0, history[2].CPU)
}

func TestSampler_MeasureHasNoSideEffects(t *testing.T) {
	src := &stubSource{sample: Sample{CPU: 30, Timestamp: time.Now()}}
	pub := &capturePublisher{}
	agents := &stubAgents{running: []string{"a1"}}
	s := NewSampler(src, agents, pub, Options{Agents: NewSyntheticAgentSource(1)})

	got := s.Measure(t.Context())
	assert.Equal(t, 30.0, got.CPU)

	assert.Zero(t, pub.len())
	assert.Empty(t, s.History())
	assert.Empty(t, agents.updates)
}

func TestSampler_LatestEmpty(t *testing.T) {
	s := NewSampler(&stubSource{}, nil, nil, Options{})
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestSyntheticAgentSource_StaysInRange(t *testing.T) {
	src := NewSyntheticAgentSource(42)
	for i := 0; i < 1000; i++ {
		res := src.AgentSample("agent")
		assert.GreaterOrEqual(t, res.CPU, 0.0)
		assert.LessOrEqual(t, res.CPU, 100.0)
		assert.GreaterOrEqual(t, res.MemoryMB, 0.0)
		assert.GreaterOrEqual(t, res.Disk, 0.0)
		assert.LessOrEqual(t, res.Disk, 100.0)
	}

	b := src.baselines["agent"]
	assert.GreaterOrEqual(t, b.cpu, 5.0)
	assert.LessOrEqual(t, b.cpu, 40.0)
	assert.GreaterOrEqual(t, b.memory, 50.0)
	assert.LessOrEqual(t, b.memory, 200.0)
}

func TestSyntheticAgentSource_Deterministic(t *testing.T) {
	a := NewSyntheticAgentSource(7)
	b := NewSyntheticAgentSource(7)
	assert.Equal(t, a.AgentSample("x"), b.AgentSample("x"))
}

func TestSyntheticAgentSource_Retain(t *testing.T) {
	src := NewSyntheticAgentSource(1)
	src.AgentSample("keep")
	src.AgentSample("drop")

	src.Retain([]string{"keep"})
	assert.Contains(t, src.baselines, "keep")
	assert.NotContains(t, src.baselines, "drop")
}
