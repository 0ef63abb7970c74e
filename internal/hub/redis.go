// ABOUTME: Optional observer that mirrors hub events onto a Redis pub/sub channel.
// ABOUTME: Redis latency or failure never blocks the hub or other observers.

package hub

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the subset of *redis.Client used by the mirror.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror forwards every event as JSON to a Redis channel.
type RedisMirror struct {
	client  redisPublisher
	channel string
	logger  *slog.Logger
}

// NewRedisClient dials a Redis server lazily; the first command connects.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewRedisMirror creates a mirror publishing to channel.
func NewRedisMirror(client redisPublisher, channel string, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis-mirror"),
	}
}

// Run registers with h and forwards events until ctx is done or h is closed.
// If the hub disconnects the mirror for falling behind, it re-registers.
func (m *RedisMirror) Run(ctx context.Context, h *Hub) {
	for ctx.Err() == nil && !h.Closed() {
		m.session(ctx, h)
	}
}

// session forwards events from one registration. The registration context is
// canceled on return so the hub's watcher for it exits.
func (m *RedisMirror) session(ctx context.Context, h *Hub) {
	regCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	obs := h.Register(regCtx)
	m.forward(ctx, obs)
	if ctx.Err() == nil && !h.Closed() {
		m.logger.Warn("mirror fell behind and was disconnected, re-registering",
			"dropped", obs.Dropped())
	}
}

func (m *RedisMirror) forward(ctx context.Context, obs *Observer) {
	for e := range obs.Events() {
		payload, err := e.Marshal()
		if err != nil {
			m.logger.Error("encoding event", "event_type", e.Kind, "error", err)
			continue
		}
		if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
			m.logger.Warn("publishing event to redis", "channel", m.channel, "error", err)
		}
	}
}
