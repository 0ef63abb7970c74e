// ABOUTME: Tests for the Redis event mirror using an in-memory publisher.
// ABOUTME: Verifies forwarding, failure tolerance, and shutdown on hub close.

package hub

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	fail     bool
	delay    time.Duration
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	f.messages = append(f.messages, channel+"|"+string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestRedisMirror_ForwardsEvents(t *testing.T) {
	h := NewHub(nil)
	pub := &fakePublisher{}
	mirror := NewRedisMirror(pub, "events", nil)

	done := make(chan struct{})
	go func() {
		mirror.Run(t.Context(), h)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(SystemEvent("mission started"))

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	assert.Contains(t, pub.messages[0], "events|")
	assert.Contains(t, pub.messages[0], "mission started")
	pub.mu.Unlock()

	h.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop after hub close")
	}
}

func TestRedisMirror_ToleratesFailures(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	pub := &fakePublisher{fail: true}
	mirror := NewRedisMirror(pub, "events", nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx, h)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(SystemEvent("dropped on the floor"))
	h.Publish(SystemEvent("still running"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop after cancel")
	}
	assert.Zero(t, pub.count())
}

func TestRedisMirror_ReregistrationDoesNotLeak(t *testing.T) {
	h := NewHub(nil, WithBufferSize(1), WithOverflow(OverflowDisconnect))
	pub := &fakePublisher{delay: 20 * time.Millisecond}
	mirror := NewRedisMirror(pub, "events", nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx, h)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		// One event in flight plus one buffered, so the third overflows.
		for j := 0; j < 3; j++ {
			h.Publish(SystemEvent("burst"))
		}
		require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline+2 },
		time.Second, 10*time.Millisecond)

	cancel()
	h.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop after cancel")
	}
}
