// ABOUTME: Tests for the broadcast hub fan-out and slow-observer isolation.
// ABOUTME: Covers register, publish ordering, overflow policies, context cancel, and close.

package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, o *Observer) Event {
	t.Helper()
	select {
	case e, ok := <-o.Events():
		require.True(t, ok, "observer channel closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_SingleObserverReceivesEvent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	o := h.Register(t.Context())
	h.Publish(SystemEvent("hello"))

	e := receive(t, o)
	assert.Equal(t, KindSystem, e.Kind)
	assert.Equal(t, "hello", e.Message)
}

func TestHub_AllObserversReceiveSameEvent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	observers := []*Observer{h.Register(t.Context()), h.Register(t.Context()), h.Register(t.Context())}
	h.Publish(ChatEvent("agent-1", "hi"))

	for i, o := range observers {
		e := receive(t, o)
		assert.Equal(t, KindChat, e.Kind, "observer %d got wrong event", i)
		assert.Equal(t, "agent-1", e.AgentID)
	}
}

func TestHub_PerProducerOrdering(t *testing.T) {
	h := NewHub(nil, WithBufferSize(128))
	defer h.Close()

	o := h.Register(t.Context())
	for i := 0; i < 100; i++ {
		h.Publish(SystemEvent(fmt.Sprint(i)))
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprint(i), receive(t, o).Message)
	}
}

func TestHub_DeliveryIsolation(t *testing.T) {
	for _, policy := range []Overflow{OverflowDisconnect, OverflowDropOldest} {
		t.Run(string(policy), func(t *testing.T) {
			h := NewHub(nil, WithBufferSize(32), WithOverflow(policy))
			defer h.Close()

			fast1 := h.Register(t.Context())
			blocked := h.Register(t.Context()) // never read
			fast3 := h.Register(t.Context())

			const total = 200
			var wg sync.WaitGroup
			counts := make([]int, 2)
			for i, o := range []*Observer{fast1, fast3} {
				wg.Add(1)
				go func(idx int, o *Observer) {
					defer wg.Done()
					for range o.Events() {
						counts[idx]++
						if counts[idx] == total {
							return
						}
					}
				}(i, o)
			}

			published := make(chan struct{})
			go func() {
				defer close(published)
				for i := 0; i < total; i++ {
					h.Publish(SystemEvent(fmt.Sprint(i)))
					// let the fast readers keep up with a tiny buffer
					time.Sleep(200 * time.Microsecond)
				}
			}()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("fast observers were held up by the blocked observer")
			}
			<-published

			assert.Equal(t, total, counts[0])
			assert.Equal(t, total, counts[1])
			assert.Positive(t, blocked.Dropped())

			if policy == OverflowDisconnect {
				assert.Equal(t, 2, h.Count(), "blocked observer is disconnected")
			} else {
				assert.Equal(t, 3, h.Count())
			}
		})
	}
}

func TestHub_DisconnectClosesChannel(t *testing.T) {
	h := NewHub(nil, WithBufferSize(1), WithOverflow(OverflowDisconnect))
	defer h.Close()

	o := h.Register(t.Context())
	h.Publish(SystemEvent("1"))
	h.Publish(SystemEvent("2"))

	e, ok := <-o.Events()
	require.True(t, ok)
	assert.Equal(t, "1", e.Message)

	_, ok = <-o.Events()
	assert.False(t, ok, "channel closed after overflow disconnect")
	assert.Equal(t, int64(1), o.Dropped())
}

func TestHub_DropOldestKeepsNewest(t *testing.T) {
	h := NewHub(nil, WithBufferSize(2), WithOverflow(OverflowDropOldest))
	defer h.Close()

	o := h.Register(t.Context())
	for i := 1; i <= 5; i++ {
		h.Publish(SystemEvent(fmt.Sprint(i)))
	}

	assert.Equal(t, "4", receive(t, o).Message)
	assert.Equal(t, "5", receive(t, o).Message)
	assert.Equal(t, int64(3), o.Dropped())
}

func TestHub_ContextCancelUnregisters(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(t.Context())
	o := h.Register(ctx)
	require.Equal(t, 1, h.Count())

	cancel()

	select {
	case _, ok := <-o.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("observer not unregistered after cancel")
	}
	assert.Equal(t, 0, h.Count())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	o := h.Register(t.Context())
	h.Unregister(o.ID())
	assert.NotPanics(t, func() { h.Unregister(o.ID()) })
	assert.NotPanics(t, func() { h.Publish(SystemEvent("after")) })
}

func TestHub_SendTargetsOneObserver(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := h.Register(t.Context())
	b := h.Register(t.Context())

	assert.True(t, h.Send(a.ID(), SystemEvent("pong")))
	assert.False(t, h.Send("missing", SystemEvent("x")))

	assert.Equal(t, "pong", receive(t, a).Message)
	select {
	case e := <-b.Events():
		t.Fatalf("unexpected event for b: %+v", e)
	default:
	}
}

func TestHub_CloseRejectsRegistration(t *testing.T) {
	h := NewHub(nil)
	o := h.Register(t.Context())
	h.Close()

	_, ok := <-o.Events()
	assert.False(t, ok)
	assert.True(t, h.Closed())

	late := h.Register(t.Context())
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.NotPanics(t, func() { h.Publish(SystemEvent("x")) })
}

func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	h := NewHub(nil, WithBufferSize(8))
	defer h.Close()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Publish(SystemEvent("x"))
			}
		}()
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				o := h.Register(t.Context())
				h.Unregister(o.ID())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), h.Published())
}

func TestEvent_Marshal(t *testing.T) {
	data, err := AgentStatusEvent("a1", "running", "", map[string]int{"progress": 40}).Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"agent_status"`)
	assert.Contains(t, string(data), `"agent_id":"a1"`)
	assert.Contains(t, string(data), `"progress":40`)
}
