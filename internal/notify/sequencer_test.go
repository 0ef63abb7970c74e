// ABOUTME: Tests for ordered notification delivery.

package notify

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_DeliversInTicketOrder(t *testing.T) {
	var s Sequencer
	first := s.Ticket()
	second := s.Ticket()

	var got []uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Deliver(second, func() { got = append(got, second) })
	}()

	runtime.Gosched()
	s.Deliver(first, func() { got = append(got, first) })
	wg.Wait()

	assert.Equal(t, []uint64{first, second}, got)
}

func TestSequencer_ConcurrentOwners(t *testing.T) {
	var (
		s     Sequencer
		mu    sync.Mutex
		state int
		seen  []int
	)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				mu.Lock()
				state++
				v := state
				ticket := s.Ticket()
				mu.Unlock()

				s.Deliver(ticket, func() {
					runtime.Gosched()
					seen = append(seen, v)
				})
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 800)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
}

func TestSequencer_PanickingListenerDoesNotStall(t *testing.T) {
	var s Sequencer
	first := s.Ticket()
	second := s.Ticket()

	assert.Panics(t, func() {
		s.Deliver(first, func() { panic("boom") })
	})

	ran := false
	s.Deliver(second, func() { ran = true })
	assert.True(t, ran)
}
