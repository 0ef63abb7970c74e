// ABOUTME: Ordered delivery of change notifications issued under another lock.
// ABOUTME: Tickets are taken while the owner's lock is held and delivered in ticket order.

package notify

import "sync"

// Sequencer delivers notifications in the order their tickets were issued.
// The owner takes a ticket while holding its own lock, releases that lock and
// then calls Deliver. Listeners therefore run without the owner's lock held,
// but never out of order with respect to the state changes they describe.
//
// A listener may read from the owner. It must not mutate the same owner, since
// that mutation's ticket would wait on the delivery in progress.
//
// The zero value is ready to use.
type Sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
	done uint64
}

func (s *Sequencer) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Ticket reserves the next delivery slot. Every ticket must be passed to
// Deliver exactly once or later deliveries will block forever.
func (s *Sequencer) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next++
	return t
}

// Deliver waits for every earlier ticket to be delivered, then runs fn.
func (s *Sequencer) Deliver(ticket uint64, fn func()) {
	s.mu.Lock()
	s.init()
	for s.done != ticket {
		s.cond.Wait()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.done++
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	fn()
}
