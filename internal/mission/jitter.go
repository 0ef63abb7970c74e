// ABOUTME: Randomized pacing between agent steps when stealth timing is enabled.

package mission

import (
	"math/rand"
	"time"
)

// MinJitter is the floor applied to every jittered delay.
const MinJitter = 100 * time.Millisecond

// Jitter returns base shifted by a uniform offset in [-base/4, +base/4],
// never less than MinJitter.
func Jitter(rng *rand.Rand, base time.Duration) time.Duration {
	spread := int64(base / 4)
	d := base
	if spread > 0 {
		d = base - time.Duration(spread) + time.Duration(rng.Int63n(2*spread+1))
	}
	return max(d, MinJitter)
}

// Jitter applies Jitter with the coordinator's random source.
func (c *Coordinator) Jitter(base time.Duration) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return Jitter(c.rng, base)
}
