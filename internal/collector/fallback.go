package collector

import (
	"time"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// shouldFallback implements the per-PP {never, stale, new} policy (spec
// §4.B) for a PP whose RRDP fetch just failed.
func (c *Collector) shouldFallback(st *ppState) bool {
	switch c.cfg.RRDPFallback {
	case rpki.FallbackNever:
		return false
	case rpki.FallbackNew:
		st.mu.Lock()
		defer st.mu.Unlock()
		return !st.everRRDPSuccess
	default: // stale
		st.mu.Lock()
		last := st.lastRRDPSuccess
		ever := st.everRRDPSuccess
		st.mu.Unlock()
		if !ever {
			return true
		}
		threshold := c.staleThreshold()
		return time.Since(last) > threshold
	}
}

// staleThreshold draws a fresh random value in [refresh, rrdp-fallback-time]
// each time it's called, matching the spec's "per-run random threshold":
// a fixed threshold would let every PP flip to rsync in lockstep the moment
// it's crossed, thundering-herding every rsync module at once.
func (c *Collector) staleThreshold() time.Duration {
	lo, hi := c.cfg.Refresh, c.cfg.RRDPFallbackTime
	if hi <= lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(c.randSeed()*float64(span))
}
