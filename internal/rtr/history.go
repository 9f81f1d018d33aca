package rtr

import (
	"sync"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// Delta is one generation's change: (previous published set \ current)
// withdrawn, (current \ previous) announced (spec 4.G). FromSerial is the
// serial a client must already hold for this delta to apply cleanly.
type Delta struct {
	FromSerial, Serial uint32

	WithdrawnVRPs, AnnouncedVRPs             []rpki.VRP
	WithdrawnRouterKeys, AnnouncedRouterKeys []rpki.RouterKey
	WithdrawnASPAs, AnnouncedASPAs           []rpki.ASPA
}

// Empty reports whether this delta carries no changes in either direction.
func (d Delta) Empty() bool {
	return len(d.WithdrawnVRPs) == 0 && len(d.AnnouncedVRPs) == 0 &&
		len(d.WithdrawnRouterKeys) == 0 && len(d.AnnouncedRouterKeys) == 0 &&
		len(d.WithdrawnASPAs) == 0 && len(d.AnnouncedASPAs) == 0
}

// History is the bounded ring of the last N deltas (spec 4.G
// "history-size", default 10), single-writer (the orchestrator, via
// Server.Publish) and many-reader (RTR sessions serving Serial Query).
type History struct {
	mu     sync.RWMutex
	size   int
	deltas []Delta // oldest first
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size}
}

// Push appends d, evicting the oldest entry once the ring is full.
func (h *History) Push(d Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deltas = append(h.deltas, d)
	if len(h.deltas) > h.size {
		h.deltas = h.deltas[len(h.deltas)-h.size:]
	}
}

// Chain returns every retained delta needed to bring a client holding
// since up to the newest retained serial, in order. ok is false when
// since isn't the FromSerial of any retained delta — either it predates
// the oldest retained generation (evicted) or it doesn't correspond to
// any generation this server ever published — and the caller must answer
// with a Cache Reset instead (spec 4.G: "else: send Cache Reset").
func (h *History) Chain(since uint32) (chain []Delta, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i, d := range h.deltas {
		if d.FromSerial == since {
			return append([]Delta(nil), h.deltas[i:]...), true
		}
	}
	return nil, false
}
