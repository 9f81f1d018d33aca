package collector

import (
	"sync"
	"time"
)

// ppState is the collector's own bookkeeping per publication point —
// distinct from the archive (raw bytes) and the object store (validated
// view): this is "what did we last see on the wire".
type ppState struct {
	mu sync.Mutex

	session string
	serial  uint64

	lastRRDPSuccess time.Time
	everRRDPSuccess bool
	lastRsyncTry    time.Time

	consecutiveFailures int
}

// PPStatus is a read-only snapshot of ppState, safe to copy and log.
type PPStatus struct {
	Session             string
	Serial              uint64
	LastRRDPSuccess     time.Time
	EverRRDPSuccess     bool
	LastRsyncTry        time.Time
	ConsecutiveFailures int
}

func (s *ppState) status() PPStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PPStatus{
		Session:             s.session,
		Serial:              s.serial,
		LastRRDPSuccess:     s.lastRRDPSuccess,
		EverRRDPSuccess:     s.everRRDPSuccess,
		LastRsyncTry:        s.lastRsyncTry,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}
