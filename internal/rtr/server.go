package rtr

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/bgpfix/rpkid/internal/payloadset"
)

// Server holds the state shared across every RTR session (spec 4.G): the
// fixed session identifier, the current published set, and the bounded
// delta history. A session identifier is hard to guess across restarts
// so a stale client can never be fooled into trusting a mismatched
// generation (RFC 8210 §7); crypto/rand, not the package's usual
// math/rand, is worth it for that one value.
type Server struct {
	cfg Config
	log zerolog.Logger

	sessionID uint16
	current   atomic.Pointer[Snapshot]
	history   *History

	sessions *xsync.Map[uint64, *Session]
	nextID   atomic.Uint64

	changeMu sync.Mutex
	changeCh chan struct{}
}

func NewServer(cfg Config, log zerolog.Logger) (*Server, error) {
	id, err := randomSessionID()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		log:       log.With().Str("component", "rtr").Logger(),
		sessionID: id,
		history:   NewHistory(cfg.HistorySize),
		sessions:  xsync.NewMap[uint64, *Session](),
		changeCh:  make(chan struct{}),
	}
	s.current.Store(&Snapshot{SessionID: id})
	return s, nil
}

func randomSessionID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Current returns the currently published snapshot.
func (s *Server) Current() *Snapshot {
	return s.current.Load()
}

// SessionID is the process-lifetime-fixed identifier every PDU on
// version ≥ 1 carries.
func (s *Server) SessionID() uint16 { return s.sessionID }

// Publish adopts set as the new published generation. If the computed
// delta against the previous snapshot is non-empty on either side, the
// serial advances, the delta is pushed into history, and every
// registered session is sent a Serial Notify — spec 4.G: "advance serial
// iff either side non-empty". An unchanged publish is a no-op: no serial
// bump, no history entry, no notify.
func (s *Server) Publish(set *payloadset.Set) {
	prev := s.current.Load()
	next := SnapshotOf(set, s.sessionID, prev.Serial)

	delta := ComputeDelta(prev, next)
	if delta.Empty() {
		s.log.Debug().Msg("publish: no change, serial unchanged")
		return
	}

	next.Serial = prev.Serial + 1 // wraps per RFC 8210 §3.2.1; uint32 overflow is the wrap
	delta.Serial = next.Serial
	s.history.Push(delta)
	s.current.Store(next)

	s.log.Info().Uint32("serial", next.Serial).
		Int("withdrawn_vrps", len(delta.WithdrawnVRPs)).
		Int("announced_vrps", len(delta.AnnouncedVRPs)).
		Msg("publish: new generation")

	s.notifyAll(next.Serial)
	s.broadcastChange()
}

// broadcastChange wakes every /json-delta long-poll blocked in
// WaitForChange by closing and replacing the shared channel.
func (s *Server) broadcastChange() {
	s.changeMu.Lock()
	close(s.changeCh)
	s.changeCh = make(chan struct{})
	s.changeMu.Unlock()
}

// WaitForChange blocks until the published serial differs from
// knownSerial, ctx is done, or a change is already pending — the
// blocking half of the `/json-delta/notify` long-poll.
func (s *Server) WaitForChange(ctx context.Context, knownSerial uint32) (*Snapshot, error) {
	for {
		cur := s.Current()
		if cur.Serial != knownSerial {
			return cur, nil
		}
		s.changeMu.Lock()
		ch := s.changeCh
		s.changeMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// Delta returns the contiguous chain of retained deltas starting at
// since, or ok=false if since doesn't match any retained generation.
func (s *Server) Delta(since uint32) (chain []Delta, ok bool) {
	return s.history.Chain(since)
}

func (s *Server) notifyAll(serial uint32) {
	s.sessions.Range(func(_ uint64, sess *Session) bool {
		sess.notifySerial(serial)
		return true
	})
}

func (s *Server) register(sess *Session) uint64 {
	id := s.nextID.Add(1)
	s.sessions.Store(id, sess)
	return id
}

func (s *Server) unregister(id uint64) {
	s.sessions.Delete(id)
}

// SessionCount reports the number of currently connected RTR sessions,
// for the status/metrics endpoints (spec §7: "surfaced through the
// status/metrics endpoints in addition to logs").
func (s *Server) SessionCount() int {
	n := 0
	s.sessions.Range(func(uint64, *Session) bool { n++; return true })
	return n
}
