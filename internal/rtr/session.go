package rtr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// Session is one RTR client connection and its negotiated state. Reads
// happen on the connection's own goroutine (Run); writes are serialised
// with writeMu because both the read loop's responses and an
// out-of-band Serial Notify push (triggered by Server.Publish) write to
// the same net.Conn.
type Session struct {
	id   uint64
	srv  *Server
	conn net.Conn
	log  zerolog.Logger

	limiter *rate.Limiter

	writeMu sync.Mutex
	queryMu sync.Mutex // held while a query is answered, so notifies wait

	negotiated bool
	version    uint8

	notifyCh chan uint32
}

func newSession(srv *Server, conn net.Conn) *Session {
	s := &Session{
		srv:      srv,
		conn:     conn,
		log:      srv.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		notifyCh: make(chan uint32, 1),
	}
	if srv.cfg.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(srv.cfg.SendRate), int(srv.cfg.SendRate))
	}
	return s
}

// Run drives one session to completion: it registers the session, starts
// the notify pump, then reads and answers PDUs until the client
// disconnects, a protocol error occurs, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.id = s.srv.register(s)
	defer s.srv.unregister(s.id)
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		s.pumpNotifies(ctx)
	}()
	defer func() {
		cancel() // unblocks pumpNotifies before we wait on it
		<-notifyDone
	}()

	for {
		pdu, err := ReadPDU(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ErrShortPDU) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrUnknownType) {
				s.sendError(nil, err) // malformed PDU: report it before closing
			}
			return err
		}
		if err := s.handle(pdu); err != nil {
			s.sendError(pdu, err)
			return err
		}
	}
}

// pumpNotifies sends a Serial Notify whenever Server.Publish signals a
// new serial, for an idle session that isn't mid-query — spec 4.G:
// "[data ready & changed] -> send Serial Notify to idle sessions".
func (s *Session) pumpNotifies(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case serial := <-s.notifyCh:
			s.queryMu.Lock()
			if !s.negotiated {
				s.queryMu.Unlock()
				continue // haven't completed a handshake yet, nothing to notify
			}
			_ = s.write(&SerialNotifyPDU{Version: s.version, SessionID: s.srv.sessionID, Serial: serial})
			s.queryMu.Unlock()
		}
	}
}

func (s *Session) notifySerial(serial uint32) {
	select {
	case s.notifyCh <- serial:
	default: // a notify is already pending; the client will see the latest serial either way
	}
}

func (s *Session) handle(pdu PDU) error {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	switch p := pdu.(type) {
	case *ResetQueryPDU:
		return s.handleReset(p)
	case *SerialQueryPDU:
		return s.handleSerialQuery(p)
	default:
		return fmt.Errorf("%w: unexpected %s from client", ErrProtocol, pdu.Type())
	}
}

func (s *Session) negotiate(version uint8) error {
	if s.negotiated {
		return nil
	}
	if version != 0 && version != 1 {
		return fmt.Errorf("%w: unsupported protocol version %d", ErrProtocol, version)
	}
	s.version = version
	s.negotiated = true
	return nil
}

func (s *Session) handleReset(p *ResetQueryPDU) error {
	if err := s.negotiate(p.Version); err != nil {
		return err
	}
	snap := s.srv.Current()

	if err := s.write(&CacheResponsePDU{Version: s.version, SessionID: s.srv.sessionID}); err != nil {
		return err
	}
	if err := s.sendFullSequence(snap); err != nil {
		return err
	}
	return s.write(s.endOfData(snap.Serial))
}

func (s *Session) handleSerialQuery(p *SerialQueryPDU) error {
	if err := s.negotiate(p.Version); err != nil {
		return err
	}
	snap := s.srv.Current()

	if s.version >= 1 && p.SessionID != s.srv.sessionID {
		return s.write(&CacheResetPDU{Version: s.version})
	}

	if p.Serial == snap.Serial {
		if err := s.write(&CacheResponsePDU{Version: s.version, SessionID: s.srv.sessionID}); err != nil {
			return err
		}
		return s.write(s.endOfData(snap.Serial))
	}

	chain, ok := s.srv.history.Chain(p.Serial)
	if !ok {
		return s.write(&CacheResetPDU{Version: s.version})
	}

	if err := s.write(&CacheResponsePDU{Version: s.version, SessionID: s.srv.sessionID}); err != nil {
		return err
	}
	for _, d := range chain {
		if err := s.sendDelta(d); err != nil {
			return err
		}
	}
	return s.write(s.endOfData(snap.Serial))
}

func (s *Session) endOfData(serial uint32) *EndOfDataPDU {
	eod := &EndOfDataPDU{Version: s.version, SessionID: s.srv.sessionID, Serial: serial}
	if s.version >= 1 {
		eod.Refresh = uint32(s.srv.cfg.Refresh / time.Second)
		eod.Retry = uint32(s.srv.cfg.Retry / time.Second)
		eod.Expire = uint32(s.srv.cfg.Expire / time.Second)
	}
	return eod
}

func (s *Session) sendFullSequence(snap *Snapshot) error {
	for _, v := range snap.VRPs {
		if err := s.write(vrpPDU(s.version, FlagAnnounce, v)); err != nil {
			return err
		}
	}
	if s.routerKeysEnabled() {
		for _, rk := range snap.RouterKeys {
			if err := s.write(routerKeyPDU(s.version, FlagAnnounce, rk)); err != nil {
				return err
			}
		}
	}
	if s.aspasEnabled() {
		for _, a := range snap.ASPAs {
			if err := s.write(aspaPDU(s.version, FlagAnnounce, a)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) sendDelta(d Delta) error {
	for _, v := range d.WithdrawnVRPs {
		if err := s.write(vrpPDU(s.version, FlagWithdraw, v)); err != nil {
			return err
		}
	}
	for _, v := range d.AnnouncedVRPs {
		if err := s.write(vrpPDU(s.version, FlagAnnounce, v)); err != nil {
			return err
		}
	}
	if s.routerKeysEnabled() {
		for _, rk := range d.WithdrawnRouterKeys {
			if err := s.write(routerKeyPDU(s.version, FlagWithdraw, rk)); err != nil {
				return err
			}
		}
		for _, rk := range d.AnnouncedRouterKeys {
			if err := s.write(routerKeyPDU(s.version, FlagAnnounce, rk)); err != nil {
				return err
			}
		}
	}
	if s.aspasEnabled() {
		for _, a := range d.WithdrawnASPAs {
			if err := s.write(aspaPDU(s.version, FlagWithdraw, a)); err != nil {
				return err
			}
		}
		for _, a := range d.AnnouncedASPAs {
			if err := s.write(aspaPDU(s.version, FlagAnnounce, a)); err != nil {
				return err
			}
		}
	}
	return nil
}

// routerKeysEnabled/aspasEnabled implement spec 4.G's "router-key and
// ASPA PDUs only flow on version 1 and only if negotiated. If a
// version-0 client requests a router key / ASPA, those payload types
// are silently omitted" — negotiation here is simply the server-wide
// enable flag, since this server has no separate capability exchange.
func (s *Session) routerKeysEnabled() bool { return s.version >= 1 && s.srv.cfg.EnableBGPsec }
func (s *Session) aspasEnabled() bool      { return s.version >= 1 && s.srv.cfg.EnableASPA }

func (s *Session) write(pdu PDU) error {
	if s.limiter != nil {
		_ = s.limiter.Wait(context.Background())
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WritePDU(s.conn, pdu)
}

func (s *Session) sendError(offending PDU, cause error) {
	code := ErrCodeInvalidRequest
	switch {
	case errors.Is(cause, ErrShortPDU) || errors.Is(cause, ErrUnknownType):
		code = ErrCodeCorruptData
	}
	// best-effort: a failure to re-encode it just means an empty
	// encapsulated PDU in the report.
	encapsulated, _ := encodeForReport(offending)
	s.log.Warn().Err(cause).Msg("rtr: protocol error, closing session")
	_ = s.write(&ErrorReportPDU{Version: s.version, ErrorCode: code, EncapsulatedPDU: encapsulated, Text: cause.Error()})
}

func encodeForReport(pdu PDU) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := encode(buf, pdu); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

func vrpPDU(version uint8, flag Flag, v rpki.VRP) PDU {
	addr := v.Prefix.Addr()
	if addr.Is4() {
		var p [4]byte
		copy(p[:], addr.AsSlice())
		return &IPv4PrefixPDU{Version: version, Flags: flag, PrefixLen: uint8(v.Prefix.Bits()), MaxLen: v.MaxLength, Prefix: p, ASN: v.ASN}
	}
	var p [16]byte
	copy(p[:], addr.AsSlice())
	return &IPv6PrefixPDU{Version: version, Flags: flag, PrefixLen: uint8(v.Prefix.Bits()), MaxLen: v.MaxLength, Prefix: p, ASN: v.ASN}
}

func routerKeyPDU(version uint8, flag Flag, rk rpki.RouterKey) *RouterKeyPDU {
	return &RouterKeyPDU{Version: version, Flags: flag, SKI: rk.SKI, ASN: rk.ASN, SPKI: rk.SPKI}
}

func aspaPDU(version uint8, flag Flag, a rpki.ASPA) *ASPAPDU {
	afi := AFIv4
	if a.Family == rpki.FamilyIPv6 {
		afi = AFIv6
	}
	return &ASPAPDU{Version: version, Flags: flag, AFI: afi, Customer: a.Customer, Providers: a.Providers}
}
