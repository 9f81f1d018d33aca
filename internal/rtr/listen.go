package rtr

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ListenAndServe starts the plain-TCP listener (`rtr-listen`) and, if
// tlsConfig is non-nil and `rtr-tls-listen` is set, the TLS listener, and
// serves sessions on both until ctx is cancelled. Returns the first
// non-shutdown error from either listener.
func (s *Server) ListenAndServe(ctx context.Context, tlsConfig *tls.Config) error {
	errCh := make(chan error, 2)
	active := 0

	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return err
		}
		active++
		go func() { errCh <- s.serve(ctx, ln) }()
	}
	if s.cfg.TLSListenAddr != "" && tlsConfig != nil {
		ln, err := net.Listen("tcp", s.cfg.TLSListenAddr)
		if err != nil {
			return err
		}
		active++
		go func() { errCh <- s.serve(ctx, tls.NewListener(ln, tlsConfig)) }()
	}
	if active == 0 {
		<-ctx.Done()
		return nil
	}

	var firstErr error
	for i := 0; i < active; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if tc, ok := underlyingTCPConn(conn); ok {
			s.tuneKeepAlive(tc)
		}
		sess := newSession(s, conn)
		go func() {
			if err := sess.Run(ctx); err != nil {
				s.log.Debug().Err(err).Msg("rtr: session ended")
			}
		}()
	}
}

// underlyingTCPConn unwraps a *net.TCPConn from either a plain accept or
// a tls.Listener's *tls.Conn (whose NetConn() returns the wrapped conn).
func underlyingTCPConn(conn net.Conn) (*net.TCPConn, bool) {
	type netConner interface{ NetConn() net.Conn }
	if tc, ok := conn.(*net.TCPConn); ok {
		return tc, true
	}
	if nc, ok := conn.(netConner); ok {
		tc, ok := nc.NetConn().(*net.TCPConn)
		return tc, ok
	}
	return nil, false
}

// tuneKeepAlive sets the OS-level keepalive idle/interval per
// `rtr-tcp-keepalive` (spec §6, default 60s — spec 4.G "TCP keepalive is
// set by default to 60s idle"). The stdlib's SetKeepAlivePeriod conflates
// idle and interval into one knob; TCP_KEEPIDLE/TCP_KEEPINTVL give the
// same idle value to both, which is the intended default behaviour here,
// but using the raw sockopt keeps this tunable without relying on Go
// version-gated stdlib additions.
func (s *Server) tuneKeepAlive(tc *net.TCPConn) {
	idle := s.cfg.KeepAlive
	if idle <= 0 {
		idle = 60 * time.Second
	}
	if err := tc.SetKeepAlive(true); err != nil {
		s.log.Debug().Err(err).Msg("rtr: SetKeepAlive failed")
		return
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return
	}
	secs := int(idle / time.Second)
	if secs < 1 {
		secs = 1
	}
	_ = rc.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
	})
}
