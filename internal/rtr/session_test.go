package rtr

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/validator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = ""
	cfg.EnableBGPsec = true
	cfg.EnableASPA = true
	srv, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)
	return srv
}

func vrpPayload(asn uint32, cidr string, maxLen uint8) rpki.Payload {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		panic(err)
	}
	return rpki.Payload{Kind: rpki.PayloadVRP, VRP: rpki.VRP{ASN: asn, Prefix: p, MaxLength: maxLen}, Provenance: rpki.Provenance{TAL: "ta1"}}
}

func runSessionOnPipe(t *testing.T, srv *Server) (client net.Conn, cancel func()) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	ctx, cancelFn := context.WithCancel(context.Background())
	sess := newSession(srv, serverConn)
	go sess.Run(ctx)
	t.Cleanup(func() { cancelFn(); clientConn.Close() })
	return clientConn, cancelFn
}

func TestSession_ResetQueryReturnsFullSet(t *testing.T) {
	srv := newTestServer(t)
	set := payloadset.New()
	set.Fold(&validator.Result{Payloads: []rpki.Payload{vrpPayload(64496, "192.0.2.0/24", 24)}, Stats: map[string]*validator.TALStats{}})
	srv.Publish(set)

	client, _ := runSessionOnPipe(t, srv)

	require.NoError(t, WritePDU(client, &ResetQueryPDU{Version: 1}))

	resp, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, resp.Type())

	prefix, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeIPv4Prefix, prefix.Type())
	p := prefix.(*IPv4PrefixPDU)
	assert.Equal(t, uint32(64496), p.ASN)
	assert.Equal(t, FlagAnnounce, p.Flags)

	eod, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeEndOfData, eod.Type())
	assert.Equal(t, uint32(1), eod.(*EndOfDataPDU).Serial)
}

func TestSession_SerialQueryUnknownSerialGetsCacheReset(t *testing.T) {
	srv := newTestServer(t)
	client, _ := runSessionOnPipe(t, srv)

	require.NoError(t, WritePDU(client, &SerialQueryPDU{Version: 1, SessionID: srv.SessionID(), Serial: 999}))

	resp, err := ReadPDU(client)
	require.NoError(t, err)
	assert.Equal(t, TypeCacheReset, resp.Type())
}

func TestSession_SerialQueryMatchingCurrentSerialGetsNoOpEndOfData(t *testing.T) {
	srv := newTestServer(t)
	client, _ := runSessionOnPipe(t, srv)

	require.NoError(t, WritePDU(client, &SerialQueryPDU{Version: 1, SessionID: srv.SessionID(), Serial: 0}))

	resp, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, resp.Type())

	eod, err := ReadPDU(client)
	require.NoError(t, err)
	assert.Equal(t, TypeEndOfData, eod.Type())
}

func TestSession_SerialQueryReplaysDeltaChain(t *testing.T) {
	srv := newTestServer(t)
	set := payloadset.New()
	set.Fold(&validator.Result{Payloads: []rpki.Payload{vrpPayload(64496, "192.0.2.0/24", 24)}, Stats: map[string]*validator.TALStats{}})
	srv.Publish(set) // serial 0 -> 1

	client, _ := runSessionOnPipe(t, srv)
	require.NoError(t, WritePDU(client, &SerialQueryPDU{Version: 1, SessionID: srv.SessionID(), Serial: 0}))

	resp, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeCacheResponse, resp.Type())

	prefix, err := ReadPDU(client)
	require.NoError(t, err)
	require.Equal(t, TypeIPv4Prefix, prefix.Type())
	assert.Equal(t, FlagAnnounce, prefix.(*IPv4PrefixPDU).Flags)

	eod, err := ReadPDU(client)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), eod.(*EndOfDataPDU).Serial)
}

func TestSession_UnsupportedVersionClosesWithErrorReport(t *testing.T) {
	srv := newTestServer(t)
	client, _ := runSessionOnPipe(t, srv)

	require.NoError(t, WritePDU(client, &ResetQueryPDU{Version: 9}))

	client.SetReadDeadline(time.Now().Add(time.Second))
	resp, err := ReadPDU(client)
	require.NoError(t, err)
	assert.Equal(t, TypeErrorReport, resp.Type())
}
