package rtr

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, pdu PDU) PDU {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WritePDU(&buf, pdu))
	got, err := ReadPDU(&buf)
	require.NoError(t, err)
	assert.Equal(t, pdu.Type(), got.Type())
	return got
}

func TestWirePDU_Roundtrip(t *testing.T) {
	roundtrip(t, &SerialNotifyPDU{Version: 1, SessionID: 42, Serial: 7})
	roundtrip(t, &SerialQueryPDU{Version: 1, SessionID: 42, Serial: 7})
	roundtrip(t, &ResetQueryPDU{Version: 1})
	roundtrip(t, &CacheResponsePDU{Version: 1, SessionID: 42})
	roundtrip(t, &IPv4PrefixPDU{Version: 1, Flags: FlagAnnounce, PrefixLen: 24, MaxLen: 24, Prefix: [4]byte{192, 0, 2, 0}, ASN: 64496})
	roundtrip(t, &IPv6PrefixPDU{Version: 1, Flags: FlagWithdraw, PrefixLen: 32, MaxLen: 48, Prefix: [16]byte{0x20, 0x01, 0x0d, 0xb8}, ASN: 64497})
	roundtrip(t, &EndOfDataPDU{Version: 0, SessionID: 42, Serial: 7})
	roundtrip(t, &EndOfDataPDU{Version: 1, SessionID: 42, Serial: 7, Refresh: 3600, Retry: 600, Expire: 7200})
	roundtrip(t, &CacheResetPDU{Version: 1})
	roundtrip(t, &RouterKeyPDU{Version: 1, Flags: FlagAnnounce, SKI: [20]byte{1, 2, 3}, ASN: 64498, SPKI: []byte("fake-spki-bytes")})
	roundtrip(t, &ASPAPDU{Version: 1, Flags: FlagAnnounce, AFI: AFIv4, Customer: 64499, Providers: []uint32{64500, 64501}})
	roundtrip(t, &ErrorReportPDU{Version: 1, ErrorCode: ErrCodeInvalidRequest, Text: "bad query"})
}

func TestWirePDU_IPv4PrefixFields(t *testing.T) {
	got := roundtrip(t, &IPv4PrefixPDU{Version: 1, Flags: FlagAnnounce, PrefixLen: 24, MaxLen: 24, Prefix: [4]byte{192, 0, 2, 0}, ASN: 64496})
	p := got.(*IPv4PrefixPDU)
	assert.Equal(t, FlagAnnounce, p.Flags)
	assert.Equal(t, uint8(24), p.PrefixLen)
	assert.Equal(t, uint32(64496), p.ASN)
	assert.Equal(t, [4]byte{192, 0, 2, 0}, p.Prefix)
}

func TestWirePDU_RouterKeyFlagsSurviveSessionIDField(t *testing.T) {
	got := roundtrip(t, &RouterKeyPDU{Version: 1, Flags: FlagWithdraw, SKI: [20]byte{9}, ASN: 1, SPKI: []byte("x")})
	p := got.(*RouterKeyPDU)
	assert.Equal(t, FlagWithdraw, p.Flags)
}

func TestWirePDU_ErrorReportCarriesEncapsulatedPDU(t *testing.T) {
	inner := &SerialQueryPDU{Version: 1, SessionID: 1, Serial: 5}
	encoded, err := encodeForReport(inner)
	require.NoError(t, err)

	got := roundtrip(t, &ErrorReportPDU{Version: 1, ErrorCode: ErrCodeCorruptData, EncapsulatedPDU: encoded, Text: "malformed"})
	p := got.(*ErrorReportPDU)
	assert.Equal(t, encoded, p.EncapsulatedPDU)
	assert.Equal(t, "malformed", p.Text)
}

func TestReadPDU_RejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, byte(TypeSerialQuery), 0, 0})
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], MaxPDULen+1)
	buf.Write(lenBytes[:])
	_, err := ReadPDU(&buf)
	assert.ErrorIs(t, err, ErrTooLarge)
}
