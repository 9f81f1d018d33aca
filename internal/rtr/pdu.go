// Package rtr implements the RPKI-to-Router protocol server (RFC 6810 /
// RFC 8210): the per-session state machine, the session identifier and
// serial number shared across sessions, the bounded delta history, and
// the wire codec for every PDU type (spec 4.G).
package rtr

import "fmt"

// Type is an RTR PDU type code, RFC 6810 §5 / RFC 8210 §5.
type Type uint8

const (
	TypeSerialNotify   Type = 0
	TypeSerialQuery    Type = 1
	TypeResetQuery     Type = 2
	TypeCacheResponse  Type = 3
	TypeIPv4Prefix     Type = 4
	TypeIPv6Prefix     Type = 6
	TypeErrorReport    Type = 7
	TypeEndOfData      Type = 8
	TypeCacheReset     Type = 9
	TypeRouterKey      Type = 10
	TypeASPA           Type = 11 // draft-ietf-sidrops-8210bis; v1+ and negotiated only
)

func (t Type) String() string {
	switch t {
	case TypeSerialNotify:
		return "SerialNotify"
	case TypeSerialQuery:
		return "SerialQuery"
	case TypeResetQuery:
		return "ResetQuery"
	case TypeCacheResponse:
		return "CacheResponse"
	case TypeIPv4Prefix:
		return "IPv4Prefix"
	case TypeIPv6Prefix:
		return "IPv6Prefix"
	case TypeErrorReport:
		return "ErrorReport"
	case TypeEndOfData:
		return "EndOfData"
	case TypeCacheReset:
		return "CacheReset"
	case TypeRouterKey:
		return "RouterKey"
	case TypeASPA:
		return "ASPA"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Flag is the announce/withdraw bit carried by prefix, router-key, and
// ASPA PDUs.
type Flag uint8

const (
	FlagWithdraw Flag = 0
	FlagAnnounce Flag = 1
)

// AFI tags the address family of an ASPA PDU (there is no prefix to infer
// it from, unlike the IPv4/IPv6 Prefix PDUs).
type AFI uint8

const (
	AFIv4 AFI = 1
	AFIv6 AFI = 2
)

// PDU is any decoded RTR protocol data unit.
type PDU interface {
	Type() Type
}

type SerialNotifyPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

func (SerialNotifyPDU) Type() Type { return TypeSerialNotify }

type SerialQueryPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

func (SerialQueryPDU) Type() Type { return TypeSerialQuery }

type ResetQueryPDU struct {
	Version uint8
}

func (ResetQueryPDU) Type() Type { return TypeResetQuery }

type CacheResponsePDU struct {
	Version   uint8
	SessionID uint16
}

func (CacheResponsePDU) Type() Type { return TypeCacheResponse }

type IPv4PrefixPDU struct {
	Version   uint8
	Flags     Flag
	PrefixLen uint8
	MaxLen    uint8
	Prefix    [4]byte
	ASN       uint32
}

func (IPv4PrefixPDU) Type() Type { return TypeIPv4Prefix }

type IPv6PrefixPDU struct {
	Version   uint8
	Flags     Flag
	PrefixLen uint8
	MaxLen    uint8
	Prefix    [16]byte
	ASN       uint32
}

func (IPv6PrefixPDU) Type() Type { return TypeIPv6Prefix }

// EndOfDataPDU carries the refresh/retry/expire timers on version ≥ 1
// only; they are zero and unused on version 0 (RFC 6810 has no such
// fields, RFC 8210 §5.9 adds them).
type EndOfDataPDU struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
	Refresh   uint32
	Retry     uint32
	Expire    uint32
}

func (EndOfDataPDU) Type() Type { return TypeEndOfData }

type CacheResetPDU struct {
	Version uint8
}

func (CacheResetPDU) Type() Type { return TypeCacheReset }

// RouterKeyPDU is RFC 8210 §5.10; version 1+ only.
type RouterKeyPDU struct {
	Version uint8
	Flags   Flag
	SKI     [20]byte
	ASN     uint32
	SPKI    []byte
}

func (RouterKeyPDU) Type() Type { return TypeRouterKey }

// ASPAPDU carries one customer ASN's provider set for one address family.
type ASPAPDU struct {
	Version   uint8
	Flags     Flag
	AFI       AFI
	Customer  uint32
	Providers []uint32
}

func (ASPAPDU) Type() Type { return TypeASPA }

type ErrorReportPDU struct {
	Version         uint8
	ErrorCode       uint16
	EncapsulatedPDU []byte
	Text            string
}

func (ErrorReportPDU) Type() Type { return TypeErrorReport }

// Error codes, RFC 6810 §5.10 / RFC 8210 §5.11.
const (
	ErrCodeCorruptData         uint16 = 0
	ErrCodeInternalError       uint16 = 1
	ErrCodeNoDataAvailable     uint16 = 2
	ErrCodeInvalidRequest      uint16 = 3
	ErrCodeUnsupportedProtoVer uint16 = 4
	ErrCodeUnsupportedPDUType  uint16 = 5
	ErrCodeWithdrawalOfUnknown uint16 = 6
	ErrCodeDuplicateAnnounce   uint16 = 7
	ErrCodeUnexpectedProtoVer  uint16 = 8
)
