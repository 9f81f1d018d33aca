package rtr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// MaxPDULen bounds a single PDU so a malicious or corrupt length field
// cannot force an unbounded allocation; no real PDU (router key and error
// report are the largest) comes close to this.
const MaxPDULen = 64 * 1024

const headerLen = 8

var (
	// ErrShortPDU is returned when a PDU's declared length is smaller
	// than its fixed header, or a read ends before that many bytes arrive.
	ErrShortPDU = errors.New("rtr: short PDU")
	// ErrTooLarge is returned when a PDU declares a length over MaxPDULen.
	ErrTooLarge = errors.New("rtr: PDU too large")
	// ErrUnknownType is returned when a PDU's type byte is not one this
	// server recognises.
	ErrUnknownType = errors.New("rtr: unknown PDU type")
)

// WritePDU encodes p and writes it to w. Encoding goes through a pooled
// scratch buffer, the same pattern the archive package uses for its
// checksum buffers.
func WritePDU(w io.Writer, p PDU) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := encode(buf, p); err != nil {
		return err
	}
	_, err := w.Write(buf.B)
	return err
}

func encode(buf *bytebufferpool.ByteBuffer, p PDU) error {
	switch v := p.(type) {
	case *SerialNotifyPDU:
		writeHeader(buf, v.Version, TypeSerialNotify, v.SessionID, headerLen+4)
		writeU32(buf, v.Serial)
	case *SerialQueryPDU:
		writeHeader(buf, v.Version, TypeSerialQuery, v.SessionID, headerLen+4)
		writeU32(buf, v.Serial)
	case *ResetQueryPDU:
		writeHeader(buf, v.Version, TypeResetQuery, 0, headerLen)
	case *CacheResponsePDU:
		writeHeader(buf, v.Version, TypeCacheResponse, v.SessionID, headerLen)
	case *IPv4PrefixPDU:
		writeHeader(buf, v.Version, TypeIPv4Prefix, 0, headerLen+12)
		buf.WriteByte(byte(v.Flags))
		buf.WriteByte(v.PrefixLen)
		buf.WriteByte(v.MaxLen)
		buf.WriteByte(0)
		buf.Write(v.Prefix[:])
		writeU32(buf, v.ASN)
	case *IPv6PrefixPDU:
		writeHeader(buf, v.Version, TypeIPv6Prefix, 0, headerLen+24)
		buf.WriteByte(byte(v.Flags))
		buf.WriteByte(v.PrefixLen)
		buf.WriteByte(v.MaxLen)
		buf.WriteByte(0)
		buf.Write(v.Prefix[:])
		writeU32(buf, v.ASN)
	case *EndOfDataPDU:
		if v.Version == 0 {
			writeHeader(buf, v.Version, TypeEndOfData, v.SessionID, headerLen+4)
			writeU32(buf, v.Serial)
		} else {
			writeHeader(buf, v.Version, TypeEndOfData, v.SessionID, headerLen+16)
			writeU32(buf, v.Serial)
			writeU32(buf, v.Refresh)
			writeU32(buf, v.Retry)
			writeU32(buf, v.Expire)
		}
	case *CacheResetPDU:
		writeHeader(buf, v.Version, TypeCacheReset, 0, headerLen)
	case *RouterKeyPDU:
		writeHeader(buf, v.Version, TypeRouterKey, uint16(v.Flags)<<8, headerLen+24+len(v.SPKI))
		buf.Write(v.SKI[:])
		writeU32(buf, v.ASN)
		buf.Write(v.SPKI)
	case *ASPAPDU:
		writeHeader(buf, v.Version, TypeASPA, uint16(v.Flags)<<8|uint16(v.AFI), headerLen+4+4*len(v.Providers))
		writeU32(buf, v.Customer)
		for _, asn := range v.Providers {
			writeU32(buf, asn)
		}
	case *ErrorReportPDU:
		total := headerLen + 4 + len(v.EncapsulatedPDU) + 4 + len(v.Text)
		writeHeader(buf, v.Version, TypeErrorReport, v.ErrorCode, total)
		writeU32(buf, uint32(len(v.EncapsulatedPDU)))
		buf.Write(v.EncapsulatedPDU)
		writeU32(buf, uint32(len(v.Text)))
		buf.WriteString(v.Text)
	default:
		return fmt.Errorf("rtr: encode: %w: %T", ErrUnknownType, p)
	}
	return nil
}

func writeHeader(buf *bytebufferpool.ByteBuffer, version uint8, typ Type, field2 uint16, length int) {
	buf.WriteByte(version)
	buf.WriteByte(byte(typ))
	writeU16(buf, field2)
	writeU32(buf, uint32(length))
}

func writeU16(buf *bytebufferpool.ByteBuffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytebufferpool.ByteBuffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// ReadPDU reads one PDU from r: the 8-byte header, then exactly
// length-8 more bytes, then decodes by type.
func ReadPDU(r io.Reader) (PDU, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	version := hdr[0]
	typ := Type(hdr[1])
	field2 := binary.BigEndian.Uint16(hdr[2:4])
	length := binary.BigEndian.Uint32(hdr[4:8])

	if length < headerLen {
		return nil, ErrShortPDU
	}
	if length > MaxPDULen {
		return nil, ErrTooLarge
	}

	body := make([]byte, length-headerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortPDU, err)
	}

	return decode(version, typ, field2, body)
}

func decode(version uint8, typ Type, field2 uint16, body []byte) (PDU, error) {
	switch typ {
	case TypeSerialNotify:
		if len(body) != 4 {
			return nil, ErrShortPDU
		}
		return &SerialNotifyPDU{Version: version, SessionID: field2, Serial: binary.BigEndian.Uint32(body)}, nil
	case TypeSerialQuery:
		if len(body) != 4 {
			return nil, ErrShortPDU
		}
		return &SerialQueryPDU{Version: version, SessionID: field2, Serial: binary.BigEndian.Uint32(body)}, nil
	case TypeResetQuery:
		return &ResetQueryPDU{Version: version}, nil
	case TypeCacheResponse:
		return &CacheResponsePDU{Version: version, SessionID: field2}, nil
	case TypeIPv4Prefix:
		if len(body) != 12 {
			return nil, ErrShortPDU
		}
		p := &IPv4PrefixPDU{Version: version, Flags: Flag(body[0]), PrefixLen: body[1], MaxLen: body[2]}
		copy(p.Prefix[:], body[4:8])
		p.ASN = binary.BigEndian.Uint32(body[8:12])
		return p, nil
	case TypeIPv6Prefix:
		if len(body) != 24 {
			return nil, ErrShortPDU
		}
		p := &IPv6PrefixPDU{Version: version, Flags: Flag(body[0]), PrefixLen: body[1], MaxLen: body[2]}
		copy(p.Prefix[:], body[4:20])
		p.ASN = binary.BigEndian.Uint32(body[20:24])
		return p, nil
	case TypeEndOfData:
		switch len(body) {
		case 4:
			return &EndOfDataPDU{Version: version, SessionID: field2, Serial: binary.BigEndian.Uint32(body)}, nil
		case 16:
			return &EndOfDataPDU{
				Version:   version,
				SessionID: field2,
				Serial:    binary.BigEndian.Uint32(body[0:4]),
				Refresh:   binary.BigEndian.Uint32(body[4:8]),
				Retry:     binary.BigEndian.Uint32(body[8:12]),
				Expire:    binary.BigEndian.Uint32(body[12:16]),
			}, nil
		default:
			return nil, ErrShortPDU
		}
	case TypeCacheReset:
		return &CacheResetPDU{Version: version}, nil
	case TypeRouterKey:
		if len(body) < 24 {
			return nil, ErrShortPDU
		}
		p := &RouterKeyPDU{Version: version, Flags: Flag(field2 >> 8)}
		copy(p.SKI[:], body[0:20])
		p.ASN = binary.BigEndian.Uint32(body[20:24])
		p.SPKI = append([]byte(nil), body[24:]...)
		return p, nil
	case TypeASPA:
		if len(body) < 4 || (len(body)-4)%4 != 0 {
			return nil, ErrShortPDU
		}
		p := &ASPAPDU{Version: version, Flags: Flag(field2 >> 8), AFI: AFI(field2 & 0xff)}
		p.Customer = binary.BigEndian.Uint32(body[0:4])
		for off := 4; off < len(body); off += 4 {
			p.Providers = append(p.Providers, binary.BigEndian.Uint32(body[off:off+4]))
		}
		return p, nil
	case TypeErrorReport:
		if len(body) < 8 {
			return nil, ErrShortPDU
		}
		encLen := binary.BigEndian.Uint32(body[0:4])
		if uint32(len(body)) < 4+encLen+4 {
			return nil, ErrShortPDU
		}
		enc := body[4 : 4+encLen]
		rest := body[4+encLen:]
		textLen := binary.BigEndian.Uint32(rest[0:4])
		if uint32(len(rest)-4) < textLen {
			return nil, ErrShortPDU
		}
		return &ErrorReportPDU{
			Version:         version,
			ErrorCode:       field2,
			EncapsulatedPDU: append([]byte(nil), enc...),
			Text:            string(rest[4 : 4+textLen]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}
