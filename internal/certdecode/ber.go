package certdecode

import (
	"bytes"
	"fmt"
)

// ber2der rewrites a BER encoding into strict DER, handling the one BER
// construct that actually shows up in the wild RPKI corpus: indefinite
// length, constructed encodings terminated by a 00 00 end marker instead
// of a known length octet. Definite-length TLVs are re-emitted with a
// minimal DER length, and constructed ones have their children normalised.
// This is deliberately narrow — a full BER normalizer is exactly the
// complexity the spec defers to "a library dependency with a specified
// contract" (spec.md §1); this is the minimal slice needed for relaxed
// mode to accept the objects it needs to accept.
func ber2der(in []byte) ([]byte, error) {
	out, rest, err := ber2derValue(in)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("ber2der: trailing bytes")
	}
	return out, nil
}

func ber2derValue(in []byte) (out, rest []byte, err error) {
	if len(in) < 2 {
		return nil, nil, fmt.Errorf("ber2der: truncated tag")
	}

	tagStart := 0
	tag := in[0]
	constructed := tag&0x20 != 0
	pos := 1
	// multi-byte tag numbers (tag & 0x1f == 0x1f): skip continuation octets.
	if tag&0x1f == 0x1f {
		for pos < len(in) && in[pos]&0x80 != 0 {
			pos++
		}
		pos++
	}
	if pos >= len(in) {
		return nil, nil, fmt.Errorf("ber2der: truncated length")
	}

	lenByte := in[pos]
	switch {
	case lenByte == 0x80 && constructed:
		// indefinite length: recursively re-encode children until 00 00.
		body := in[pos+1:]
		var children bytes.Buffer
		for {
			if len(body) >= 2 && body[0] == 0 && body[1] == 0 {
				body = body[2:]
				break
			}
			if len(body) == 0 {
				return nil, nil, fmt.Errorf("ber2der: unterminated indefinite length")
			}
			child, remainder, err := ber2derValue(body)
			if err != nil {
				return nil, nil, err
			}
			children.Write(child)
			body = remainder
		}
		out = append(out, in[tagStart:pos]...)
		out = append(out, encodeDERLength(children.Len())...)
		out = append(out, children.Bytes()...)
		return out, body, nil

	case lenByte&0x80 == 0:
		// short form, already DER-compatible.
		n := int(lenByte)
		end := pos + 1 + n
		if end > len(in) {
			return nil, nil, fmt.Errorf("ber2der: length overruns buffer")
		}
		content := in[pos+1 : end]
		if constructed {
			content, err = ber2derChildren(content)
			if err != nil {
				return nil, nil, err
			}
		}
		out = append(out, in[tagStart:pos]...)
		out = append(out, encodeDERLength(len(content))...)
		out = append(out, content...)
		return out, in[end:], nil

	default:
		// long form definite length: pass through, normalizing children.
		nbytes := int(lenByte &^ 0x80)
		if pos+1+nbytes > len(in) {
			return nil, nil, fmt.Errorf("ber2der: long length overruns buffer")
		}
		n := 0
		for _, b := range in[pos+1 : pos+1+nbytes] {
			n = n<<8 | int(b)
		}
		start := pos + 1 + nbytes
		end := start + n
		if end > len(in) {
			return nil, nil, fmt.Errorf("ber2der: long length overruns buffer")
		}
		content := in[start:end]
		if constructed {
			content, err = ber2derChildren(content)
			if err != nil {
				return nil, nil, err
			}
		}
		out = append(out, in[tagStart:pos]...)
		out = append(out, encodeDERLength(len(content))...)
		out = append(out, content...)
		return out, in[end:], nil
	}
}

// ber2derChildren re-encodes a definite-length constructed value's content,
// in case one of its children is itself indefinite-length.
func ber2derChildren(in []byte) ([]byte, error) {
	var out bytes.Buffer
	for len(in) > 0 {
		child, rest, err := ber2derValue(in)
		if err != nil {
			return nil, err
		}
		out.Write(child)
		in = rest
	}
	return out.Bytes(), nil
}

func encodeDERLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte(n & 0xff)}, b...)
		n >>= 8
	}
	return append([]byte{0x80 | byte(len(b))}, b...)
}
