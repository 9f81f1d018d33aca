package certdecode

import (
	"encoding/asn1"
	"fmt"
	"net/netip"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// RFC 3779 extension OIDs.
var (
	oidIPAddrBlocks      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	oidAutonomousSysIDs  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
)

type ipAddressFamily struct {
	AddressFamily []byte
	Choice        asn1.RawValue
}

// parseResourceExtensions decodes the RFC 3779 IP address and AS number
// extensions of a certificate into a rpki.ResourceSet. Inherit is set only
// when every present extension carries the "inherit" marker and no
// resources are listed; the certificate then takes its parent's whole set.
// Inheritance of one part only is not recorded: an extension that inherits
// while the other lists resources contributes nothing to the set.
func parseResourceExtensions(rawExtensions [][]byte) (rpki.ResourceSet, error) {
	var rs rpki.ResourceSet
	sawInheritAll := true // true only if both extensions, if present, say inherit

	for _, ext := range rawExtensions {
		var family []ipAddressFamily
		if _, err := asn1.Unmarshal(ext, &family); err == nil && len(family) > 0 {
			v4, v6, inherit, err := parseIPAddrBlocks(family)
			if err != nil {
				return rs, err
			}
			rs.Prefix4 = append(rs.Prefix4, v4...)
			rs.Prefix6 = append(rs.Prefix6, v6...)
			if !inherit {
				sawInheritAll = false
			}
			continue
		}

		var asExt asn1.RawValue
		if _, err := asn1.Unmarshal(ext, &asExt); err == nil {
			ranges, inherit, err := parseASIdentifiers(ext)
			if err != nil {
				return rs, err
			}
			rs.ASNs = append(rs.ASNs, ranges...)
			if !inherit {
				sawInheritAll = false
			}
		}
	}

	rs.Inherit = sawInheritAll && len(rs.Prefix4) == 0 && len(rs.Prefix6) == 0 && len(rs.ASNs) == 0
	return rs, nil
}

func parseIPAddrBlocks(families []ipAddressFamily) (v4, v6 []netip.Prefix, inherit bool, err error) {
	inherit = true
	for _, fam := range families {
		is6 := len(fam.AddressFamily) >= 2 && fam.AddressFamily[1] == 2
		bits := 32
		if is6 {
			bits = 128
		}

		// IPAddressChoice is a CHOICE: NULL (inherit) or a SEQUENCE of
		// IPAddressOrRange. asn1.RawValue.Tag distinguishes them.
		if fam.Choice.Tag == asn1.TagNull {
			continue // inherit for this family
		}
		inherit = false

		var orRanges []asn1.RawValue
		if _, err := asn1.Unmarshal(fam.Choice.FullBytes, &orRanges); err != nil {
			return nil, nil, false, fmt.Errorf("%w: IPAddressOrRange: %v", ErrResourceSet, err)
		}

		for _, or := range orRanges {
			if or.Class == asn1.ClassUniversal && or.Tag == asn1.TagBitString {
				p, perr := bitStringToPrefix(or.Bytes, bits)
				if perr != nil {
					return nil, nil, false, perr
				}
				if is6 {
					v6 = append(v6, p)
				} else {
					v4 = append(v4, p)
				}
			}
			// IPAddressRange (min/max BIT STRINGs) entries are skipped:
			// they add no prefix to the resource set, and nothing else
			// records them.
		}
	}
	return v4, v6, inherit, nil
}

// bitStringToPrefix turns a BIT STRING address prefix (first content byte
// is the count of unused trailing bits) into a netip.Prefix.
func bitStringToPrefix(raw []byte, familyBits int) (netip.Prefix, error) {
	if len(raw) == 0 {
		return netip.Prefix{}, fmt.Errorf("%w: empty BIT STRING", ErrResourceSet)
	}
	unused := int(raw[0])
	bytes := raw[1:]
	bits := len(bytes)*8 - unused

	buf := make([]byte, familyBits/8)
	copy(buf, bytes)

	addr, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("%w: bad address length", ErrResourceSet)
	}
	return netip.PrefixFrom(addr, bits).Masked(), nil
}

// ASIdentifiers ::= SEQUENCE { asnum [0] EXPLICIT ASIdentifierChoice OPTIONAL, ... }
func parseASIdentifiers(ext []byte) (ranges []rpki.ASRange, inherit bool, err error) {
	var seq asn1.RawValue
	if _, err = asn1.Unmarshal(ext, &seq); err != nil {
		return nil, false, fmt.Errorf("%w: ASIdentifiers: %v", ErrResourceSet, err)
	}

	var fields []asn1.RawValue
	if _, err = asn1.Unmarshal(ext, &fields); err != nil {
		return nil, false, fmt.Errorf("%w: ASIdentifiers fields: %v", ErrResourceSet, err)
	}

	for _, f := range fields {
		if f.Tag != 0 { // only interested in [0] asnum, not [1] rdi
			continue
		}
		var choice asn1.RawValue
		if _, err := asn1.Unmarshal(f.Bytes, &choice); err != nil {
			return nil, false, fmt.Errorf("%w: ASIdentifierChoice: %v", ErrResourceSet, err)
		}
		if choice.Tag == asn1.TagNull {
			inherit = true
			continue
		}

		var items []asn1.RawValue
		if _, err := asn1.Unmarshal(choice.FullBytes, &items); err != nil {
			return nil, false, fmt.Errorf("%w: ASIdOrRange: %v", ErrResourceSet, err)
		}
		for _, it := range items {
			if it.Class == asn1.ClassUniversal && it.Tag == asn1.TagInteger {
				var n int64
				if _, err := asn1.Unmarshal(it.FullBytes, &n); err != nil {
					return nil, false, fmt.Errorf("%w: ASId: %v", ErrResourceSet, err)
				}
				ranges = append(ranges, rpki.ASRange{Min: uint32(n), Max: uint32(n)})
			} else {
				var r struct{ Min, Max int64 }
				if _, err := asn1.Unmarshal(it.FullBytes, &r); err != nil {
					return nil, false, fmt.Errorf("%w: ASRange: %v", ErrResourceSet, err)
				}
				ranges = append(ranges, rpki.ASRange{Min: uint32(r.Min), Max: uint32(r.Max)})
			}
		}
	}
	return ranges, inherit, nil
}

// Encompasses reports whether parent's resource set covers child's,
// per RFC 3779 (spec.md §3 CA Context invariant). inherit is resolved by
// the caller before Encompasses is checked.
func Encompasses(parent, child rpki.ResourceSet) bool {
	for _, c := range child.Prefix4 {
		if !anyContains(parent.Prefix4, c) {
			return false
		}
	}
	for _, c := range child.Prefix6 {
		if !anyContains(parent.Prefix6, c) {
			return false
		}
	}
	for _, c := range child.ASNs {
		if !anyContainsAS(parent.ASNs, c) {
			return false
		}
	}
	return true
}

func anyContains(set []netip.Prefix, p netip.Prefix) bool {
	for _, s := range set {
		if s.Bits() <= p.Bits() && s.Overlaps(p) && s.Contains(p.Addr()) {
			return true
		}
	}
	return false
}

func anyContainsAS(set []rpki.ASRange, r rpki.ASRange) bool {
	for _, s := range set {
		if s.Min <= r.Min && r.Max <= s.Max {
			return true
		}
	}
	return false
}
