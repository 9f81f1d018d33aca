package slurm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"

	"github.com/buger/jsonparser"
)

var (
	// ErrMalformed covers any structural problem with a SLURM document:
	// bad JSON, a missing required field, or an unparsable prefix/ASN.
	ErrMalformed = errors.New("slurm: malformed document")
	// ErrConflict is returned when two entries within the same file claim
	// the same target with different content (spec 4.F: "errors").
	ErrConflict = errors.New("slurm: conflicting entries in one file")
)

// Parse decodes one SLURM file's bytes per RFC 8416. It does not touch
// any payload set — Processor.Apply does that once every file in the
// configured list has parsed cleanly.
func Parse(data []byte) (*Document, error) {
	if _, _, _, err := jsonparser.Get(data, "slurmVersion"); err != nil {
		return nil, fmt.Errorf("%w: missing slurmVersion: %v", ErrMalformed, err)
	}

	doc := &Document{}

	if raw, _, _, err := jsonparser.Get(data, "validationOutputFilters", "prefixFilters"); err == nil {
		if err := eachObject(raw, func(item []byte) error {
			f, err := parsePrefixFilter(item)
			if err != nil {
				return err
			}
			doc.PrefixFilters = append(doc.PrefixFilters, f)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if raw, _, _, err := jsonparser.Get(data, "validationOutputFilters", "bgpsecFilters"); err == nil {
		if err := eachObject(raw, func(item []byte) error {
			f, err := parseBGPsecFilter(item)
			if err != nil {
				return err
			}
			doc.BGPsecFilters = append(doc.BGPsecFilters, f)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if raw, _, _, err := jsonparser.Get(data, "locallyAddedAssertions", "prefixAssertions"); err == nil {
		if err := eachObject(raw, func(item []byte) error {
			a, err := parsePrefixAssertion(item)
			if err != nil {
				return err
			}
			doc.PrefixAssertions = append(doc.PrefixAssertions, a)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if raw, _, _, err := jsonparser.Get(data, "locallyAddedAssertions", "bgpsecAssertions"); err == nil {
		if err := eachObject(raw, func(item []byte) error {
			a, err := parseBGPsecAssertion(item)
			if err != nil {
				return err
			}
			doc.BGPsecAssertions = append(doc.BGPsecAssertions, a)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := checkConflicts(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func eachObject(arr []byte, fn func(item []byte) error) error {
	var firstErr error
	_, err := jsonparser.ArrayEach(arr, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
		if firstErr != nil || err != nil {
			if err != nil {
				firstErr = err
			}
			return
		}
		firstErr = fn(value)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return firstErr
}

func parsePrefixFilter(item []byte) (PrefixFilter, error) {
	var f PrefixFilter
	if s, err := jsonparser.GetString(item, "prefix"); err == nil {
		p, perr := netip.ParsePrefix(s)
		if perr != nil {
			return f, fmt.Errorf("%w: prefixFilter.prefix %q: %v", ErrMalformed, s, perr)
		}
		f.HasPrefix, f.Prefix = true, p
	}
	if n, err := jsonparser.GetInt(item, "asn"); err == nil {
		f.HasASN, f.ASN = true, uint32(n)
	}
	if !f.HasASN && !f.HasPrefix {
		return f, fmt.Errorf("%w: prefixFilter needs asn or prefix", ErrMalformed)
	}
	f.Comment, _ = jsonparser.GetString(item, "comment")
	return f, nil
}

func parseBGPsecFilter(item []byte) (BGPsecFilter, error) {
	var f BGPsecFilter
	if n, err := jsonparser.GetInt(item, "asn"); err == nil {
		f.HasASN, f.ASN = true, uint32(n)
	}
	if s, err := jsonparser.GetString(item, "SKI"); err == nil {
		ski, err := decodeSKI(s)
		if err != nil {
			return f, fmt.Errorf("%w: bgpsecFilter.SKI: %v", ErrMalformed, err)
		}
		f.SKI = ski
	}
	if !f.HasASN && f.SKI == nil {
		return f, fmt.Errorf("%w: bgpsecFilter needs asn or SKI", ErrMalformed)
	}
	f.Comment, _ = jsonparser.GetString(item, "comment")
	return f, nil
}

func parsePrefixAssertion(item []byte) (PrefixAssertion, error) {
	var a PrefixAssertion
	asn, err := jsonparser.GetInt(item, "asn")
	if err != nil {
		return a, fmt.Errorf("%w: prefixAssertion.asn: %v", ErrMalformed, err)
	}
	a.ASN = uint32(asn)

	s, err := jsonparser.GetString(item, "prefix")
	if err != nil {
		return a, fmt.Errorf("%w: prefixAssertion.prefix: %v", ErrMalformed, err)
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return a, fmt.Errorf("%w: prefixAssertion.prefix %q: %v", ErrMalformed, s, err)
	}
	a.Prefix = p
	a.MaxLength = uint8(p.Bits())
	if n, err := jsonparser.GetInt(item, "maxPrefixLength"); err == nil {
		a.MaxLength = uint8(n)
	}
	a.Comment, _ = jsonparser.GetString(item, "comment")
	return a, nil
}

func parseBGPsecAssertion(item []byte) (BGPsecAssertion, error) {
	var a BGPsecAssertion
	asn, err := jsonparser.GetInt(item, "asn")
	if err != nil {
		return a, fmt.Errorf("%w: bgpsecAssertion.asn: %v", ErrMalformed, err)
	}
	a.ASN = uint32(asn)

	skiStr, err := jsonparser.GetString(item, "SKI")
	if err != nil {
		return a, fmt.Errorf("%w: bgpsecAssertion.SKI: %v", ErrMalformed, err)
	}
	ski, err := decodeSKI(skiStr)
	if err != nil {
		return a, fmt.Errorf("%w: bgpsecAssertion.SKI: %v", ErrMalformed, err)
	}
	a.SKI = ski

	if s, err := jsonparser.GetString(item, "routerPublicKey"); err == nil {
		key, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return a, fmt.Errorf("%w: bgpsecAssertion.routerPublicKey: %v", ErrMalformed, err)
		}
		a.RouterPublicKey = key
	}
	a.Comment, _ = jsonparser.GetString(item, "comment")
	return a, nil
}

func decodeSKI(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// checkConflicts enforces spec 4.F's "conflicts within a single SLURM
// file are errors": two assertions claiming the same (asn, prefix) or
// (asn, SKI) target with different content.
func checkConflicts(doc *Document) error {
	seenPrefix := make(map[prefixAssertionKey]PrefixAssertion)
	for _, a := range doc.PrefixAssertions {
		key := prefixAssertionKey{a.ASN, a.Prefix}
		if prev, ok := seenPrefix[key]; ok && prev != a {
			return fmt.Errorf("%w: duplicate prefixAssertion for asn %d prefix %s", ErrConflict, a.ASN, a.Prefix)
		}
		seenPrefix[key] = a
	}

	seenBGPsec := make(map[bgpsecAssertionKey]string)
	for _, a := range doc.BGPsecAssertions {
		key := bgpsecAssertionKey{a.ASN, string(a.SKI)}
		if prev, ok := seenBGPsec[key]; ok && prev != string(a.RouterPublicKey) {
			return fmt.Errorf("%w: duplicate bgpsecAssertion for asn %d SKI", ErrConflict, a.ASN)
		}
		seenBGPsec[key] = string(a.RouterPublicKey)
	}
	return nil
}

type prefixAssertionKey struct {
	asn    uint32
	prefix netip.Prefix
}

type bgpsecAssertionKey struct {
	asn uint32
	ski string
}
