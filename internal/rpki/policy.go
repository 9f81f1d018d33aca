package rpki

import "fmt"

// Policy is a three-way accept/warn/reject switch used by several config
// knobs (stale, unsafe-vrps, unknown-objects).
type Policy uint8

const (
	PolicyReject Policy = iota
	PolicyWarn
	PolicyAccept
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "reject":
		return PolicyReject, nil
	case "warn":
		return PolicyWarn, nil
	case "accept":
		return PolicyAccept, nil
	default:
		return 0, fmt.Errorf("invalid policy %q: want reject|warn|accept", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyWarn:
		return "warn"
	case PolicyAccept:
		return "accept"
	default:
		return "reject"
	}
}

// FallbackPolicy controls when the collector falls back to rsync for a PP
// that advertises RRDP.
type FallbackPolicy uint8

const (
	FallbackNever FallbackPolicy = iota
	FallbackStale
	FallbackNew
)

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "never":
		return FallbackNever, nil
	case "stale":
		return FallbackStale, nil
	case "new":
		return FallbackNew, nil
	default:
		return 0, fmt.Errorf("invalid rrdp-fallback %q: want never|stale|new", s)
	}
}

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackStale:
		return "stale"
	case FallbackNew:
		return "new"
	default:
		return "never"
	}
}

// DecodeMode selects strict (RFC-exact) or relaxed (BER/Utf8String-tolerant)
// ASN.1 decoding. Process-wide, per spec 4.D.
type DecodeMode uint8

const (
	DecodeStrict DecodeMode = iota
	DecodeRelaxed
)
