// Package slurm implements the RFC 8416 exception processor (spec 4.F):
// zero or more local files layering filters and assertions on top of the
// validator's published payload set.
package slurm

import "net/netip"

// PrefixFilter removes VRPs matching its criteria. At least one of ASN or
// Prefix is set; a VRP matches if every set criterion matches (an unset
// ASN or Prefix matches anything).
type PrefixFilter struct {
	HasASN  bool
	ASN     uint32
	HasPrefix bool
	Prefix  netip.Prefix // matches the VRP's prefix itself or any more specific prefix within it
	Comment string
}

// BGPsecFilter removes router-key payloads matching its criteria.
type BGPsecFilter struct {
	HasASN  bool
	ASN     uint32
	SKI     []byte // nil means "any SKI"
	Comment string
}

// PrefixAssertion adds a VRP tagged source=exception.
type PrefixAssertion struct {
	ASN       uint32
	Prefix    netip.Prefix
	MaxLength uint8
	Comment   string
}

// BGPsecAssertion adds a router-key payload tagged source=exception.
type BGPsecAssertion struct {
	ASN             uint32
	SKI             []byte
	RouterPublicKey []byte
	Comment         string
}

// Document is one parsed SLURM file.
type Document struct {
	PrefixFilters    []PrefixFilter
	BGPsecFilters    []BGPsecFilter
	PrefixAssertions []PrefixAssertion
	BGPsecAssertions []BGPsecAssertion
}
