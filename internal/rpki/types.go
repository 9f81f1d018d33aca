// Package rpki holds the data model shared by every subsystem of rpkid:
// trust anchors, publication points, manifests, CA contexts, and the
// payload types extracted from validated objects.
package rpki

import (
	"crypto/x509"
	"net/netip"
	"time"
)

// Family distinguishes the IPv4 and IPv6 address families.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// FamilyOf returns the family of a prefix.
func FamilyOf(p netip.Prefix) Family {
	if p.Addr().Is6() && !p.Addr().Is4In6() {
		return FamilyIPv6
	}
	return FamilyIPv4
}

// MaxFamilyBits returns the number of address bits for a family.
func (f Family) MaxBits() int {
	if f == FamilyIPv6 {
		return 128
	}
	return 32
}

// AccessMethod is how a publication point is reached.
type AccessMethod uint8

const (
	AccessRRDP AccessMethod = iota
	AccessRsync
)

func (m AccessMethod) String() string {
	if m == AccessRsync {
		return "rsync"
	}
	return "rrdp"
}

// TAL is a parsed Trust Anchor Locator, RFC 8630.
type TAL struct {
	Label     string   // short name used in payload provenance ("ta")
	URIs      []string // HTTPS/rsync URIs for the root certificate, tried in order
	PublicKey []byte   // expected SubjectPublicKeyInfo, DER, from the base64 block
}

// PPID identifies a Publication Point: an access method plus its authority URI
// (the RRDP notification URL, or the rsync module root).
type PPID struct {
	Method    AccessMethod
	Authority string
}

func (id PPID) String() string {
	return id.Method.String() + "://" + id.Authority
}

// RawObjectType enumerates the RPKI object kinds recognised on the wire.
type RawObjectType uint8

const (
	ObjUnknown RawObjectType = iota
	ObjCACert
	ObjEECert
	ObjCRL
	ObjManifest
	ObjROA
	ObjRouterCert
	ObjGhostbuster
	ObjASPA
)

// RawObject is a byte string addressed by its publication URI.
type RawObject struct {
	URI  string
	Type RawObjectType
	Data []byte
}

// ResourceSet is the RFC 3779 IP/AS resource set a CA certificate carries.
// Inherit means the CA holds exactly its parent's set.
type ResourceSet struct {
	ASNs    []ASRange
	Prefix4 []netip.Prefix
	Prefix6 []netip.Prefix
	Inherit bool
}

// ASRange is an inclusive ASN range; Min==Max for a single ASN.
type ASRange struct {
	Min, Max uint32
}

// Manifest is a decoded RPKI manifest: URI -> SHA-256 hash of sibling objects.
type Manifest struct {
	URI            string
	Number         uint64
	ThisUpdate     time.Time
	NextUpdate     time.Time
	EntryHash      map[string][32]byte // sibling URI -> hash
	CRLFile        string              // CRL file named in the manifest
	EESubjectKeyID []byte
	Raw            []byte
}

// CAContext is a validated CA certificate with its current manifest, CRL,
// and the resource set it is certified to hold.
type CAContext struct {
	TAL        *TAL
	PP         PPID
	Cert       *x509.Certificate
	SKI        []byte
	IssuerSKI  []byte
	Resources  ResourceSet
	Manifest   *Manifest
	CRL        *x509.RevocationList
	Depth      int
	URI        string // location of the CA certificate itself
	NotBefore  time.Time
	NotAfter   time.Time
}

// PayloadKind tags the variant held by a Payload.
type PayloadKind uint8

const (
	PayloadVRP PayloadKind = iota
	PayloadRouterKey
	PayloadASPA
)

// Provenance records where a payload came from and for how long it is valid.
type Provenance struct {
	TAL            string
	URI            string
	ObjectNotAfter time.Time
	ChainNotAfter  time.Time
	Source         string // "validated" or "exception"
}

// VRP is a single Validated ROA Payload.
type VRP struct {
	ASN       uint32
	Prefix    netip.Prefix
	MaxLength uint8
}

// RouterKey is a BGPsec router key payload.
type RouterKey struct {
	ASN uint32
	SKI [20]byte
	SPKI []byte // SubjectPublicKeyInfo, DER
}

// ASPA is an Autonomous System Provider Authorization payload.
type ASPA struct {
	Customer  uint32
	Providers []uint32
	Family    Family
}

// Payload is a tagged union of VRP / RouterKey / ASPA plus its provenance.
type Payload struct {
	Kind       PayloadKind
	VRP        VRP
	RouterKey  RouterKey
	ASPA       ASPA
	Provenance Provenance
}

// VRPKey is the deduplication key for a VRP: (ASN, prefix, maxLength).
type VRPKey struct {
	ASN       uint32
	Prefix    netip.Prefix
	MaxLength uint8
}

func (p Payload) VRPKey() VRPKey {
	return VRPKey{ASN: p.VRP.ASN, Prefix: p.VRP.Prefix, MaxLength: p.VRP.MaxLength}
}

// RouterKeyKey is the dedup key for a router key: (ASN, SKI).
type RouterKeyKey struct {
	ASN uint32
	SKI [20]byte
}

func (p Payload) RouterKeyKey() RouterKeyKey {
	return RouterKeyKey{ASN: p.RouterKey.ASN, SKI: p.RouterKey.SKI}
}

// ASPAKey is the dedup key for an ASPA: (customer ASN, family).
type ASPAKey struct {
	Customer uint32
	Family   Family
}

func (p Payload) ASPAKey() ASPAKey {
	return ASPAKey{Customer: p.ASPA.Customer, Family: p.ASPA.Family}
}
