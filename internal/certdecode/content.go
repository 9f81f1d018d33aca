package certdecode

import (
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// Manifest ::= SEQUENCE {
//   version     [0] INTEGER DEFAULT 0,
//   manifestNumber INTEGER,
//   thisUpdate  GeneralizedTime,
//   nextUpdate  GeneralizedTime,
//   fileHashAlg OBJECT IDENTIFIER,
//   fileList    SEQUENCE OF FileAndHash }
// FileAndHash ::= SEQUENCE { file IA5String, hash BIT STRING }
type fileAndHash struct {
	File string
	Hash asn1.BitString
}

func (stdDecoder) ParseManifestContent(content []byte) (*rpki.Manifest, error) {
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(content, &seq); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}

	var fields []asn1.RawValue
	if _, err := asn1.Unmarshal(content, &fields); err != nil {
		return nil, fmt.Errorf("%w: manifest fields: %v", ErrMalformed, err)
	}

	i := 0
	if i < len(fields) && fields[i].Class == asn1.ClassContextSpecific {
		i++ // skip optional [0] version
	}

	m := &rpki.Manifest{EntryHash: make(map[string][32]byte)}

	if i >= len(fields) {
		return nil, fmt.Errorf("%w: manifest missing manifestNumber", ErrMalformed)
	}
	var num int64
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &num); err != nil {
		return nil, fmt.Errorf("%w: manifestNumber: %v", ErrMalformed, err)
	}
	m.Number = uint64(num)
	i++

	if i+1 >= len(fields) {
		return nil, fmt.Errorf("%w: manifest missing validity", ErrMalformed)
	}
	var thisUpdate, nextUpdate time.Time
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &thisUpdate); err != nil {
		return nil, fmt.Errorf("%w: thisUpdate: %v", ErrMalformed, err)
	}
	i++
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &nextUpdate); err != nil {
		return nil, fmt.Errorf("%w: nextUpdate: %v", ErrMalformed, err)
	}
	i++
	m.ThisUpdate, m.NextUpdate = thisUpdate, nextUpdate

	i++ // skip fileHashAlg OID, SHA-256 is the only one in use

	if i >= len(fields) {
		return nil, fmt.Errorf("%w: manifest missing fileList", ErrMalformed)
	}
	var files []fileAndHash
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &files); err != nil {
		return nil, fmt.Errorf("%w: fileList: %v", ErrMalformed, err)
	}
	for _, f := range files {
		if len(f.Hash.Bytes) != 32 {
			return nil, fmt.Errorf("%w: manifest entry %q: hash is not SHA-256", ErrMalformed, f.File)
		}
		var h [32]byte
		copy(h[:], f.Hash.Bytes)
		m.EntryHash[f.File] = h
	}

	m.Raw = content
	return m, nil
}

// RouteOriginAttestation ::= SEQUENCE {
//   version   [0] INTEGER DEFAULT 0,
//   asID      ASID,
//   ipAddrBlocks SEQUENCE OF ROAIPAddressFamily }
// ROAIPAddressFamily ::= SEQUENCE { addressFamily OCTET STRING, addresses SEQUENCE OF ROAIPAddress }
// ROAIPAddress ::= SEQUENCE { address BIT STRING, maxLength INTEGER OPTIONAL }
type roaIPAddressFamily struct {
	AddressFamily []byte
	Addresses     []roaIPAddress
}

type roaIPAddress struct {
	Address   asn1.BitString
	MaxLength int `asn1:"optional,default:-1"`
}

func (stdDecoder) ParseROAContent(content []byte) (uint32, []ROAPrefix, error) {
	var fields []asn1.RawValue
	if _, err := asn1.Unmarshal(content, &fields); err != nil {
		return 0, nil, fmt.Errorf("%w: ROA: %v", ErrMalformed, err)
	}

	i := 0
	if i < len(fields) && fields[i].Class == asn1.ClassContextSpecific {
		i++
	}
	if i >= len(fields) {
		return 0, nil, fmt.Errorf("%w: ROA missing asID", ErrMalformed)
	}
	var asn_ int64
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &asn_); err != nil {
		return 0, nil, fmt.Errorf("%w: asID: %v", ErrMalformed, err)
	}
	i++

	if i >= len(fields) {
		return 0, nil, fmt.Errorf("%w: ROA missing ipAddrBlocks", ErrMalformed)
	}
	var families []roaIPAddressFamily
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &families); err != nil {
		return 0, nil, fmt.Errorf("%w: ipAddrBlocks: %v", ErrMalformed, err)
	}

	var out []ROAPrefix
	for _, fam := range families {
		is6 := len(fam.AddressFamily) >= 2 && fam.AddressFamily[1] == 2
		bits := 32
		if is6 {
			bits = 128
		}
		for _, a := range fam.Addresses {
			p, err := bitStringToPrefix(bitStringBytes(a.Address), bits)
			if err != nil {
				return 0, nil, err
			}
			maxLen := uint8(p.Bits())
			if a.MaxLength >= 0 {
				maxLen = uint8(a.MaxLength)
			}
			out = append(out, ROAPrefix{Prefix: p, MaxLength: maxLen})
		}
	}
	return uint32(asn_), out, nil
}

func bitStringBytes(bs asn1.BitString) []byte {
	unused := byte(bs.BitLength % 8)
	if unused != 0 {
		unused = 8 - unused
	}
	return append([]byte{unused}, bs.Bytes...)
}

// ASProviderAttestation ::= SEQUENCE {
//   version      [0] INTEGER DEFAULT 0,
//   customerASID ASID,
//   providerASSet SEQUENCE OF ProviderAS }
// ProviderAS ::= SEQUENCE { providerASID ASID, afiLimit AddressFamilyIdentifier OPTIONAL }
type providerAS struct {
	ProviderASID int64
	AFILimit     []byte `asn1:"optional"`
}

func (stdDecoder) ParseASPAContent(content []byte) (customer uint32, providersV4, providersV6 []uint32, err error) {
	var fields []asn1.RawValue
	if _, err := asn1.Unmarshal(content, &fields); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: ASPA: %v", ErrMalformed, err)
	}

	i := 0
	if i < len(fields) && fields[i].Class == asn1.ClassContextSpecific {
		i++
	}
	if i >= len(fields) {
		return 0, nil, nil, fmt.Errorf("%w: ASPA missing customerASID", ErrMalformed)
	}
	var customerASID int64
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &customerASID); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: customerASID: %v", ErrMalformed, err)
	}
	i++

	if i >= len(fields) {
		return 0, nil, nil, fmt.Errorf("%w: ASPA missing providerASSet", ErrMalformed)
	}
	var providers []providerAS
	if _, err := asn1.Unmarshal(fields[i].FullBytes, &providers); err != nil {
		return 0, nil, nil, fmt.Errorf("%w: providerASSet: %v", ErrMalformed, err)
	}

	for _, p := range providers {
		switch {
		case len(p.AFILimit) >= 2 && p.AFILimit[1] == 1: // afi ipv4
			providersV4 = append(providersV4, uint32(p.ProviderASID))
		case len(p.AFILimit) >= 2 && p.AFILimit[1] == 2: // afi ipv6
			providersV6 = append(providersV6, uint32(p.ProviderASID))
		default: // no limit: applies to both families
			providersV4 = append(providersV4, uint32(p.ProviderASID))
			providersV6 = append(providersV6, uint32(p.ProviderASID))
		}
	}
	return uint32(customerASID), providersV4, providersV6, nil
}
