package certdecode

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// RFC 5652 ContentInfo / SignedData, trimmed to the fields RPKI signed
// objects actually use (RFC 6488): exactly one signerInfo, detached-free
// eContent, no countersignatures, no CRLs carried inside the CMS.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	EncapContentInfo encapContentInfo
	Certificates     asn1.RawValue   `asn1:"optional,explicit,tag:0"`
	CRLs             asn1.RawValue   `asn1:"optional,explicit,tag:1"`
	SignerInfos      []rawSignerInfo `asn1:"set"`
}

type encapContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

type rawSignerInfo struct {
	Version            int
	Sid                asn1.RawValue
	DigestAlgorithm    asn1.RawValue
	SignedAttrs        asn1.RawValue `asn1:"optional,explicit,tag:0"`
	SignatureAlgorithm asn1.RawValue
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,explicit,tag:1"`
}

var oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

// decodeSignedData parses the CMS wrapper. In relaxed mode it tolerates
// BER-encoded indefinite lengths by re-encoding through ber2der first.
func decodeSignedData(der []byte, mode rpki.DecodeMode) (*signedData, error) {
	if mode == rpki.DecodeRelaxed {
		if fixed, err := ber2der(der); err == nil {
			der = fixed
		}
	}

	var ci contentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: contentInfo: %v", ErrMalformed, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing data after contentInfo", ErrMalformed)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: contentType is not id-signedData", ErrUnsupported)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: signedData: %v", ErrMalformed, err)
	}
	if len(sd.SignerInfos) != 1 {
		return nil, fmt.Errorf("%w: RPKI signed objects carry exactly one signerInfo", ErrMalformed)
	}
	return &sd, nil
}

// verifySignedObject checks the signerInfo signature over the
// (signed-attributes-wrapped, or raw) message digest of eContent, using the
// EE certificate's public key. RFC 7935 mandates RSA with SHA-256.
func verifySignedObject(sd *signedData, ee *x509.Certificate) error {
	digest := sha256.Sum256(sd.EncapContentInfo.Content.Bytes)

	si := sd.SignerInfos[0]
	signed := digest[:]
	if len(si.SignedAttrs.FullBytes) > 0 {
		// the signature covers the DER encoding of the signedAttrs SET,
		// with its tag rewritten from [0] IMPLICIT to a universal SET.
		wrapped := si.SignedAttrs.FullBytes
		wrapped[0] = 0x31 // SET OF
		h := sha256.Sum256(wrapped)
		signed = h[:]
	}

	pub, ok := ee.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: EE public key is not RSA", ErrSignature)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signed, si.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}
