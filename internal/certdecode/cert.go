package certdecode

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/bgpfix/rpkid/internal/rpki"
)

type stdDecoder struct{}

var (
	oidSIA           = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}
	oidAuthKeyID     = asn1.ObjectIdentifier{2, 5, 29, 35}
	oidSubjKeyID     = asn1.ObjectIdentifier{2, 5, 29, 14}
	oidCRLDistPoints = asn1.ObjectIdentifier{2, 5, 29, 31}
	oidBasicConstr   = asn1.ObjectIdentifier{2, 5, 29, 19}

	oidADCARepository = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	oidADRpkiManifest  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
	oidADRpkiNotify    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 13}
)

func normalize(der []byte, mode rpki.DecodeMode) []byte {
	if mode == rpki.DecodeRelaxed {
		if fixed, err := ber2der(der); err == nil {
			return fixed
		}
	}
	return der
}

func (stdDecoder) ParseCertificate(der []byte, mode rpki.DecodeMode) (*CertInfo, error) {
	der = normalize(der, mode)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrMalformed, err)
	}

	info := &CertInfo{
		Cert:      cert,
		AKI:       cert.AuthorityKeyId,
		SKI:       cert.SubjectKeyId,
		IsCA:      cert.IsCA,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
	}

	var rawResourceExts [][]byte
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidIPAddrBlocks), ext.Id.Equal(oidAutonomousSysIDs):
			rawResourceExts = append(rawResourceExts, ext.Value)
		case ext.Id.Equal(oidSIA):
			mURI, rURI, nURI := parseSIA(ext.Value)
			info.SIAManifest, info.SIARepo, info.SIANotify = mURI, rURI, nURI
		}
	}
	if len(cert.CRLDistributionPoints) > 0 {
		info.CRLURI = cert.CRLDistributionPoints[0]
	}

	rs, err := parseResourceExtensions(rawResourceExts)
	if err != nil {
		return nil, err
	}
	info.Resources = rs

	return info, nil
}

// accessDescription mirrors RFC 5280's SubjectInfoAccess SEQUENCE OF
// AccessDescription { accessMethod OID, accessLocation GeneralName }.
type accessDescription struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

func parseSIA(ext []byte) (manifestURI, repoURI, notifyURI string) {
	var ads []accessDescription
	if _, err := asn1.Unmarshal(ext, &ads); err != nil {
		return "", "", ""
	}
	for _, ad := range ads {
		uri := string(ad.Location.Bytes)
		switch {
		case ad.Method.Equal(oidADRpkiManifest):
			manifestURI = uri
		case ad.Method.Equal(oidADCARepository):
			repoURI = uri
		case ad.Method.Equal(oidADRpkiNotify):
			notifyURI = uri
		}
	}
	return manifestURI, repoURI, notifyURI
}

func (stdDecoder) ParseCRL(der []byte, mode rpki.DecodeMode) (*x509.RevocationList, error) {
	der = normalize(der, mode)
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("%w: CRL: %v", ErrMalformed, err)
	}
	return crl, nil
}

func (stdDecoder) ParseSignedObject(der []byte, mode rpki.DecodeMode) (*SignedObject, error) {
	sd, err := decodeSignedData(der, mode)
	if err != nil {
		return nil, err
	}

	ee, err := extractEECertificate(sd, mode)
	if err != nil {
		return nil, err
	}

	if err := verifySignedObject(sd, ee); err != nil {
		return nil, err
	}

	resExts, crlURI := eeResourceExtensions(ee)
	rs, err := parseResourceExtensions(resExts)
	if err != nil {
		return nil, err
	}

	// Content holds the [0]-wrapped OCTET STRING; its octets are the eContent.
	var eContent []byte
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.Content.Bytes, &eContent); err != nil {
		return nil, fmt.Errorf("%w: eContent: %v", ErrMalformed, err)
	}

	return &SignedObject{
		EECert:      ee,
		EEResources: rs,
		EEContent:   eContent,
		CRLURI:      crlURI,
	}, nil
}

// extractEECertificate pulls the (single, by RFC 6488) certificate out of
// the CMS certificates field.
func extractEECertificate(sd *signedData, mode rpki.DecodeMode) (*x509.Certificate, error) {
	if len(sd.Certificates.Bytes) == 0 {
		return nil, fmt.Errorf("%w: no EE certificate in signed object", ErrMalformed)
	}

	// Certificates.Bytes is the content of the [0] wrapper: the
	// certificates themselves, one after another.
	var raws []asn1.RawValue
	for rest := sd.Certificates.Bytes; len(rest) > 0; {
		var raw asn1.RawValue
		var err error
		if rest, err = asn1.Unmarshal(rest, &raw); err != nil {
			return nil, fmt.Errorf("%w: certificates set: %v", ErrMalformed, err)
		}
		raws = append(raws, raw)
	}
	if len(raws) != 1 {
		return nil, fmt.Errorf("%w: signed object must carry exactly one EE certificate", ErrMalformed)
	}
	der := normalize(raws[0].FullBytes, mode)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: EE certificate: %v", ErrMalformed, err)
	}
	return cert, nil
}

func eeResourceExtensions(cert *x509.Certificate) (exts [][]byte, crlURI string) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidIPAddrBlocks) || ext.Id.Equal(oidAutonomousSysIDs) {
			exts = append(exts, ext.Value)
		}
	}
	if len(cert.CRLDistributionPoints) > 0 {
		crlURI = cert.CRLDistributionPoints[0]
	}
	return exts, crlURI
}
