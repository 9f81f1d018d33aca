package validator

import (
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/bgpfix/rpkid/internal/certdecode"
	"github.com/bgpfix/rpkid/internal/rpki"
)

// objectOutcome is what processing one manifest-listed object produced:
// either a rejection (which discards the whole CA, spec 4.D.4), or the
// payloads/child CAs it contributed.
type objectOutcome struct {
	reject         error
	kind           IssueKind
	unknownSkipped bool
	payloads       []rpki.Payload
	children       []childCA
}

func rejectOutcome(kind IssueKind, err error) objectOutcome {
	return objectOutcome{reject: err, kind: kind}
}

// dispatchObject decodes and validates a single manifest entry according
// to its file extension, per spec 4.D.3.
func (v *Validator) dispatchObject(tal *rpki.TAL, uri, name string, data []byte, caInfo *certdecode.CertInfo, caResources rpki.ResourceSet) objectOutcome {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".cer":
		return v.dispatchCert(tal, uri, data, caInfo, caResources)
	case ".roa":
		return v.dispatchROA(tal, uri, data, caInfo, caResources)
	case ".asa":
		return v.dispatchASPA(tal, uri, data, caInfo, caResources)
	case ".gbr":
		return v.dispatchGhostbuster(uri, data, caInfo)
	default:
		return objectOutcome{unknownSkipped: true}
	}
}

// dispatchCert handles both child CA certificates and BGPsec router
// certificates, distinguished by the basic constraints CA flag. Router
// certificates are plain X.509 EE certificates, not CMS signed objects.
func (v *Validator) dispatchCert(tal *rpki.TAL, uri string, data []byte, caInfo *certdecode.CertInfo, caResources rpki.ResourceSet) objectOutcome {
	info, err := v.decoder.ParseCertificate(data, v.cfg.DecodeMode)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}

	resolved, ok := resolveResources(info.Resources, caResources)
	if !ok {
		return rejectOutcome(IssueResourceClaim, errOverclaim)
	}

	if info.IsCA {
		return objectOutcome{children: []childCA{{info: info, resources: resolved}}}
	}

	if !v.cfg.EnableBGPsec {
		return objectOutcome{}
	}
	if err := info.Cert.CheckSignatureFrom(caInfo.Cert); err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if len(info.SKI) != 20 {
		return rejectOutcome(IssueSignature, errBadRouterSKI)
	}

	var payloads []rpki.Payload
	for _, r := range resolved.ASNs {
		for asn := r.Min; asn <= r.Max; asn++ {
			payloads = append(payloads, rpki.Payload{
				Kind: rpki.PayloadRouterKey,
				RouterKey: rpki.RouterKey{
					ASN:  asn,
					SKI:  [20]byte(info.SKI),
					SPKI: info.Cert.RawSubjectPublicKeyInfo,
				},
				Provenance: rpki.Provenance{
					TAL: tal.Label, URI: uri,
					ObjectNotAfter: info.NotAfter, ChainNotAfter: info.NotAfter,
					Source: "validated",
				},
			})
			if asn == r.Max { // guard against Max == ^uint32(0) wraparound
				break
			}
		}
	}
	return objectOutcome{payloads: payloads}
}

func (v *Validator) dispatchROA(tal *rpki.TAL, uri string, data []byte, caInfo *certdecode.CertInfo, caResources rpki.ResourceSet) objectOutcome {
	signed, err := v.decoder.ParseSignedObject(data, v.cfg.DecodeMode)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if err := signed.EECert.CheckSignatureFrom(caInfo.Cert); err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	resolved, ok := resolveResources(signed.EEResources, caResources)
	if !ok {
		return rejectOutcome(IssueResourceClaim, errOverclaim)
	}

	asn, prefixes, err := v.decoder.ParseROAContent(signed.EEContent)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}

	var payloads []rpki.Payload
	for _, px := range prefixes {
		fam := rpki.FamilyOf(px.Prefix)
		limit := v.cfg.LimitV4Len
		if fam == rpki.FamilyIPv6 {
			limit = v.cfg.LimitV6Len
		}
		if int(px.MaxLength) < px.Prefix.Bits() || int(px.MaxLength) > limit {
			return rejectOutcome(IssueResourceClaim, errBadVRP)
		}
		if !prefixEncompassed(resolved, px.Prefix) {
			return rejectOutcome(IssueResourceClaim, errOverclaim)
		}
		payloads = append(payloads, rpki.Payload{
			Kind: rpki.PayloadVRP,
			VRP:  rpki.VRP{ASN: asn, Prefix: px.Prefix, MaxLength: px.MaxLength},
			Provenance: rpki.Provenance{
				TAL: tal.Label, URI: uri,
				ObjectNotAfter: signed.EECert.NotAfter, ChainNotAfter: signed.EECert.NotAfter,
				Source: "validated",
			},
		})
	}
	return objectOutcome{payloads: payloads}
}

func (v *Validator) dispatchASPA(tal *rpki.TAL, uri string, data []byte, caInfo *certdecode.CertInfo, caResources rpki.ResourceSet) objectOutcome {
	if !v.cfg.EnableASPA {
		return objectOutcome{}
	}
	signed, err := v.decoder.ParseSignedObject(data, v.cfg.DecodeMode)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if err := signed.EECert.CheckSignatureFrom(caInfo.Cert); err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if _, ok := resolveResources(signed.EEResources, caResources); !ok {
		return rejectOutcome(IssueResourceClaim, errOverclaim)
	}

	customer, providersV4, providersV6, err := v.decoder.ParseASPAContent(signed.EEContent)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if !anyContainsASN(caResources.ASNs, customer) {
		return rejectOutcome(IssueResourceClaim, errASPAOverclaim)
	}
	if len(providersV4) > v.cfg.ASPAProviderLimit || len(providersV6) > v.cfg.ASPAProviderLimit {
		return rejectOutcome(IssueResourceClaim, errTooManyProviders)
	}

	var payloads []rpki.Payload
	if len(providersV4) > 0 {
		payloads = append(payloads, rpki.Payload{
			Kind: rpki.PayloadASPA,
			ASPA: rpki.ASPA{Customer: customer, Providers: providersV4, Family: rpki.FamilyIPv4},
			Provenance: rpki.Provenance{
				TAL: tal.Label, URI: uri,
				ObjectNotAfter: signed.EECert.NotAfter, ChainNotAfter: signed.EECert.NotAfter,
				Source: "validated",
			},
		})
	}
	if len(providersV6) > 0 {
		payloads = append(payloads, rpki.Payload{
			Kind: rpki.PayloadASPA,
			ASPA: rpki.ASPA{Customer: customer, Providers: providersV6, Family: rpki.FamilyIPv6},
			Provenance: rpki.Provenance{
				TAL: tal.Label, URI: uri,
				ObjectNotAfter: signed.EECert.NotAfter, ChainNotAfter: signed.EECert.NotAfter,
				Source: "validated",
			},
		})
	}
	return objectOutcome{payloads: payloads}
}

// dispatchGhostbuster validates the signed object but never contributes a
// payload: ghostbuster records are contact metadata, not routing data.
func (v *Validator) dispatchGhostbuster(uri string, data []byte, caInfo *certdecode.CertInfo) objectOutcome {
	signed, err := v.decoder.ParseSignedObject(data, v.cfg.DecodeMode)
	if err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	if err := signed.EECert.CheckSignatureFrom(caInfo.Cert); err != nil {
		return rejectOutcome(IssueSignature, err)
	}
	return objectOutcome{}
}

// resolveResources applies the RFC 3779 inherit rule: an EE or CA
// certificate marked inherit holds exactly its issuer's resource set;
// otherwise its own set must be encompassed by the issuer's.
func resolveResources(own, issuer rpki.ResourceSet) (rpki.ResourceSet, bool) {
	if own.Inherit {
		return issuer, true
	}
	if !certdecode.Encompasses(issuer, own) {
		return rpki.ResourceSet{}, false
	}
	return own, true
}

// prefixEncompassed reports whether p falls within one of rs's prefixes of
// the matching family, mirroring certdecode.Encompasses's containment
// rule for a single prefix rather than a whole child resource set.
func prefixEncompassed(rs rpki.ResourceSet, p netip.Prefix) bool {
	set := rs.Prefix4
	if rpki.FamilyOf(p) == rpki.FamilyIPv6 {
		set = rs.Prefix6
	}
	for _, s := range set {
		if s.Bits() <= p.Bits() && s.Overlaps(p) && s.Contains(p.Addr()) {
			return true
		}
	}
	return false
}

func anyContainsASN(ranges []rpki.ASRange, asn uint32) bool {
	for _, r := range ranges {
		if r.Min <= asn && asn <= r.Max {
			return true
		}
	}
	return false
}
