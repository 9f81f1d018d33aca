package validator

import (
	"crypto/x509"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/certdecode"
	"github.com/bgpfix/rpkid/internal/rpki"
)

// fakeDecoder lets each test supply only the Decoder methods it exercises;
// unset fields fail loudly rather than silently returning zero values.
type fakeDecoder struct {
	cert    func([]byte, rpki.DecodeMode) (*certdecode.CertInfo, error)
	crl     func([]byte, rpki.DecodeMode) (*x509.RevocationList, error)
	signed  func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error)
	mft     func([]byte) (*rpki.Manifest, error)
	roa     func([]byte) (uint32, []certdecode.ROAPrefix, error)
	aspa    func([]byte) (uint32, []uint32, []uint32, error)
}

func (f fakeDecoder) ParseCertificate(der []byte, mode rpki.DecodeMode) (*certdecode.CertInfo, error) {
	return f.cert(der, mode)
}
func (f fakeDecoder) ParseCRL(der []byte, mode rpki.DecodeMode) (*x509.RevocationList, error) {
	return f.crl(der, mode)
}
func (f fakeDecoder) ParseSignedObject(der []byte, mode rpki.DecodeMode) (*certdecode.SignedObject, error) {
	return f.signed(der, mode)
}
func (f fakeDecoder) ParseManifestContent(content []byte) (*rpki.Manifest, error) {
	return f.mft(content)
}
func (f fakeDecoder) ParseROAContent(content []byte) (uint32, []certdecode.ROAPrefix, error) {
	return f.roa(content)
}
func (f fakeDecoder) ParseASPAContent(content []byte) (uint32, []uint32, []uint32, error) {
	return f.aspa(content)
}

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func testTAL() *rpki.TAL { return &rpki.TAL{Label: "test"} }

func TestDispatchROA_EmitsVRPs(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 2, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee, EEResources: rpki.ResourceSet{Inherit: true}}, nil
		},
		roa: func([]byte) (uint32, []certdecode.ROAPrefix, error) {
			return 65000, []certdecode.ROAPrefix{{Prefix: mustPrefix(t, "10.0.0.0/16"), MaxLength: 24}}, nil
		},
	}}

	outcome := v.dispatchROA(testTAL(), "rsync://x/a.roa", nil, caInfo, caResources)
	require.NoError(t, outcome.reject)
	require.Len(t, outcome.payloads, 1)
	vrp := outcome.payloads[0].VRP
	assert.Equal(t, uint32(65000), vrp.ASN)
	assert.Equal(t, mustPrefix(t, "10.0.0.0/16"), vrp.Prefix)
	assert.Equal(t, uint8(24), vrp.MaxLength)
}

func TestDispatchROA_RejectsOverclaim(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 2, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee, EEResources: rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "192.0.2.0/24")}}}, nil
		},
		roa: func([]byte) (uint32, []certdecode.ROAPrefix, error) {
			t.Fatal("ParseROAContent should not be reached once the EE resource set is rejected")
			return 0, nil, nil
		},
	}}

	outcome := v.dispatchROA(testTAL(), "rsync://x/a.roa", nil, caInfo, caResources)
	assert.ErrorIs(t, outcome.reject, errOverclaim)
	assert.Equal(t, IssueResourceClaim, outcome.kind)
}

func TestDispatchROA_RejectsBadMaxLength(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 2, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee, EEResources: rpki.ResourceSet{Inherit: true}}, nil
		},
		roa: func([]byte) (uint32, []certdecode.ROAPrefix, error) {
			return 65000, []certdecode.ROAPrefix{{Prefix: mustPrefix(t, "10.0.0.0/16"), MaxLength: 40}}, nil
		},
	}}

	outcome := v.dispatchROA(testTAL(), "rsync://x/a.roa", nil, caInfo, caResources)
	assert.ErrorIs(t, outcome.reject, errBadVRP)
}

func TestDispatchCert_ChildCA(t *testing.T) {
	caCert, caKey := genCA(t)
	childCert := genEE(t, 3, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		cert: func([]byte, rpki.DecodeMode) (*certdecode.CertInfo, error) {
			return &certdecode.CertInfo{Cert: childCert, IsCA: true, Resources: rpki.ResourceSet{Inherit: true}}, nil
		},
	}}

	outcome := v.dispatchCert(testTAL(), "rsync://x/child.cer", nil, caInfo, caResources)
	require.NoError(t, outcome.reject)
	require.Len(t, outcome.children, 1)
	assert.Equal(t, caResources, outcome.children[0].resources)
}

func TestDispatchCert_RouterKey(t *testing.T) {
	caCert, caKey := genCA(t)
	router := genEE(t, 4, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{ASNs: []rpki.ASRange{{Min: 65000, Max: 65000}}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		cert: func([]byte, rpki.DecodeMode) (*certdecode.CertInfo, error) {
			return &certdecode.CertInfo{
				Cert:      router,
				IsCA:      false,
				SKI:       router.SubjectKeyId,
				Resources: rpki.ResourceSet{Inherit: true},
			}, nil
		},
	}}

	outcome := v.dispatchCert(testTAL(), "rsync://x/router.cer", nil, caInfo, caResources)
	require.NoError(t, outcome.reject)
	require.Len(t, outcome.payloads, 1)
	assert.Equal(t, uint32(65000), outcome.payloads[0].RouterKey.ASN)
}

func TestDispatchASPA_SplitsFamilies(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 5, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{ASNs: []rpki.ASRange{{Min: 65000, Max: 65000}}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee, EEResources: rpki.ResourceSet{Inherit: true}}, nil
		},
		aspa: func([]byte) (uint32, []uint32, []uint32, error) {
			return 65000, []uint32{111}, nil, nil
		},
	}}

	outcome := v.dispatchASPA(testTAL(), "rsync://x/a.asa", nil, caInfo, caResources)
	require.NoError(t, outcome.reject)
	require.Len(t, outcome.payloads, 1)
	assert.Equal(t, rpki.FamilyIPv4, outcome.payloads[0].ASPA.Family)
	assert.Equal(t, []uint32{111}, outcome.payloads[0].ASPA.Providers)
}

func TestDispatchASPA_RejectsCustomerOverclaim(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 5, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}
	caResources := rpki.ResourceSet{ASNs: []rpki.ASRange{{Min: 65000, Max: 65000}}}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee, EEResources: rpki.ResourceSet{Inherit: true}}, nil
		},
		aspa: func([]byte) (uint32, []uint32, []uint32, error) {
			return 70000, []uint32{111}, nil, nil
		},
	}}

	outcome := v.dispatchASPA(testTAL(), "rsync://x/a.asa", nil, caInfo, caResources)
	assert.ErrorIs(t, outcome.reject, errASPAOverclaim)
}

func TestDispatchGhostbuster_NeverContributesPayload(t *testing.T) {
	caCert, caKey := genCA(t)
	ee := genEE(t, 6, caCert, caKey)
	caInfo := &certdecode.CertInfo{Cert: caCert}

	v := &Validator{cfg: DefaultConfig(), decoder: fakeDecoder{
		signed: func([]byte, rpki.DecodeMode) (*certdecode.SignedObject, error) {
			return &certdecode.SignedObject{EECert: ee}, nil
		},
	}}

	outcome := v.dispatchGhostbuster("rsync://x/a.gbr", nil, caInfo)
	require.NoError(t, outcome.reject)
	assert.Empty(t, outcome.payloads)
}

func TestResolveResources(t *testing.T) {
	issuer := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}

	resolved, ok := resolveResources(rpki.ResourceSet{Inherit: true}, issuer)
	require.True(t, ok)
	assert.Equal(t, issuer, resolved)

	own := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "10.1.0.0/16")}}
	resolved, ok = resolveResources(own, issuer)
	require.True(t, ok)
	assert.Equal(t, own, resolved)

	bad := rpki.ResourceSet{Prefix4: []netip.Prefix{mustPrefix(t, "192.0.2.0/24")}}
	_, ok = resolveResources(bad, issuer)
	assert.False(t, ok)
}

func TestPrefixEncompassed(t *testing.T) {
	rs := rpki.ResourceSet{
		Prefix4: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")},
		Prefix6: []netip.Prefix{mustPrefix(t, "2001:db8::/32")},
	}
	assert.True(t, prefixEncompassed(rs, mustPrefix(t, "10.1.0.0/16")))
	assert.False(t, prefixEncompassed(rs, mustPrefix(t, "192.0.2.0/24")))
	assert.True(t, prefixEncompassed(rs, mustPrefix(t, "2001:db8:1::/48")))
	assert.False(t, prefixEncompassed(rs, mustPrefix(t, "2001:db9::/32")))
}

func TestAnyContainsASN(t *testing.T) {
	ranges := []rpki.ASRange{{Min: 100, Max: 200}}
	assert.True(t, anyContainsASN(ranges, 150))
	assert.False(t, anyContainsASN(ranges, 50))
}
