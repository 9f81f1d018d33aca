package rtr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/rpki"
)

func mustPrefix(t *testing.T, cidr string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(cidr)
	require.NoError(t, err)
	return p
}

func TestComputeDelta_VRPs(t *testing.T) {
	keep := rpki.VRP{ASN: 1, Prefix: mustPrefix(t, "10.0.0.0/8"), MaxLength: 8}
	removed := rpki.VRP{ASN: 2, Prefix: mustPrefix(t, "192.0.2.0/24"), MaxLength: 24}
	added := rpki.VRP{ASN: 3, Prefix: mustPrefix(t, "203.0.113.0/24"), MaxLength: 24}

	prev := &Snapshot{Serial: 5, VRPs: []rpki.VRP{keep, removed}}
	cur := &Snapshot{Serial: 6, VRPs: []rpki.VRP{keep, added}}

	d := ComputeDelta(prev, cur)
	assert.Equal(t, uint32(5), d.FromSerial)
	assert.Equal(t, uint32(6), d.Serial)
	require.Len(t, d.WithdrawnVRPs, 1)
	assert.Equal(t, removed, d.WithdrawnVRPs[0])
	require.Len(t, d.AnnouncedVRPs, 1)
	assert.Equal(t, added, d.AnnouncedVRPs[0])
}

func TestComputeDelta_IdenticalSetsIsEmpty(t *testing.T) {
	v := rpki.VRP{ASN: 1, Prefix: mustPrefix(t, "10.0.0.0/8"), MaxLength: 8}
	prev := &Snapshot{Serial: 1, VRPs: []rpki.VRP{v}}
	cur := &Snapshot{Serial: 1, VRPs: []rpki.VRP{v}}
	assert.True(t, ComputeDelta(prev, cur).Empty())
}

func TestComputeDelta_ASPAProviderListChangeIsWithdrawPlusAnnounce(t *testing.T) {
	prev := &Snapshot{ASPAs: []rpki.ASPA{{Customer: 64496, Family: rpki.FamilyIPv4, Providers: []uint32{1, 2}}}}
	cur := &Snapshot{ASPAs: []rpki.ASPA{{Customer: 64496, Family: rpki.FamilyIPv4, Providers: []uint32{1, 2, 3}}}}

	d := ComputeDelta(prev, cur)
	require.Len(t, d.WithdrawnASPAs, 1)
	require.Len(t, d.AnnouncedASPAs, 1)
	assert.Equal(t, []uint32{1, 2, 3}, d.AnnouncedASPAs[0].Providers)
}

func TestComputeDelta_RouterKeys(t *testing.T) {
	rk := rpki.RouterKey{ASN: 64496, SKI: [20]byte{1}, SPKI: []byte("a")}
	prev := &Snapshot{RouterKeys: []rpki.RouterKey{rk}}
	cur := &Snapshot{}

	d := ComputeDelta(prev, cur)
	require.Len(t, d.WithdrawnRouterKeys, 1)
	assert.Empty(t, d.AnnouncedRouterKeys)
}
