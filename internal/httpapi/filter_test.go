package httpapi

import (
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_ASNForms(t *testing.T) {
	for _, s := range []string{"64496", "AS64496", "as64496"} {
		f, err := ParseFilter(url.Values{"select-asn": {s}})
		require.NoError(t, err)
		assert.True(t, f.HasASN)
		assert.Equal(t, uint32(64496), f.ASN)
	}
}

func TestParseFilter_ExcludeAndInclude(t *testing.T) {
	f, err := ParseFilter(url.Values{
		"exclude": {"routeOrigins,aspas"},
		"include": {"more-specifics"},
	})
	require.NoError(t, err)
	assert.True(t, f.ExcludeRouteOrigins)
	assert.True(t, f.ExcludeASPAs)
	assert.False(t, f.ExcludeRouterKeys)
	assert.True(t, f.MoreSpecifics)
}

func TestFilter_MatchesPrefix(t *testing.T) {
	f, err := ParseFilter(url.Values{"select-prefix": {"192.0.2.0/24"}})
	require.NoError(t, err)

	assert.True(t, f.MatchesPrefix(netip.MustParsePrefix("192.0.2.0/24")))
	assert.False(t, f.MatchesPrefix(netip.MustParsePrefix("192.0.2.0/25")))

	f.MoreSpecifics = true
	assert.True(t, f.MatchesPrefix(netip.MustParsePrefix("192.0.2.0/25")))
	assert.False(t, f.MatchesPrefix(netip.MustParsePrefix("198.51.100.0/25")))
}

func TestParseFilter_BadASNRejected(t *testing.T) {
	_, err := ParseFilter(url.Values{"select-asn": {"not-a-number"}})
	assert.Error(t, err)
}
