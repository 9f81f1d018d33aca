package httpapi

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckValidity_Valid(t *testing.T) {
	api, _ := newTestAPI(t)
	rv := CheckValidity(api.Set(), 64496, netip.MustParsePrefix("192.0.2.0/24"))
	assert.Equal(t, "valid", rv.Validity.State)
	assert.Len(t, rv.Validity.VRPs.Matched, 1)
}

func TestCheckValidity_InvalidAS(t *testing.T) {
	api, _ := newTestAPI(t)
	rv := CheckValidity(api.Set(), 64498, netip.MustParsePrefix("192.0.2.0/24"))
	assert.Equal(t, "invalid", rv.Validity.State)
	assert.Len(t, rv.Validity.VRPs.UnmatchedAS, 1)
}

func TestCheckValidity_InvalidLength(t *testing.T) {
	api, _ := newTestAPI(t)
	rv := CheckValidity(api.Set(), 64496, netip.MustParsePrefix("192.0.2.0/25"))
	assert.Equal(t, "invalid", rv.Validity.State)
	assert.Len(t, rv.Validity.VRPs.UnmatchedLength, 1)
}

func TestCheckValidity_NotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	rv := CheckValidity(api.Set(), 64496, netip.MustParsePrefix("203.0.113.0/24"))
	assert.Equal(t, "not-found", rv.Validity.State)
}
