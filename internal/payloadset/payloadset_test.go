package payloadset

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/validator"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func vrp(t *testing.T, tal, cidr string, maxLen uint8) rpki.Payload {
	return rpki.Payload{
		Kind:       rpki.PayloadVRP,
		VRP:        rpki.VRP{ASN: 65000, Prefix: mustPrefix(t, cidr), MaxLength: maxLen},
		Provenance: rpki.Provenance{TAL: tal},
	}
}

func TestFold_DedupsAndCounts(t *testing.T) {
	set := New()

	r1 := &validator.Result{Stats: map[string]*validator.TALStats{"ta1": {Verified: 2}}}
	r1.Payloads = []rpki.Payload{
		vrp(t, "ta1", "10.0.0.0/16", 24),
		vrp(t, "ta1", "10.0.0.0/16", 24), // duplicate within the same fold
	}

	set.Fold(r1)

	assert.Len(t, set.Payloads(), 1)
	stats := set.Stats()
	assert.Equal(t, 2, stats["ta1"].Verified)
	assert.Equal(t, 1, stats["ta1"].Contributed)
	assert.Equal(t, 1, stats["ta1"].Duplicate)
}

func TestFold_AcrossTwoRuns(t *testing.T) {
	set := New()
	set.Fold(&validator.Result{
		Payloads: []rpki.Payload{vrp(t, "ta1", "10.0.0.0/16", 24)},
		Stats:    map[string]*validator.TALStats{},
	})
	set.Fold(&validator.Result{
		Payloads: []rpki.Payload{vrp(t, "ta1", "10.0.0.0/16", 24)}, // same key, second run
		Stats:    map[string]*validator.TALStats{},
	})

	assert.Len(t, set.Payloads(), 1)
	assert.Equal(t, 1, set.Stats()["ta1"].Duplicate)
}

func TestFilterAndAssert(t *testing.T) {
	set := New()
	p := vrp(t, "ta1", "10.0.0.0/16", 24)
	set.Fold(&validator.Result{Payloads: []rpki.Payload{p}, Stats: map[string]*validator.TALStats{}})

	key := p.VRPKey()
	removed, ok := set.Filter(key)
	require.True(t, ok)
	assert.Equal(t, p.VRP, removed.VRP)
	assert.Empty(t, set.Payloads())
	assert.Equal(t, 1, set.Stats()["ta1"].LocallyFiltered)

	asserted := vrp(t, "exception", "192.0.2.0/24", 24)
	set.Assert(asserted)
	require.Len(t, set.Payloads(), 1)
	got, ok := set.Get(asserted.VRPKey())
	require.True(t, ok)
	assert.Equal(t, "exception", got.Provenance.TAL)
}

func TestVRPsSorted(t *testing.T) {
	set := New()
	set.Fold(&validator.Result{
		Payloads: []rpki.Payload{
			vrp(t, "ta1", "192.0.2.0/24", 24),
			vrp(t, "ta1", "10.0.0.0/16", 24),
		},
		Stats: map[string]*validator.TALStats{},
	})

	vrps := set.VRPs()
	require.Len(t, vrps, 2)
	assert.Equal(t, mustPrefix(t, "10.0.0.0/16"), vrps[0].Prefix)
	assert.Equal(t, mustPrefix(t, "192.0.2.0/24"), vrps[1].Prefix)
}
