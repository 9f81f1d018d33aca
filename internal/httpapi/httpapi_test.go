package httpapi

import (
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/collector"
	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/rtr"
	"github.com/bgpfix/rpkid/internal/store"
	"github.com/bgpfix/rpkid/internal/validator"
)

func vrp(asn uint32, cidr string, maxLen uint8, tal string) rpki.Payload {
	p := netip.MustParsePrefix(cidr)
	return rpki.Payload{Kind: rpki.PayloadVRP, VRP: rpki.VRP{ASN: asn, Prefix: p, MaxLength: maxLen}, Provenance: rpki.Provenance{TAL: tal}}
}

func newTestAPI(t *testing.T) (*API, *atomic.Pointer[payloadset.Set]) {
	t.Helper()
	log := zerolog.Nop()

	arch, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	coll := collector.New(collector.DefaultConfig(), arch, log)

	srv, err := rtr.NewServer(rtr.DefaultConfig(), log)
	require.NoError(t, err)

	set := payloadset.New()
	set.Fold(&validator.Result{
		Payloads: []rpki.Payload{
			vrp(64496, "192.0.2.0/24", 24, "test"),
			vrp(64497, "198.51.100.0/24", 24, "test"),
		},
		Stats: map[string]*validator.TALStats{"test": {Verified: 2}},
	})
	srv.Publish(set)

	var cur atomic.Pointer[payloadset.Set]
	cur.Store(set)

	return New(&cur, srv, coll, "test-version", NewLogRing(50)), &cur
}
