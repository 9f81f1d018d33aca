package rtr

import (
	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
)

// Snapshot is the published set as of one serial number: the immutable
// value the atomic current-set pointer refers to (spec 4.G "adoption is
// atomic: readers observing (session, serial) always see a matching
// payload set").
type Snapshot struct {
	SessionID   uint16
	Serial      uint32
	VRPs        []rpki.VRP
	RouterKeys  []rpki.RouterKey
	ASPAs       []rpki.ASPA
}

// SnapshotOf captures the contents of set under sessionID/serial: VRPs
// sorted, router keys and ASPAs in the set's insertion order.
func SnapshotOf(set *payloadset.Set, sessionID uint16, serial uint32) *Snapshot {
	return &Snapshot{
		SessionID:  sessionID,
		Serial:     serial,
		VRPs:       set.VRPs(),
		RouterKeys: set.RouterKeys(),
		ASPAs:      set.ASPAs(),
	}
}

// ComputeDelta returns (prev \ cur, cur \ prev) for every payload kind —
// spec 4.G: "a delta is a pair of sequences (withdrawn, announced) =
// (previous \ current, current \ previous)".
func ComputeDelta(prev, cur *Snapshot) Delta {
	d := Delta{FromSerial: prev.Serial, Serial: cur.Serial}
	d.WithdrawnVRPs, d.AnnouncedVRPs = diffVRPs(prev.VRPs, cur.VRPs)
	d.WithdrawnRouterKeys, d.AnnouncedRouterKeys = diffRouterKeys(prev.RouterKeys, cur.RouterKeys)
	d.WithdrawnASPAs, d.AnnouncedASPAs = diffASPAs(prev.ASPAs, cur.ASPAs)
	return d
}

func diffVRPs(prev, cur []rpki.VRP) (withdrawn, announced []rpki.VRP) {
	prevSet := make(map[rpki.VRP]bool, len(prev))
	for _, v := range prev {
		prevSet[v] = true
	}
	curSet := make(map[rpki.VRP]bool, len(cur))
	for _, v := range cur {
		curSet[v] = true
	}
	for _, v := range prev {
		if !curSet[v] {
			withdrawn = append(withdrawn, v)
		}
	}
	for _, v := range cur {
		if !prevSet[v] {
			announced = append(announced, v)
		}
	}
	return
}

func diffRouterKeys(prev, cur []rpki.RouterKey) (withdrawn, announced []rpki.RouterKey) {
	key := func(rk rpki.RouterKey) rpki.RouterKeyKey { return rpki.RouterKeyKey{ASN: rk.ASN, SKI: rk.SKI} }
	prevSet := make(map[rpki.RouterKeyKey]bool, len(prev))
	for _, rk := range prev {
		prevSet[key(rk)] = true
	}
	curSet := make(map[rpki.RouterKeyKey]bool, len(cur))
	for _, rk := range cur {
		curSet[key(rk)] = true
	}
	for _, rk := range prev {
		if !curSet[key(rk)] {
			withdrawn = append(withdrawn, rk)
		}
	}
	for _, rk := range cur {
		if !prevSet[key(rk)] {
			announced = append(announced, rk)
		}
	}
	return
}

func diffASPAs(prev, cur []rpki.ASPA) (withdrawn, announced []rpki.ASPA) {
	type key struct {
		customer uint32
		family   rpki.Family
		n        int
	}
	encode := func(a rpki.ASPA) key {
		return key{customer: a.Customer, family: a.Family, n: len(a.Providers)}
	}
	// ASPAs are compared by full value (customer, family, and provider
	// list) since unlike VRPs and router keys a provider-list change
	// must itself produce a withdraw+announce pair, not be ignored.
	prevIdx := make(map[key][]rpki.ASPA)
	for _, a := range prev {
		prevIdx[encode(a)] = append(prevIdx[encode(a)], a)
	}
	curIdx := make(map[key][]rpki.ASPA)
	for _, a := range cur {
		curIdx[encode(a)] = append(curIdx[encode(a)], a)
	}
	for _, a := range prev {
		if !containsASPA(curIdx[encode(a)], a) {
			withdrawn = append(withdrawn, a)
		}
	}
	for _, a := range cur {
		if !containsASPA(prevIdx[encode(a)], a) {
			announced = append(announced, a)
		}
	}
	return
}

func containsASPA(list []rpki.ASPA, a rpki.ASPA) bool {
	for _, b := range list {
		if b.Customer == a.Customer && b.Family == a.Family && sameProviders(a.Providers, b.Providers) {
			return true
		}
	}
	return false
}

func sameProviders(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
