package validator

import (
	"net/netip"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// applyUnsafeVRPPolicy implements the spec 4.D post-walk pass: a VRP whose
// prefix overlaps any resource certified to a CA that was rejected during
// this run is unsafe. A CA holding exactly the default route for a family
// (0.0.0.0/0 or ::/0) is excluded from that family's check — otherwise one
// such rejection would mark every VRP in the family unsafe.
func applyUnsafeVRPPolicy(result *Result, rejected []rejectedCA, policy rpki.Policy) {
	if policy == rpki.PolicyAccept || len(rejected) == 0 {
		return
	}

	kept := make([]rpki.Payload, 0, len(result.Payloads))
	for _, p := range result.Payloads {
		if p.Kind != rpki.PayloadVRP || !overlapsAnyRejected(rejected, p.VRP.Prefix) {
			kept = append(kept, p)
			continue
		}

		result.stats(p.Provenance.TAL).Unsafe++
		if policy == rpki.PolicyWarn {
			kept = append(kept, p)
		}
		// PolicyReject: dropped.
	}
	result.Payloads = kept
}

func overlapsAnyRejected(rejected []rejectedCA, p netip.Prefix) bool {
	set := func(rc rejectedCA) []netip.Prefix {
		if rpki.FamilyOf(p) == rpki.FamilyIPv6 {
			return rc.Resources.Prefix6
		}
		return rc.Resources.Prefix4
	}
	for _, rc := range rejected {
		for _, s := range set(rc) {
			if s.Bits() == 0 {
				continue // default-route exception
			}
			if s.Overlaps(p) {
				return true
			}
		}
	}
	return false
}
