package slurm

import (
	"fmt"
	"net/netip"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
)

// Processor holds the ordered list of configured SLURM files and applies
// them to a payload set after each validator run (spec 4.F). Files are
// listed in priority order: "across files the first file wins".
type Processor struct {
	mu    sync.Mutex
	paths []string
	log   zerolog.Logger
}

func NewProcessor(paths []string, log zerolog.Logger) *Processor {
	return &Processor{
		paths: append([]string(nil), paths...),
		log:   log.With().Str("component", "slurm").Logger(),
	}
}

// Apply re-reads every configured file and applies its filters then its
// assertions to set, in file order. Every file is parsed before any is
// applied, so a malformed file aborts the whole call without mutating
// set — spec 4.F: "a malformed file aborts that run with the previous
// published set retained".
func (p *Processor) Apply(set *payloadset.Set) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	docs := make([]*Document, 0, len(p.paths))
	for _, path := range p.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("slurm: read %s: %w", path, err)
		}
		doc, err := Parse(data)
		if err != nil {
			return fmt.Errorf("slurm: %s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	claimedAssertions := make(map[any]bool)

	for _, doc := range docs {
		for _, f := range doc.PrefixFilters {
			applyPrefixFilter(set, f)
		}
		for _, f := range doc.BGPsecFilters {
			applyBGPsecFilter(set, f)
		}
		for _, a := range doc.PrefixAssertions {
			key := prefixAssertionKey{a.ASN, a.Prefix} // same target as checkConflicts
			if claimedAssertions[key] {
				continue // an earlier file already claimed this target
			}
			claimedAssertions[key] = true
			set.Assert(rpki.Payload{
				Kind:       rpki.PayloadVRP,
				VRP:        rpki.VRP{ASN: a.ASN, Prefix: a.Prefix, MaxLength: a.MaxLength},
				Provenance: rpki.Provenance{Source: "exception"},
			})
		}
		for _, a := range doc.BGPsecAssertions {
			var ski [20]byte
			copy(ski[:], a.SKI)
			key := rpki.RouterKeyKey{ASN: a.ASN, SKI: ski}
			if claimedAssertions[key] {
				continue
			}
			claimedAssertions[key] = true
			set.Assert(rpki.Payload{
				Kind: rpki.PayloadRouterKey,
				RouterKey: rpki.RouterKey{
					ASN:  a.ASN,
					SKI:  ski,
					SPKI: a.RouterPublicKey,
				},
				Provenance: rpki.Provenance{Source: "exception"},
			})
		}
	}
	return nil
}

// applyPrefixFilter removes every VRP matching f's criteria: an unset ASN
// or Prefix matches anything, and a set Prefix matches the VRP's own
// prefix or any more specific prefix within it (RFC 8416 §3.1).
func applyPrefixFilter(set *payloadset.Set, f PrefixFilter) {
	for _, p := range set.Payloads() {
		if p.Kind != rpki.PayloadVRP {
			continue
		}
		if f.HasASN && p.VRP.ASN != f.ASN {
			continue
		}
		if f.HasPrefix && !coveredBy(f.Prefix, p.VRP.Prefix) {
			continue
		}
		set.Filter(p.VRPKey())
	}
}

func applyBGPsecFilter(set *payloadset.Set, f BGPsecFilter) {
	for _, p := range set.Payloads() {
		if p.Kind != rpki.PayloadRouterKey {
			continue
		}
		if f.HasASN && p.RouterKey.ASN != f.ASN {
			continue
		}
		if f.SKI != nil && string(p.RouterKey.SKI[:]) != string(f.SKI) {
			continue
		}
		set.Filter(p.RouterKeyKey())
	}
}

// coveredBy reports whether vrp is outer or a more specific prefix within it.
func coveredBy(outer, vrp netip.Prefix) bool {
	return outer.Bits() <= vrp.Bits() && outer.Overlaps(vrp) && outer.Contains(vrp.Addr())
}
