// Package payloadset folds one or more validator runs into the
// deduplicated, per-TAL-accounted payload set the RTR engine and HTTP
// API serve (spec 4.E).
package payloadset

import (
	"sort"
	"sync"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/validator"
)

// Set is the deduplicated payload set for one published generation. VRPs
// are keyed by (ASN, prefix, maxLength), router keys by (ASN, SKI), ASPAs
// by (customer, family). A payload arriving under an already-seen key is
// counted as a duplicate and discarded — including ASPA provider lists,
// which are never merged across duplicate entries (spec 4.E).
type Set struct {
	mu      sync.Mutex
	entries map[any]rpki.Payload
	order   []any // insertion order, for deterministic output
	stats   map[string]*validator.TALStats
}

func New() *Set {
	return &Set{
		entries: make(map[any]rpki.Payload),
		stats:   make(map[string]*validator.TALStats),
	}
}

func (s *Set) statLocked(tal string) *validator.TALStats {
	st, ok := s.stats[tal]
	if !ok {
		st = &validator.TALStats{}
		s.stats[tal] = st
	}
	return st
}

// Fold merges a validator Run's result into the set: the per-TAL
// verified/unsafe counters it already computed are added in, then every
// payload is folded for dedup accounting.
func (s *Set) Fold(result *validator.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tal, rs := range result.Stats {
		st := s.statLocked(tal)
		st.Verified += rs.Verified
		st.Unsafe += rs.Unsafe
	}

	for _, p := range result.Payloads {
		key := dedupKey(p)
		if key == nil {
			continue
		}
		st := s.statLocked(p.Provenance.TAL)
		if _, exists := s.entries[key]; exists {
			st.Duplicate++
			continue
		}
		s.entries[key] = p
		s.order = append(s.order, key)
		st.Contributed++
	}
}

func dedupKey(p rpki.Payload) any {
	switch p.Kind {
	case rpki.PayloadVRP:
		return p.VRPKey()
	case rpki.PayloadRouterKey:
		return p.RouterKeyKey()
	case rpki.PayloadASPA:
		return p.ASPAKey()
	default:
		return nil
	}
}

// Filter removes the payload under key, for a SLURM filter (spec 4.F),
// and counts it as locally-filtered against the TAL it came from.
func (s *Set) Filter(key any) (rpki.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		return rpki.Payload{}, false
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key { // drop it so a later Assert of the same key appends it once
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.statLocked(p.Provenance.TAL).LocallyFiltered++
	return p, true
}

// Assert adds or overwrites an exception-sourced payload (SLURM
// assertions, spec 4.F); assertions always win over whatever the walk
// produced under the same key.
func (s *Set) Assert(p rpki.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(p)
	if key == nil {
		return
	}
	if _, existed := s.entries[key]; !existed {
		s.order = append(s.order, key)
	}
	s.entries[key] = p
}

// Get returns the current entry under key, if any — used to detect
// SLURM filter/assertion conflicts within a single file (spec 4.F).
func (s *Set) Get(key any) (rpki.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	return p, ok
}

// Payloads returns every payload currently in the set, in insertion order.
func (s *Set) Payloads() []rpki.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rpki.Payload, 0, len(s.order))
	for _, k := range s.order {
		if p, ok := s.entries[k]; ok {
			out = append(out, p)
		}
	}
	return out
}

// VRPs returns just the VRP payloads, sorted for stable RTR/output-format
// rendering.
func (s *Set) VRPs() []rpki.VRP {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rpki.VRP
	for _, k := range s.order {
		p, ok := s.entries[k]
		if !ok || p.Kind != rpki.PayloadVRP {
			continue
		}
		out = append(out, p.VRP)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ASN != out[j].ASN {
			return out[i].ASN < out[j].ASN
		}
		if out[i].Prefix != out[j].Prefix {
			return out[i].Prefix.String() < out[j].Prefix.String()
		}
		return out[i].MaxLength < out[j].MaxLength
	})
	return out
}

// RouterKeys returns just the router-key payloads.
func (s *Set) RouterKeys() []rpki.RouterKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rpki.RouterKey
	for _, k := range s.order {
		if p, ok := s.entries[k]; ok && p.Kind == rpki.PayloadRouterKey {
			out = append(out, p.RouterKey)
		}
	}
	return out
}

// ASPAs returns just the ASPA payloads.
func (s *Set) ASPAs() []rpki.ASPA {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rpki.ASPA
	for _, k := range s.order {
		if p, ok := s.entries[k]; ok && p.Kind == rpki.PayloadASPA {
			out = append(out, p.ASPA)
		}
	}
	return out
}

// Stats returns a snapshot of the per-TAL counters (spec 4.E).
func (s *Set) Stats() map[string]validator.TALStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]validator.TALStats, len(s.stats))
	for tal, st := range s.stats {
		out[tal] = *st
	}
	return out
}
