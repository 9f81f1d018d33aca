// Package objectstore implements the "last-known-good" filter between the
// raw archive and the validator (spec 4.C): only objects referenced by a
// manifest that actually validated are promoted, so a transient publication
// glitch doesn't wipe out an otherwise-healthy CA.
package objectstore

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// Snapshot is the manifest-consistent object set for one publication point.
type Snapshot struct {
	Manifest *rpki.Manifest
	Objects  map[string][]byte // uri -> object bytes, matching the manifest's hashes
}

// Store holds one Snapshot per PP and expires PPs after repeated failures.
type Store struct {
	snapshots *xsync.Map[rpki.PPID, *Snapshot]
	failures  *xsync.Map[rpki.PPID, int]
}

func New() *Store {
	return &Store{
		snapshots: xsync.NewMap[rpki.PPID, *Snapshot](),
		failures:  xsync.NewMap[rpki.PPID, int](),
	}
}

// Lookup returns the bytes of uri from the PP's last manifest-consistent
// snapshot, if any.
func (s *Store) Lookup(pp rpki.PPID, uri string) ([]byte, bool) {
	snap, ok := s.snapshots.Load(pp)
	if !ok {
		return nil, false
	}
	data, ok := snap.Objects[uri]
	return data, ok
}

// Snapshot returns the current snapshot for a PP, if any — the validator
// reads an object from it when the live archive does not have that object.
func (s *Store) Snapshot(pp rpki.PPID) (*Snapshot, bool) {
	return s.snapshots.Load(pp)
}

// Update atomically replaces the snapshot for pp after the validator has
// confirmed the manifest validates and every listed hash matched.
func (s *Store) Update(pp rpki.PPID, snap *Snapshot) {
	s.snapshots.Store(pp, snap)
	s.failures.Store(pp, 0)
}

// maxConsecutiveFailures is the spec's "two consecutive refreshes" rule.
const maxConsecutiveFailures = 2

// Fail records that pp failed to produce a valid manifest this refresh.
// After maxConsecutiveFailures in a row, the PP's snapshot is forgotten.
func (s *Store) Fail(pp rpki.PPID) (expired bool) {
	n, _ := s.failures.Load(pp)
	n++
	s.failures.Store(pp, n)
	if n >= maxConsecutiveFailures {
		s.snapshots.Delete(pp)
		return true
	}
	return false
}
