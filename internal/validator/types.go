package validator

import "github.com/bgpfix/rpkid/internal/rpki"

// IssueKind tags a per-CA/per-PP problem surfaced during a run, matching
// the "Validator" and "TrustAnchor" kinds of spec §7's error taxonomy —
// these are reported, never returned as a Go error that would abort the run.
type IssueKind string

const (
	IssueTrustAnchor    IssueKind = "trust-anchor"
	IssueStale          IssueKind = "stale"
	IssueSignature      IssueKind = "signature"
	IssueResourceClaim  IssueKind = "resource-overclaim"
	IssueManifestCRL    IssueKind = "manifest-crl-inconsistency"
	IssueUnknownObject  IssueKind = "unknown-object"
	IssueMaxDepth       IssueKind = "max-ca-depth-exceeded"
	IssueFetch          IssueKind = "fetch"
)

// Issue is one rejected CA or unreachable PP, attributed to a location for
// the status/metrics endpoints and logs.
type Issue struct {
	Kind IssueKind
	TAL  string
	URI  string
	Err  error
}

// rejectedCA is recorded for the unsafe-VRP post-pass (spec §4.D "Unsafe
// VRPs"): a CA that never validated, but whose certified resources are
// known (from its parent's issuing certificate) and so can overlap a VRP
// emitted elsewhere in the tree.
type rejectedCA struct {
	Resources rpki.ResourceSet
}

// TALStats are the per-TAL counters spec §4.E calls for.
type TALStats struct {
	Verified        int
	Unsafe          int
	LocallyFiltered int
	Duplicate       int
	Contributed     int
}

// Result is the outcome of one validator Run across every configured TAL.
type Result struct {
	Payloads []rpki.Payload
	Issues   []Issue
	Stats    map[string]*TALStats // keyed by TAL label
}

func newResult() *Result {
	return &Result{Stats: make(map[string]*TALStats)}
}

func (r *Result) stats(tal string) *TALStats {
	s, ok := r.Stats[tal]
	if !ok {
		s = &TALStats{}
		r.Stats[tal] = s
	}
	return s
}
