// Package httpapi exposes the daemon's HTTP surface (spec §6): metrics,
// status, validity checks, the incremental `/json-delta` feed, and one
// output-format path per formatter name. Every handler reads from
// snapshots the orchestrator publishes; none of them block a validation
// run.
package httpapi

import (
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// Filter is the parsed form of the query parameters every output-format
// path and `/validity` accept (spec §6): `select-asn`, `select-prefix`,
// `include=more-specifics`, `exclude=routeOrigins|routerKeys|aspas`.
type Filter struct {
	ASN    uint32
	HasASN bool

	Prefix    netip.Prefix
	HasPrefix bool

	MoreSpecifics bool

	ExcludeRouteOrigins bool
	ExcludeRouterKeys   bool
	ExcludeASPAs        bool
}

func ParseFilter(q url.Values) (Filter, error) {
	var f Filter

	if s := q.Get("select-asn"); s != "" {
		asn, err := parseASN(s)
		if err != nil {
			return f, err
		}
		f.ASN, f.HasASN = asn, true
	}

	if s := q.Get("select-prefix"); s != "" {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return f, err
		}
		f.Prefix, f.HasPrefix = p, true
	}

	for _, v := range strings.Split(q.Get("include"), ",") {
		if v == "more-specifics" {
			f.MoreSpecifics = true
		}
	}

	for _, v := range strings.Split(q.Get("exclude"), ",") {
		switch v {
		case "routeOrigins":
			f.ExcludeRouteOrigins = true
		case "routerKeys":
			f.ExcludeRouterKeys = true
		case "aspas":
			f.ExcludeASPAs = true
		}
	}

	return f, nil
}

// parseASN accepts both "64496" and "AS64496" forms, matching the two
// forms `select-asn` appears in across existing RP tooling.
func parseASN(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "AS"), "as")
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

// MatchesPrefix reports whether p satisfies the filter's select-prefix
// criterion: an exact match, or — when `include=more-specifics` is set —
// any prefix covered by it.
func (f Filter) MatchesPrefix(p netip.Prefix) bool {
	if !f.HasPrefix {
		return true
	}
	if p == f.Prefix {
		return true
	}
	return f.MoreSpecifics && f.Prefix.Bits() <= p.Bits() && f.Prefix.Overlaps(p) && f.Prefix.Contains(p.Addr())
}
