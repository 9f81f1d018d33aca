package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"

	"github.com/buger/jsonparser"
	"github.com/go-chi/chi/v5"

	"github.com/bgpfix/rpkid/internal/payloadset"
)

// maxValidityBody bounds the POST /validity body (spec §6: "≤ 100 kB").
const maxValidityBody = 100 * 1024

// RouteValidity is one route's RFC-8893-style validity verdict.
type RouteValidity struct {
	Route struct {
		OriginASN string `json:"origin_asn"`
		Prefix    string `json:"prefix"`
	} `json:"route"`
	Validity struct {
		State       string      `json:"state"`
		Description string      `json:"description"`
		VRPs        vrpVerdicts `json:"VRPs"`
	} `json:"validity"`
}

type vrpVerdicts struct {
	Matched         []vrpSummary `json:"matched"`
	UnmatchedAS     []vrpSummary `json:"unmatched_as"`
	UnmatchedLength []vrpSummary `json:"unmatched_length"`
}

type vrpSummary struct {
	ASN       string `json:"asn"`
	Prefix    string `json:"prefix"`
	MaxLength uint8  `json:"maxLength"`
}

// CheckValidity implements the RFC 6811 route-origin validation states
// (valid / invalid / not-found) against the published set's VRPs.
func CheckValidity(set *payloadset.Set, asn uint32, prefix netip.Prefix) RouteValidity {
	var rv RouteValidity
	rv.Route.OriginASN = asName(asn)
	rv.Route.Prefix = prefix.String()

	for _, v := range set.VRPs() {
		if v.Prefix.Addr().Is4() != prefix.Addr().Is4() {
			continue
		}
		if v.Prefix.Bits() > prefix.Bits() || !v.Prefix.Overlaps(prefix) || !v.Prefix.Contains(prefix.Addr()) {
			continue
		}
		sum := vrpSummary{ASN: asName(v.ASN), Prefix: v.Prefix.String(), MaxLength: v.MaxLength}
		switch {
		case v.ASN != asn:
			rv.Validity.VRPs.UnmatchedAS = append(rv.Validity.VRPs.UnmatchedAS, sum)
		case uint8(prefix.Bits()) > v.MaxLength:
			rv.Validity.VRPs.UnmatchedLength = append(rv.Validity.VRPs.UnmatchedLength, sum)
		default:
			rv.Validity.VRPs.Matched = append(rv.Validity.VRPs.Matched, sum)
		}
	}

	switch {
	case len(rv.Validity.VRPs.Matched) > 0:
		rv.Validity.State = "valid"
		rv.Validity.Description = "at least one VRP matches the route"
	case len(rv.Validity.VRPs.UnmatchedAS) > 0 || len(rv.Validity.VRPs.UnmatchedLength) > 0:
		rv.Validity.State = "invalid"
		rv.Validity.Description = "covering VRPs exist, but none with a matching origin AS and length"
	default:
		rv.Validity.State = "not-found"
		rv.Validity.Description = "no covering VRP found"
	}
	return rv
}

// handleValidityPath serves /api/v1/validity/{asn}/{prefix}.
func (a *API) handleValidityPath(w http.ResponseWriter, r *http.Request) {
	asn, err := parseASN(chi.URLParam(r, "asn"))
	if err != nil {
		http.Error(w, "bad asn: "+err.Error(), http.StatusBadRequest)
		return
	}
	prefix, err := netip.ParsePrefix(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "bad prefix: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, CheckValidity(a.Set(), asn, prefix))
}

// handleValidityQuery serves GET /validity?asn=&prefix= and POST
// /validity with a `{"routes":[{"asn":...,"prefix":...}, ...]}` body.
func (a *API) handleValidityQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		a.handleValidityBatch(w, r)
		return
	}
	asn, err := parseASN(r.URL.Query().Get("asn"))
	if err != nil {
		http.Error(w, "bad asn: "+err.Error(), http.StatusBadRequest)
		return
	}
	prefix, err := netip.ParsePrefix(r.URL.Query().Get("prefix"))
	if err != nil {
		http.Error(w, "bad prefix: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, CheckValidity(a.Set(), asn, prefix))
}

func (a *API) handleValidityBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValidityBody+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if len(body) > maxValidityBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	set := a.Set()
	var results []RouteValidity
	routes, _, _, err := jsonparser.Get(body, "routes")
	if err != nil {
		http.Error(w, `missing "routes" array`, http.StatusBadRequest)
		return
	}
	_, err = jsonparser.ArrayEach(routes, func(value []byte, dataType jsonparser.ValueType, offset int, arrErr error) {
		asnStr, _ := jsonparser.GetString(value, "asn")
		prefixStr, _ := jsonparser.GetString(value, "prefix")
		asn, err1 := parseASN(asnStr)
		prefix, err2 := netip.ParsePrefix(prefixStr)
		if err1 != nil || err2 != nil {
			return
		}
		results = append(results, CheckValidity(set, asn, prefix))
	})
	if err != nil {
		http.Error(w, "malformed routes array", http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		Routes []RouteValidity `json:"routes"`
	}{Routes: results})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode error: %v", err), http.StatusInternalServerError)
	}
}
