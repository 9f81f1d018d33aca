package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/rtr"
)

// jsonDeltaTimeout bounds /json-delta/notify's long-poll wait so an idle
// connection doesn't hold a goroutine forever.
const jsonDeltaTimeout = 5 * time.Minute

type jsonDeltaDoc struct {
	Session uint16         `json:"session"`
	Serial  uint32         `json:"serial"`
	Deltas  []jsonDeltaGen `json:"deltas,omitempty"`
	Reset   bool           `json:"reset"`
}

type jsonDeltaGen struct {
	Serial    uint32   `json:"serial"`
	Withdrawn []jsonROA `json:"withdrawn,omitempty"`
	Announced []jsonROA `json:"announced,omitempty"`
}

// handleJSONDelta serves /json-delta[?session=&serial=]: the delta
// chain from serial to the current generation, or reset=true when the
// client's serial isn't in the retained history (spec §6).
func (a *API) handleJSONDelta(w http.ResponseWriter, r *http.Request) {
	cur := a.rtr.Current()
	doc := jsonDeltaDoc{Session: cur.SessionID, Serial: cur.Serial}

	sinceStr := r.URL.Query().Get("serial")
	if sinceStr == "" {
		writeJSON(w, doc)
		return
	}
	since, err := strconv.ParseUint(sinceStr, 10, 32)
	if err != nil {
		http.Error(w, "bad serial", http.StatusBadRequest)
		return
	}
	if sessionStr := r.URL.Query().Get("session"); sessionStr != "" {
		sess, err := strconv.ParseUint(sessionStr, 10, 16)
		if err != nil || uint16(sess) != cur.SessionID {
			doc.Reset = true
			writeJSON(w, doc)
			return
		}
	}

	chain, ok := a.rtr.Delta(uint32(since))
	if !ok {
		doc.Reset = true
		writeJSON(w, doc)
		return
	}
	doc.Deltas = renderDeltas(chain)
	writeJSON(w, doc)
}

// handleJSONDeltaNotify blocks until the published serial advances past
// the caller's serial, then returns the same shape as /json-delta.
func (a *API) handleJSONDeltaNotify(w http.ResponseWriter, r *http.Request) {
	sinceStr := r.URL.Query().Get("serial")
	since, err := strconv.ParseUint(sinceStr, 10, 32)
	if err != nil {
		http.Error(w, "missing or bad serial", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), jsonDeltaTimeout)
	defer cancel()

	cur, err := a.rtr.WaitForChange(ctx, uint32(since))
	if err != nil {
		doc := jsonDeltaDoc{Session: a.rtr.SessionID(), Serial: uint32(since)}
		writeJSON(w, doc) // timed out / client gone: report no change rather than erroring
		return
	}

	doc := jsonDeltaDoc{Session: cur.SessionID, Serial: cur.Serial}
	chain, ok := a.rtr.Delta(uint32(since))
	if !ok {
		doc.Reset = true
	} else {
		doc.Deltas = renderDeltas(chain)
	}
	writeJSON(w, doc)
}

// roasOf renders bare VRPs (the delta history keeps no provenance) into
// the same "roas" shape the output formats use, with an empty "ta".
func roasOf(vrps []rpki.VRP) []jsonROA {
	out := make([]jsonROA, len(vrps))
	for i, v := range vrps {
		out[i] = jsonROA{ASN: asName(v.ASN), Prefix: v.Prefix.String(), MaxLength: v.MaxLength}
	}
	return out
}

func renderDeltas(chain []rtr.Delta) []jsonDeltaGen {
	out := make([]jsonDeltaGen, len(chain))
	for i, d := range chain {
		out[i] = jsonDeltaGen{
			Serial:    d.Serial,
			Withdrawn: roasOf(d.WithdrawnVRPs),
			Announced: roasOf(d.AnnouncedVRPs),
		}
	}
	return out
}
