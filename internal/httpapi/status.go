package httpapi

import (
	"fmt"
	"net/http"
	"time"
)

// Status is the /api/v1/status JSON shape: RTR engine state, per-PP
// collector bookkeeping, and per-TAL validator counters.
type Status struct {
	Version  string                  `json:"version"`
	Uptime   float64                 `json:"uptimeSeconds"`
	RTR      RTRStatus               `json:"rtr"`
	PPs      []PPStatus              `json:"publicationPoints"`
	TALStats map[string]TALCounters  `json:"talStats"`
}

type RTRStatus struct {
	SessionID uint16 `json:"sessionId"`
	Serial    uint32 `json:"serial"`
	Sessions  int    `json:"sessions"`
}

type PPStatus struct {
	PP                  string `json:"pp"`
	Session             string `json:"session,omitempty"`
	Serial              uint64 `json:"serial"`
	LastRRDPSuccess     string `json:"lastRRDPSuccess,omitempty"`
	EverRRDPSuccess     bool   `json:"everRRDPSuccess"`
	LastRsyncTry        string `json:"lastRsyncTry,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

type TALCounters struct {
	Verified        int `json:"verified"`
	Unsafe          int `json:"unsafe"`
	LocallyFiltered int `json:"locallyFiltered"`
	Duplicate       int `json:"duplicate"`
	Contributed     int `json:"contributed"`
}

func (a *API) buildStatus() Status {
	st := Status{
		Version: a.version,
		Uptime:  time.Since(a.startedAt).Seconds(),
		RTR: RTRStatus{
			SessionID: a.rtr.SessionID(),
			Serial:    a.rtr.Current().Serial,
			Sessions:  a.rtr.SessionCount(),
		},
		TALStats: make(map[string]TALCounters),
	}

	for pp, ps := range a.coll.AllStatus() {
		entry := PPStatus{
			PP:                  pp.String(),
			Session:             ps.Session,
			Serial:              ps.Serial,
			EverRRDPSuccess:     ps.EverRRDPSuccess,
			ConsecutiveFailures: ps.ConsecutiveFailures,
		}
		if !ps.LastRRDPSuccess.IsZero() {
			entry.LastRRDPSuccess = ps.LastRRDPSuccess.UTC().Format(time.RFC3339)
		}
		if !ps.LastRsyncTry.IsZero() {
			entry.LastRsyncTry = ps.LastRsyncTry.UTC().Format(time.RFC3339)
		}
		st.PPs = append(st.PPs, entry)
	}

	for tal, s := range a.Set().Stats() {
		st.TALStats[tal] = TALCounters{
			Verified: s.Verified, Unsafe: s.Unsafe,
			LocallyFiltered: s.LocallyFiltered, Duplicate: s.Duplicate, Contributed: s.Contributed,
		}
	}
	return st
}

func (a *API) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.buildStatus())
}

// handleStatusText serves the human-oriented /status that predates the
// JSON API, for operators curling the daemon directly.
func (a *API) handleStatusText(w http.ResponseWriter, r *http.Request) {
	st := a.buildStatus()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "rpkid %s, up %.0fs\n", st.Version, st.Uptime)
	fmt.Fprintf(w, "rtr: session=%d serial=%d sessions=%d\n", st.RTR.SessionID, st.RTR.Serial, st.RTR.Sessions)
	for tal, c := range st.TALStats {
		fmt.Fprintf(w, "tal %s: verified=%d unsafe=%d filtered=%d duplicate=%d contributed=%d\n",
			tal, c.Verified, c.Unsafe, c.LocallyFiltered, c.Duplicate, c.Contributed)
	}
	for _, pp := range st.PPs {
		fmt.Fprintf(w, "pp %s: serial=%d everRRDPSuccess=%v consecutiveFailures=%d\n",
			pp.PP, pp.Serial, pp.EverRRDPSuccess, pp.ConsecutiveFailures)
	}
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, a.version)
}
