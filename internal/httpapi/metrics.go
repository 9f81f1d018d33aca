package httpapi

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// handleMetrics builds a fresh metrics.Set on every scrape: the TAL
// label set can change across a reload, so gauges are registered
// per-request rather than once at startup.
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	set := metrics.NewSet()
	vrps, routerKeys, aspas := a.Set().VRPs(), a.Set().RouterKeys(), a.Set().ASPAs()

	set.GetOrCreateGauge(`rpkid_vrps_total`, func() float64 { return float64(len(vrps)) })
	set.GetOrCreateGauge(`rpkid_router_keys_total`, func() float64 { return float64(len(routerKeys)) })
	set.GetOrCreateGauge(`rpkid_aspas_total`, func() float64 { return float64(len(aspas)) })
	set.GetOrCreateGauge(`rpkid_rtr_sessions`, func() float64 { return float64(a.rtr.SessionCount()) })
	set.GetOrCreateGauge(`rpkid_rtr_serial`, func() float64 { return float64(a.rtr.Current().Serial) })

	for tal, st := range a.Set().Stats() {
		set.GetOrCreateGauge(`rpkid_tal_verified_total{tal="`+tal+`"}`, gaugeOf(st.Verified))
		set.GetOrCreateGauge(`rpkid_tal_unsafe_total{tal="`+tal+`"}`, gaugeOf(st.Unsafe))
		set.GetOrCreateGauge(`rpkid_tal_filtered_total{tal="`+tal+`"}`, gaugeOf(st.LocallyFiltered))
		set.GetOrCreateGauge(`rpkid_tal_duplicate_total{tal="`+tal+`"}`, gaugeOf(st.Duplicate))
	}

	set.WritePrometheus(w)
}

func gaugeOf(n int) func() float64 {
	return func() float64 { return float64(n) }
}
