package httpapi

import (
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bgpfix/rpkid/internal/collector"
	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rtr"
)

// API ties the HTTP surface (spec §6) to the daemon's live state: the
// atomically-swapped published set, the RTR server (for session count,
// serial, and the json-delta feed), and the collector (for per-PP
// status). Every handler reads through these; none of them block a
// validation run.
type API struct {
	current *atomic.Pointer[payloadset.Set]
	rtr     *rtr.Server
	coll    *collector.Collector
	log     *LogRing

	version   string
	startedAt time.Time
}

// New builds an API bound to a live daemon. current must already hold a
// non-nil *payloadset.Set (an empty one is fine before the first run).
// ring is typically wired into the daemon's own logger before New is
// called, so /log captures every component's output from startup.
func New(current *atomic.Pointer[payloadset.Set], rtrSrv *rtr.Server, coll *collector.Collector, version string, ring *LogRing) *API {
	return &API{
		current:   current,
		rtr:       rtrSrv,
		coll:      coll,
		log:       ring,
		version:   version,
		startedAt: time.Now(),
	}
}

// Set returns the currently published payload set.
func (a *API) Set() *payloadset.Set { return a.current.Load() }

// LogWriter returns an io.Writer the daemon should fan its zerolog
// output into (e.g. via zerolog.MultiLevelWriter alongside the real log
// destination) so that /log has something to tail.
func (a *API) LogWriter() io.Writer { return a.log }

// Router mounts every path spec §6 names.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/metrics", a.handleMetrics)
	r.Get("/status", a.handleStatusText)
	r.Get("/version", a.handleVersion)
	r.Get("/log", a.handleLog)

	r.Get("/api/v1/status", a.handleStatusJSON)
	r.Get("/api/v1/validity/{asn}/*", a.handleValidityPath) // the prefix itself contains a '/'
	r.Get("/validity", a.handleValidityQuery)
	r.Post("/validity", a.handleValidityQuery)

	r.Get("/json-delta", a.handleJSONDelta)
	r.Get("/json-delta/notify", a.handleJSONDeltaNotify)

	for name, fn := range formatters {
		r.Get("/"+name, a.handleFormat(fn))
	}

	return r
}

func (a *API) handleFormat(fn Formatter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := ParseFilter(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contentType, body := fn(Render(a.Set(), f, time.Now()))
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}
}
