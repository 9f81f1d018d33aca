// Package collector drives RRDP and rsync fetchers, maintains per-PP cache
// freshness, and applies the rsync fallback policy (spec 4.B). It never
// aborts a run: every failure is reported per-PP so the validator can fall
// back to whatever the archive already holds.
package collector

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/store"
)

// Config holds the collector's CLI/TOML-sourced knobs (spec §6).
type Config struct {
	RRDPTimeout         time.Duration
	RsyncTimeout        time.Duration
	MaxObjectSize       int64
	AllowDubiousHosts   bool
	DisableRsync        bool
	DisableRRDP         bool
	RRDPFallback        rpki.FallbackPolicy
	RRDPFallbackTime    time.Duration
	Refresh             time.Duration
	RRDPMaxDeltaCount   int
	RRDPMaxDeltaListLen int
}

func DefaultConfig() Config {
	return Config{
		RRDPTimeout:         300 * time.Second,
		RsyncTimeout:        300 * time.Second,
		MaxObjectSize:       20 << 20,
		RRDPFallback:        rpki.FallbackStale,
		RRDPFallbackTime:    time.Hour,
		Refresh:             10 * time.Minute,
		RRDPMaxDeltaCount:   100,
		RRDPMaxDeltaListLen: 5000,
	}
}

// Report is the per-PP outcome of one Fetch call — never a fatal error for
// the run, per spec §7's "Collector" error kind.
type Report struct {
	PP       rpki.PPID
	Method   rpki.AccessMethod // method actually used (may differ: rsync fallback)
	Changed  bool
	Err      error
	Duration time.Duration
}

// Collector coordinates fetching for every publication point touched
// during a run.
type Collector struct {
	log     zerolog.Logger
	cfg     Config
	archive *store.Archive
	client  *http.Client

	states    *xsync.Map[rpki.PPID, *ppState]
	limiters  *xsync.Map[rpki.PPID, *rate.Limiter]
	randSeed  func() float64 // injected for deterministic tests
}

func New(cfg Config, archive *store.Archive, log zerolog.Logger) *Collector {
	return &Collector{
		log:      log.With().Str("component", "collector").Logger(),
		cfg:      cfg,
		archive:  archive,
		client:   newRRDPClient(cfg.RRDPTimeout),
		states:   xsync.NewMap[rpki.PPID, *ppState](),
		limiters: xsync.NewMap[rpki.PPID, *rate.Limiter](),
		randSeed: defaultRand,
	}
}

func (c *Collector) stateFor(pp rpki.PPID) *ppState {
	st, _ := c.states.LoadOrStore(pp, &ppState{})
	return st
}

// limiterFor bounds how often we hit one authority's network endpoint,
// regardless of how many times it's referenced during a validation run.
func (c *Collector) limiterFor(pp rpki.PPID) *rate.Limiter {
	l, _ := c.limiters.LoadOrStore(pp, rate.NewLimiter(rate.Every(time.Second), 1))
	return l
}

// Status returns a snapshot of the collector's bookkeeping for pp, for the
// status/metrics HTTP endpoints.
func (c *Collector) Status(pp rpki.PPID) (PPStatus, bool) {
	st, ok := c.states.Load(pp)
	if !ok {
		return PPStatus{}, false
	}
	return st.status(), true
}

// AllStatus snapshots bookkeeping for every PP touched so far, keyed by
// PPID, for the `/status` and `/api/v1/status` HTTP endpoints.
func (c *Collector) AllStatus() map[rpki.PPID]PPStatus {
	out := make(map[rpki.PPID]PPStatus)
	c.states.Range(func(pp rpki.PPID, st *ppState) bool {
		out[pp] = st.status()
		return true
	})
	return out
}

// Fetch updates the archive for pp, choosing RRDP, rsync, or both according
// to the fallback policy, and never returns an error that should abort the
// run — failures are carried in Report.Err.
func (c *Collector) Fetch(ctx context.Context, pp rpki.PPID) Report {
	start := time.Now()
	st := c.stateFor(pp)

	if err := c.limiterFor(pp).Wait(ctx); err != nil {
		return Report{PP: pp, Err: err, Duration: time.Since(start)}
	}

	switch pp.Method {
	case rpki.AccessRsync:
		return c.fetchRsyncOnly(ctx, pp, st, start)
	default:
		return c.fetchWithFallback(ctx, pp, st, start)
	}
}

func (c *Collector) fetchRsyncOnly(ctx context.Context, pp rpki.PPID, st *ppState, start time.Time) Report {
	if c.cfg.DisableRsync {
		return Report{PP: pp, Method: rpki.AccessRsync, Err: ErrRsyncDisabled, Duration: time.Since(start)}
	}
	changed, err := c.fetchRsync(ctx, pp)
	c.recordRsyncAttempt(st, err)
	return Report{PP: pp, Method: rpki.AccessRsync, Changed: changed, Err: err, Duration: time.Since(start)}
}

func (c *Collector) fetchWithFallback(ctx context.Context, pp rpki.PPID, st *ppState, start time.Time) Report {
	var rrdpErr error
	changed := false

	if !c.cfg.DisableRRDP {
		changed, rrdpErr = c.fetchRRDP(ctx, pp, st)
		if rrdpErr == nil {
			return Report{PP: pp, Method: rpki.AccessRRDP, Changed: changed, Duration: time.Since(start)}
		}
	}

	if c.cfg.DisableRsync || !c.shouldFallback(st) {
		return Report{PP: pp, Method: rpki.AccessRRDP, Err: rrdpErr, Duration: time.Since(start)}
	}

	c.log.Warn().Stringer("pp", logPP(pp)).Err(rrdpErr).Msg("falling back to rsync")
	changed, err := c.fetchRsync(ctx, pp)
	c.recordRsyncAttempt(st, err)
	if err != nil {
		// surface the original RRDP error too: both transports failed.
		err = joinErrs(rrdpErr, err)
	}
	return Report{PP: pp, Method: rpki.AccessRsync, Changed: changed, Err: err, Duration: time.Since(start)}
}

func (c *Collector) recordRsyncAttempt(st *ppState, err error) {
	st.mu.Lock()
	st.lastRsyncTry = time.Now()
	if err != nil {
		st.consecutiveFailures++
	} else {
		st.consecutiveFailures = 0
	}
	st.mu.Unlock()
}

func defaultRand() float64 { return rand.Float64() }

type ppStringer rpki.PPID

func logPP(pp rpki.PPID) ppStringer { return ppStringer(pp) }
func (p ppStringer) String() string { return rpki.PPID(p).String() }
