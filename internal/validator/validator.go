package validator

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bgpfix/rpkid/internal/certdecode"
	"github.com/bgpfix/rpkid/internal/collector"
	"github.com/bgpfix/rpkid/internal/objectstore"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/store"
)

// Fetcher is the subset of *collector.Collector the validator needs: bring
// a PP's archive up to date before reading it. Declared here rather than
// imported as a concrete type only to keep the dependency direction
// explicit (validator depends on collector, never the reverse).
type Fetcher interface {
	Fetch(ctx context.Context, pp rpki.PPID) collector.Report
}

// Validator performs the depth-first CA tree walk (spec 4.D).
type Validator struct {
	log      zerolog.Logger
	cfg      Config
	archive  *store.Archive
	objStore *objectstore.Store
	decoder  certdecode.Decoder
	fetcher  Fetcher

	httpClient *http.Client
	sem        chan struct{}
}

func New(cfg Config, archive *store.Archive, objStore *objectstore.Store, fetcher Fetcher, log zerolog.Logger) *Validator {
	threads := cfg.ValidationThreads
	if threads <= 0 {
		threads = 1
	}
	return &Validator{
		log:        log.With().Str("component", "validator").Logger(),
		cfg:        cfg,
		archive:    archive,
		objStore:   objStore,
		decoder:    certdecode.Default(),
		fetcher:    fetcher,
		httpClient: &http.Client{Timeout: cfg.TALFetchTimeout},
		sem:        make(chan struct{}, threads),
	}
}

// runAcc accumulates a Run's output across every goroutine in the walk.
type runAcc struct {
	mu       sync.Mutex
	result   *Result
	rejected []rejectedCA
}

func (a *runAcc) addIssue(i Issue) {
	a.mu.Lock()
	a.result.Issues = append(a.result.Issues, i)
	a.mu.Unlock()
}

func (a *runAcc) addPayloads(tal string, payloads []rpki.Payload) {
	a.mu.Lock()
	a.result.Payloads = append(a.result.Payloads, payloads...)
	a.result.stats(tal).Verified += len(payloads)
	a.mu.Unlock()
}

func (a *runAcc) addRejected(resources rpki.ResourceSet) {
	a.mu.Lock()
	a.rejected = append(a.rejected, rejectedCA{Resources: resources})
	a.mu.Unlock()
}

// Run walks every configured TAL's forest to completion and returns the
// combined, unsafe-VRP-filtered result. Trust anchors and sibling CAs are
// validated in parallel, bounded by cfg.ValidationThreads (spec 4.D).
func (v *Validator) Run(ctx context.Context, tals []*rpki.TAL) *Result {
	acc := &runAcc{result: newResult()}
	var wg sync.WaitGroup

	for _, tal := range tals {
		wg.Add(1)
		go func(tal *rpki.TAL) {
			defer wg.Done()
			v.sem <- struct{}{}
			defer func() { <-v.sem }()
			v.bootstrapTAL(ctx, tal, acc, &wg)
		}(tal)
	}
	wg.Wait()

	applyUnsafeVRPPolicy(acc.result, acc.rejected, v.cfg.UnsafeVRPPolicy)
	return acc.result
}

// bootstrapTAL fetches and pins the trust anchor, then enters the regular
// per-CA walk treating the root exactly like any other CA (spec 4.D steps
// 1-3): fetch from the listed URIs in order, verify the pinned key, recurse.
func (v *Validator) bootstrapTAL(ctx context.Context, tal *rpki.TAL, acc *runAcc, wg *sync.WaitGroup) {
	der, err := v.fetchTALRoot(ctx, tal)
	if err != nil {
		acc.addIssue(Issue{Kind: IssueTrustAnchor, TAL: tal.Label, Err: err})
		return
	}

	info, err := v.decoder.ParseCertificate(der, v.cfg.DecodeMode)
	if err != nil {
		acc.addIssue(Issue{Kind: IssueTrustAnchor, TAL: tal.Label, Err: err})
		return
	}
	if !matchesPinnedKey(info.Cert, tal.PublicKey) {
		acc.addIssue(Issue{Kind: IssueTrustAnchor, TAL: tal.Label, Err: errMismatchedKey})
		return
	}

	v.processNode(ctx, tal, info.Cert, info.Resources, info, 0, acc, wg)
}

var errMismatchedKey = errors.New("validator: root certificate key does not match TAL pinned key")
