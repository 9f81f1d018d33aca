package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bgpfix/rpkid/internal/collector"
	"github.com/bgpfix/rpkid/internal/httpapi"
	"github.com/bgpfix/rpkid/internal/objectstore"
	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/rtr"
	"github.com/bgpfix/rpkid/internal/slurm"
	"github.com/bgpfix/rpkid/internal/store"
	"github.com/bgpfix/rpkid/internal/validator"
)

// ErrComplete is returned by Run when --complete was set and at least
// one publication point failed to fetch during the final run — the
// caller maps this to exit code 2 (spec §6's exit code table).
var ErrComplete = errors.New("daemon: one or more publication points failed under --complete")

// Daemon owns every long-lived subsystem and the refresh loop that
// drives them, mirroring the teacher's Bgpipe: one struct per process,
// built once by New and driven to completion by Run.
type Daemon struct {
	cfg Config
	log zerolog.Logger

	archive *store.Archive
	objs    *objectstore.Store
	coll    *collector.Collector
	val     *validator.Validator
	slurm   *slurm.Processor
	rtrSrv  *rtr.Server
	api     *httpapi.API

	current atomic.Pointer[payloadset.Set]
	tals    []*rpki.TAL

	logFile *reopenableFile
}

// reopenableFile lets USR2 swap the underlying *os.File a zerolog
// logger writes through without rebuilding the logger (and losing the
// MultiLevelWriter/LogRing fan-out built once at startup).
type reopenableFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenable(path string) (*reopenableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &reopenableFile{path: path, f: f}, nil
}

func (r *reopenableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Write(p)
}

func (r *reopenableFile) Reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.f = f
	return nil
}

const Version = "rpkid/0"

// New builds every subsystem and wires them together. The daemon owns
// its own logger, built the same way the teacher's Bgpipe builds
// b.Logger — a zerolog.ConsoleWriter over stderr, or over an optional
// configured log file — fanned out to an httpapi.LogRing so /log
// captures every component's output from the very first line, not just
// what's logged after httpapi.New runs.
func New(cfg Config) (*Daemon, error) {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("daemon: parsing log level: %w", err)
	}

	ring := httpapi.NewLogRing(500)
	var logFile *reopenableFile
	var dest io.Writer = os.Stderr
	if cfg.LogFile != "" {
		logFile, err = openReopenable(cfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("daemon: opening log file %s: %w", cfg.LogFile, err)
		}
		dest = logFile
	}
	console := zerolog.ConsoleWriter{Out: dest, TimeFormat: time.RFC3339, NoColor: cfg.LogFile != ""}
	logger := zerolog.New(zerolog.MultiLevelWriter(console, ring)).With().Timestamp().Logger().Level(level)

	d := &Daemon{cfg: cfg, log: logger, logFile: logFile}

	archive, err := store.Open(cfg.RepositoryDir, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening archive: %w", err)
	}
	if cfg.Fresh {
		if err := archive.Fresh(); err != nil {
			return nil, fmt.Errorf("daemon: --fresh rebuild: %w", err)
		}
	}
	d.archive = archive
	d.objs = objectstore.New()
	d.coll = collector.New(cfg.collectorConfig(), archive, logger)
	d.val = validator.New(cfg.validatorConfig(), archive, d.objs, d.coll, logger)

	tals, err := LoadTALs(cfg)
	if err != nil {
		return nil, fmt.Errorf("daemon: loading TALs: %w", err)
	}
	if len(tals) == 0 {
		return nil, fmt.Errorf("daemon: no TALs configured")
	}
	d.tals = tals

	if len(cfg.Exceptions) > 0 {
		d.slurm = slurm.NewProcessor(cfg.Exceptions, logger)
	}

	rtrSrv, err := rtr.NewServer(cfg.rtrConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: starting RTR server: %w", err)
	}
	d.rtrSrv = rtrSrv
	d.current.Store(payloadset.New())
	d.api = httpapi.New(&d.current, rtrSrv, d.coll, Version, ring)

	return d, nil
}

// Explain summarizes the loaded configuration and TAL set for
// --explain, the same "print what you built and quit" shape as the
// teacher's own --explain flag.
func (d *Daemon) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "repository: %s\n", d.cfg.RepositoryDir)
	fmt.Fprintf(&b, "rtr listen: %s\n", d.cfg.RTRListen)
	fmt.Fprintf(&b, "http listen: %s\n", d.cfg.HTTPListen)
	fmt.Fprintf(&b, "refresh: %s\n", d.cfg.Refresh)
	fmt.Fprintf(&b, "trust anchors (%d):\n", len(d.tals))
	for _, tal := range d.tals {
		fmt.Fprintf(&b, "  %-12s %s\n", tal.Label, tal.URIs[0])
	}
	return b.String()
}

// Run drives the daemon until ctx is cancelled: it starts the RTR and
// HTTP listeners, runs validation immediately, then sleeps until the
// next scheduled refresh, a signal, or cancellation — never longer than
// cfg.Refresh (spec §4.H/§6: USR1 reloads TALs and revalidates, USR2
// reopens the log file).
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	httpSrv := &http.Server{Addr: d.cfg.HTTPListen, Handler: d.api.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Msg("daemon: http listener stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	if d.cfg.HTTPTLSListen != "" {
		d.log.Warn().Msg("daemon: http-tls-listen configured but no certificate source wired; skipping TLS listener")
	}

	rtrErrCh := make(chan error, 1)
	go func() {
		var tlsConfig *tls.Config
		rtrErrCh <- d.rtrSrv.ListenAndServe(ctx, tlsConfig)
	}()

	complete := false
	runErr := d.runOnce(ctx, &complete)
	if runErr != nil {
		return fmt.Errorf("daemon: initial validation run: %w", runErr)
	}

	for {
		wait := d.nextRefresh()
		select {
		case <-ctx.Done():
			<-rtrErrCh
			if d.cfg.Complete && complete {
				return ErrComplete
			}
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				d.reload(ctx, &complete)
			case syscall.SIGUSR2:
				d.reopenLog()
			}
		case <-time.After(wait):
			if err := d.runOnce(ctx, &complete); err != nil {
				d.log.Error().Err(err).Msg("daemon: validation run failed")
			}
		}
	}
}

// nextRefresh is cfg.Refresh, matching spec §5's scheduling note that a
// run happens "sleep refresh seconds or less if an object expires
// earlier" — the expiry-aware early wake is left to a future refinement
// since no currently-loaded object's expiry is tracked centrally yet.
func (d *Daemon) nextRefresh() time.Duration {
	if d.cfg.Refresh <= 0 {
		return time.Minute
	}
	return d.cfg.Refresh
}

// runOnce performs one full validation pass and publishes its result.
// *complete is cleared at the start of each run and set when any
// publication point failed to fetch in it, for --complete's exit-code-2
// decision at shutdown. A SLURM failure returns an error without
// publishing, so the previously published set stays in place.
func (d *Daemon) runOnce(ctx context.Context, complete *bool) error {
	start := time.Now()
	*complete = false
	result := d.val.Run(ctx, d.tals)

	set := payloadset.New()
	set.Fold(result)

	if d.slurm != nil {
		if err := d.slurm.Apply(set); err != nil {
			return fmt.Errorf("daemon: SLURM exceptions not applied, previous set kept: %w", err)
		}
	}

	for _, issue := range result.Issues {
		if issue.Kind == validator.IssueFetch {
			*complete = true
		}
		d.log.Warn().Str("kind", string(issue.Kind)).Str("tal", issue.TAL).Str("uri", issue.URI).Err(issue.Err).Msg("daemon: validation issue")
	}

	d.current.Store(set)
	d.rtrSrv.Publish(set)

	d.log.Info().Dur("duration", time.Since(start)).Int("issues", len(result.Issues)).Msg("daemon: validation run complete")
	return nil
}

// reload implements USR1: reload TALs, and only on success, revalidate
// immediately. A load failure leaves d.tals (and the previously
// published set) untouched (spec §7).
func (d *Daemon) reload(ctx context.Context, complete *bool) {
	tals, err := LoadTALs(d.cfg)
	if err != nil {
		d.log.Error().Err(err).Msg("daemon: USR1 reload: TAL load failed, keeping previous set")
		return
	}
	if len(tals) == 0 {
		d.log.Error().Msg("daemon: USR1 reload: no TALs found, keeping previous set")
		return
	}
	d.tals = tals
	d.log.Info().Int("tals", len(tals)).Msg("daemon: USR1 reload: TALs reloaded, revalidating")
	if err := d.runOnce(ctx, complete); err != nil {
		d.log.Error().Err(err).Msg("daemon: USR1 revalidation failed")
	}
}

// reopenLog implements USR2: close and reopen the configured log file
// at the same path, the standard logrotate-friendly daemon convention.
// A no-op when no --log-file was configured (stderr needs no reopening).
func (d *Daemon) reopenLog() {
	if d.logFile == nil {
		return
	}
	if err := d.logFile.Reopen(); err != nil {
		d.log.Error().Err(err).Msg("daemon: USR2: reopening log file")
		return
	}
	d.log.Info().Msg("daemon: USR2: log file reopened")
}
