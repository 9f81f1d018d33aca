// Package daemon wires every subsystem (archive, collector, validator,
// payloadset, slurm, rtr, httpapi) into a single long-running process:
// CLI/TOML configuration, the TAL bootstrap, the periodic refresh loop,
// and USR1/USR2 signal handling (spec §4.H, §6).
package daemon

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/bgpfix/rpkid/internal/collector"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/rtr"
	"github.com/bgpfix/rpkid/internal/validator"
)

// Config holds every option spec §6's configuration table names. TOML
// file values are loaded first, then CLI flags override them — the same
// precedence order the teacher's posflag wiring establishes for its own
// stage flags.
type Config struct {
	ConfigFile string

	RepositoryDir  string
	TALDir         string
	NoRIRTALs      bool
	ExtraTALsDir   string
	Exceptions     []string
	Strict         bool

	Stale          rpki.Policy
	UnsafeVRPs     rpki.Policy
	UnknownObjects rpki.Policy

	RRDPFallback        rpki.FallbackPolicy
	RRDPFallbackTime    time.Duration
	RRDPMaxDeltaCount   int
	RRDPMaxDeltaListLen int
	RRDPTimeout         time.Duration
	RsyncTimeout        time.Duration
	DisableRsync        bool
	DisableRRDP         bool

	MaxObjectSize int64
	MaxCADepth    int

	EnableBGPsec      bool
	EnableASPA        bool
	ASPAProviderLimit int

	LimitV4Len int
	LimitV6Len int

	Refresh     time.Duration
	Retry       time.Duration
	Expire      time.Duration
	HistorySize int

	RTRListen        string
	RTRTLSListen     string
	HTTPListen       string
	HTTPTLSListen    string
	RTRTCPKeepalive  time.Duration

	ValidationThreads int

	Fresh    bool
	Complete bool
	Explain  bool

	LogLevel string
	LogFile  string
}

func DefaultConfig() Config {
	return Config{
		RepositoryDir:       "/var/lib/rpkid",
		TALDir:              "/etc/rpkid/tals",
		Stale:               rpki.PolicyReject,
		UnsafeVRPs:          rpki.PolicyWarn,
		UnknownObjects:      rpki.PolicyWarn,
		RRDPFallback:        rpki.FallbackStale,
		RRDPFallbackTime:    time.Hour,
		RRDPMaxDeltaCount:   100,
		RRDPMaxDeltaListLen: 5000,
		RRDPTimeout:         300 * time.Second,
		RsyncTimeout:        300 * time.Second,
		MaxObjectSize:       20 << 20,
		MaxCADepth:          32,
		EnableBGPsec:        true,
		EnableASPA:          true,
		ASPAProviderLimit:   1000,
		LimitV4Len:          32,
		LimitV6Len:          128,
		Refresh:             10 * time.Minute,
		Retry:               10 * time.Minute,
		Expire:              2 * time.Hour,
		HistorySize:         10,
		RTRListen:           ":323",
		RTRTLSListen:        "",
		HTTPListen:          ":8080",
		RTRTCPKeepalive:     60 * time.Second,
		ValidationThreads:   4,
		LogLevel:            "info",
	}
}

// ParseFlags builds the CLI flag set, in the teacher's flag-naming and
// help-screen idiom (`core/config.go`'s addFlags/usage pair), and loads
// it over whatever TOML config file --config names.
func ParseFlags(args []string) (Config, error) {
	cfg := DefaultConfig()
	f := pflag.NewFlagSet("rpkid", pflag.ContinueOnError)
	f.SortFlags = false

	f.String("config", "", "path to a TOML config file")
	f.String("repository-dir", cfg.RepositoryDir, "archive root directory")
	f.String("tals", cfg.TALDir, "directory of trust anchor locator files")
	f.Bool("no-rir-tals", cfg.NoRIRTALs, "skip the bundled RIR TALs")
	f.String("extra-tals-dir", cfg.ExtraTALsDir, "additional TAL directory")
	f.StringSlice("exceptions", nil, "SLURM exception file(s)")
	f.Bool("strict", cfg.Strict, "reject any RFC deviation instead of tolerating it")

	f.String("stale", cfg.Stale.String(), "policy for stale manifests: reject|warn|accept")
	f.String("unsafe-vrps", cfg.UnsafeVRPs.String(), "policy for unsafe VRPs: reject|warn|accept")
	f.String("unknown-objects", cfg.UnknownObjects.String(), "policy for unknown objects: reject|warn|accept")

	f.String("rrdp-fallback", cfg.RRDPFallback.String(), "rsync fallback policy: never|stale|new")
	f.Duration("rrdp-fallback-time", cfg.RRDPFallbackTime, "how stale before falling back to rsync")
	f.Int("rrdp-max-delta-count", cfg.RRDPMaxDeltaCount, "max RRDP deltas applied before forcing a snapshot")
	f.Int("rrdp-max-delta-list-len", cfg.RRDPMaxDeltaListLen, "max RRDP delta list length accepted")
	f.Duration("rrdp-timeout", cfg.RRDPTimeout, "per-PP RRDP operation timeout")
	f.Duration("rsync-timeout", cfg.RsyncTimeout, "per-PP rsync operation timeout")
	f.Bool("disable-rsync", cfg.DisableRsync, "never use rsync")
	f.Bool("disable-rrdp", cfg.DisableRRDP, "never use RRDP")

	f.Int64("max-object-size", cfg.MaxObjectSize, "max accepted object size in bytes")
	f.Int("max-ca-depth", cfg.MaxCADepth, "max CA chain depth")

	f.Bool("enable-bgpsec", cfg.EnableBGPsec, "extract and serve router key payloads")
	f.Bool("enable-aspa", cfg.EnableASPA, "extract and serve ASPA payloads")
	f.Int("aspa-provider-limit", cfg.ASPAProviderLimit, "max providers accepted in one ASPA")

	f.Int("limit-v4-len", cfg.LimitV4Len, "max IPv4 prefix length accepted in a ROA")
	f.Int("limit-v6-len", cfg.LimitV6Len, "max IPv6 prefix length accepted in a ROA")

	f.Duration("refresh", cfg.Refresh, "time between validation runs")
	f.Duration("retry", cfg.Retry, "RTR end-of-data retry interval advertised to clients")
	f.Duration("expire", cfg.Expire, "RTR end-of-data expire interval advertised to clients")
	f.Int("history-size", cfg.HistorySize, "number of retained RTR delta generations")

	f.String("rtr-listen", cfg.RTRListen, "RTR plaintext listen address")
	f.String("rtr-tls-listen", cfg.RTRTLSListen, "RTR TLS listen address")
	f.String("http-listen", cfg.HTTPListen, "HTTP plaintext listen address")
	f.String("http-tls-listen", cfg.HTTPTLSListen, "HTTP TLS listen address")
	f.Duration("rtr-tcp-keepalive", cfg.RTRTCPKeepalive, "RTR TCP keepalive idle time")

	f.Int("validation-threads", cfg.ValidationThreads, "parallel CA validation workers")

	f.Bool("fresh", cfg.Fresh, "rebuild the archive from scratch before the first run")
	f.Bool("complete", cfg.Complete, "exit 2 if any PP fetch failed this run")
	f.BoolP("explain", "n", cfg.Explain, "print the loaded configuration and TAL set, then quit")

	f.StringP("log", "l", cfg.LogLevel, "log level (trace/debug/info/warn/error/disabled)")
	f.String("log-file", cfg.LogFile, "append log output to this file instead of stderr (USR2 reopens it)")

	if err := f.Parse(args); err != nil {
		return cfg, err
	}

	k := koanf.New(".")
	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return cfg, fmt.Errorf("daemon: reading %s: %w", path, err)
		}
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return cfg, err
	}

	return fromKoanf(k, cfg)
}

// fromKoanf copies k's merged values (TOML file, overridden by CLI
// flags) into cfg, parsing the string-enum options through the shared
// rpki parsers rather than re-implementing them here.
func fromKoanf(k *koanf.Koanf, cfg Config) (Config, error) {
	cfg.ConfigFile = k.String("config")
	cfg.RepositoryDir = k.String("repository-dir")
	cfg.TALDir = k.String("tals")
	cfg.NoRIRTALs = k.Bool("no-rir-tals")
	cfg.ExtraTALsDir = k.String("extra-tals-dir")
	cfg.Exceptions = k.Strings("exceptions")
	cfg.Strict = k.Bool("strict")

	var err error
	if cfg.Stale, err = rpki.ParsePolicy(k.String("stale")); err != nil {
		return cfg, err
	}
	if cfg.UnsafeVRPs, err = rpki.ParsePolicy(k.String("unsafe-vrps")); err != nil {
		return cfg, err
	}
	if cfg.UnknownObjects, err = rpki.ParsePolicy(k.String("unknown-objects")); err != nil {
		return cfg, err
	}
	if cfg.RRDPFallback, err = rpki.ParseFallbackPolicy(k.String("rrdp-fallback")); err != nil {
		return cfg, err
	}

	cfg.RRDPFallbackTime = k.Duration("rrdp-fallback-time")
	cfg.RRDPMaxDeltaCount = k.Int("rrdp-max-delta-count")
	cfg.RRDPMaxDeltaListLen = k.Int("rrdp-max-delta-list-len")
	cfg.RRDPTimeout = k.Duration("rrdp-timeout")
	cfg.RsyncTimeout = k.Duration("rsync-timeout")
	cfg.DisableRsync = k.Bool("disable-rsync")
	cfg.DisableRRDP = k.Bool("disable-rrdp")

	cfg.MaxObjectSize = k.Int64("max-object-size")
	cfg.MaxCADepth = k.Int("max-ca-depth")

	cfg.EnableBGPsec = k.Bool("enable-bgpsec")
	cfg.EnableASPA = k.Bool("enable-aspa")
	cfg.ASPAProviderLimit = k.Int("aspa-provider-limit")

	cfg.LimitV4Len = k.Int("limit-v4-len")
	cfg.LimitV6Len = k.Int("limit-v6-len")

	cfg.Refresh = k.Duration("refresh")
	cfg.Retry = k.Duration("retry")
	cfg.Expire = k.Duration("expire")
	cfg.HistorySize = k.Int("history-size")

	cfg.RTRListen = k.String("rtr-listen")
	cfg.RTRTLSListen = k.String("rtr-tls-listen")
	cfg.HTTPListen = k.String("http-listen")
	cfg.HTTPTLSListen = k.String("http-tls-listen")
	cfg.RTRTCPKeepalive = k.Duration("rtr-tcp-keepalive")

	cfg.ValidationThreads = k.Int("validation-threads")

	cfg.Fresh = k.Bool("fresh")
	cfg.Complete = k.Bool("complete")
	cfg.Explain = k.Bool("explain")
	cfg.LogLevel = k.String("log")
	cfg.LogFile = k.String("log-file")

	return cfg, nil
}

// collectorConfig projects the daemon config onto collector.Config.
func (c Config) collectorConfig() collector.Config {
	return collector.Config{
		RRDPTimeout:         c.RRDPTimeout,
		RsyncTimeout:        c.RsyncTimeout,
		MaxObjectSize:       c.MaxObjectSize,
		DisableRsync:        c.DisableRsync,
		DisableRRDP:         c.DisableRRDP,
		RRDPFallback:        c.RRDPFallback,
		RRDPFallbackTime:    c.RRDPFallbackTime,
		Refresh:             c.Refresh,
		RRDPMaxDeltaCount:   c.RRDPMaxDeltaCount,
		RRDPMaxDeltaListLen: c.RRDPMaxDeltaListLen,
	}
}

// validatorConfig projects the daemon config onto validator.Config.
func (c Config) validatorConfig() validator.Config {
	return validator.Config{
		StalePolicy:          c.Stale,
		UnsafeVRPPolicy:      c.UnsafeVRPs,
		UnknownObjectsPolicy: c.UnknownObjects,
		DecodeMode:           decodeMode(c.Strict),
		MaxCADepth:           c.MaxCADepth,
		ValidationThreads:    c.ValidationThreads,
		EnableBGPsec:         c.EnableBGPsec,
		EnableASPA:           c.EnableASPA,
		ASPAProviderLimit:    c.ASPAProviderLimit,
		LimitV4Len:           c.LimitV4Len,
		LimitV6Len:           c.LimitV6Len,
		RsyncTimeout:         c.RsyncTimeout,
		TALFetchTimeout:      c.RRDPTimeout,
	}
}

func decodeMode(strict bool) rpki.DecodeMode {
	if strict {
		return rpki.DecodeStrict
	}
	return rpki.DecodeRelaxed
}

// rtrConfig projects the daemon config onto rtr.Config.
func (c Config) rtrConfig() rtr.Config {
	return rtr.Config{
		ListenAddr:    c.RTRListen,
		TLSListenAddr: c.RTRTLSListen,
		HistorySize:   c.HistorySize,
		KeepAlive:     c.RTRTCPKeepalive,
		EnableBGPsec:  c.EnableBGPsec,
		EnableASPA:    c.EnableASPA,
		Refresh:       c.Refresh,
		Retry:         c.Retry,
		Expire:        c.Expire,
		SendRate:      1000,
	}
}

func parseLogLevel(s string) (zerolog.Level, error) {
	return zerolog.ParseLevel(s)
}
