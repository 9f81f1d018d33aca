package rtr

import "time"

// Config holds the subset of the daemon's configuration the RTR engine
// needs (spec §6 "Configuration": `history-size`, `rtr-listen`,
// `rtr-tls-listen`, `rtr-tcp-keepalive`, `enable-bgpsec`, `enable-aspa`,
// `refresh`, `retry`, `expire`).
type Config struct {
	ListenAddr    string // "" disables the plain-TCP listener
	TLSListenAddr string // "" disables the TLS listener

	HistorySize int // bounded delta ring depth, default 10
	KeepAlive   time.Duration // TCP keepalive idle time, default 60s

	EnableBGPsec bool // gate router-key PDUs on negotiated v1 sessions
	EnableASPA   bool // gate ASPA PDUs on negotiated v1 sessions

	// Refresh/Retry/Expire populate the End Of Data PDU's v1 timers
	// (RFC 8210 §5.9), advising the router how often to poll and when
	// to consider the cache gone if it can't reach it.
	Refresh time.Duration
	Retry   time.Duration
	Expire  time.Duration

	// SendRate bounds outbound PDUs per session per second (0 disables
	// the limiter). Protects a slow client's backlog from growing
	// unbounded when the server has many queued deltas to replay.
	SendRate float64
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":323",
		HistorySize: 10,
		KeepAlive:   60 * time.Second,
		Refresh:     3600 * time.Second,
		Retry:       600 * time.Second,
		Expire:      7200 * time.Second,
		SendRate:    1000,
	}
}
