// Package validator performs the depth-first CA tree walk (spec 4.D): per
// publication point, fetches and validates the current manifest and CRL,
// decodes and checks every listed object under the CA's key and resource
// set, and extracts payloads from whatever survives. It is the only
// component that touches internal/certdecode directly.
package validator

import (
	"time"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// Config holds the validator's CLI/TOML-sourced knobs (spec §6).
type Config struct {
	StalePolicy          rpki.Policy
	UnsafeVRPPolicy       rpki.Policy
	UnknownObjectsPolicy  rpki.Policy
	DecodeMode            rpki.DecodeMode
	MaxCADepth            int
	ValidationThreads     int
	EnableBGPsec          bool
	EnableASPA            bool
	ASPAProviderLimit     int
	LimitV4Len            int
	LimitV6Len            int
	RsyncTimeout          time.Duration
	TALFetchTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		StalePolicy:          rpki.PolicyReject,
		UnsafeVRPPolicy:      rpki.PolicyWarn,
		UnknownObjectsPolicy: rpki.PolicyWarn,
		DecodeMode:           rpki.DecodeStrict,
		MaxCADepth:           32,
		ValidationThreads:    4,
		EnableBGPsec:         true,
		EnableASPA:           true,
		ASPAProviderLimit:    1000,
		LimitV4Len:           32,
		LimitV6Len:           128,
		RsyncTimeout:         300 * time.Second,
		TALFetchTimeout:      30 * time.Second,
	}
}
