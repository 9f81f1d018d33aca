package collector

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// checkDubiousHost rejects URIs that point at localhost, an IP literal, or
// carry an explicit port, unless allowDubious is set — per spec 4.B, these
// are almost always misconfiguration rather than a legitimate repository.
func checkDubiousHost(rawURL string, allowDubious bool) error {
	if allowDubious {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("collector: parse %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: %q has no host", ErrDubiousHost, rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: %q is localhost", ErrDubiousHost, rawURL)
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: %q is an IP literal", ErrDubiousHost, rawURL)
	}
	if u.Port() != "" {
		return fmt.Errorf("%w: %q has an explicit port", ErrDubiousHost, rawURL)
	}
	return nil
}

// checkRsyncDubiousHost applies the same rule to an rsync:// module URL,
// which url.Parse handles fine since rsync:// is a regular authority-form URI.
func checkRsyncDubiousHost(rawURL string, allowDubious bool) error {
	return checkDubiousHost(rawURL, allowDubious)
}

// limitedReader-style cap check: used after reading a body with an
// io.LimitReader(r, maxSize+1) so we can tell "exactly at the cap" apart
// from "over the cap" without buffering unbounded data first.
func enforceSize(n int64, max int64) error {
	if max > 0 && n > max {
		return fmt.Errorf("%w: %d bytes", ErrObjectTooLarge, n)
	}
	return nil
}
