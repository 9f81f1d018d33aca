package validator

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// fetchTALRoot retrieves the trust anchor certificate from the TAL's URI
// list, in order, stopping at the first that succeeds (spec 4.D bootstrap
// step 1). It deliberately bypasses the collector/archive machinery: a TAL
// root is a single object fetch, not a repository sync.
func (v *Validator) fetchTALRoot(ctx context.Context, tal *rpki.TAL) ([]byte, error) {
	var lastErr error
	for _, uri := range tal.URIs {
		der, err := v.fetchSingleObject(ctx, uri)
		if err != nil {
			lastErr = err
			continue
		}
		return der, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("validator: TAL %s: no URIs configured", tal.Label)
	}
	return nil, fmt.Errorf("validator: TAL %s: all root URIs failed: %w", tal.Label, lastErr)
}

func (v *Validator) fetchSingleObject(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return v.fetchHTTPObject(ctx, uri)
	case strings.HasPrefix(uri, "rsync://"):
		return v.fetchRsyncObject(ctx, uri)
	default:
		return nil, fmt.Errorf("validator: unsupported TAL URI scheme: %q", uri)
	}
}

func (v *Validator) fetchHTTPObject(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %s", uri, resp.Status)
	}
	const cap = 1 << 20 // a root certificate is tiny; 1MB is generous headroom
	body, err := io.ReadAll(io.LimitReader(resp.Body, cap))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// fetchRsyncObject copies just the one named file with rsync into a
// scratch directory and reads it back.
func (v *Validator) fetchRsyncObject(ctx context.Context, uri string) ([]byte, error) {
	scratch, err := os.MkdirTemp("", "rpkid-tal-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	rctx, cancel := context.WithTimeout(ctx, v.cfg.RsyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, "rsync", "-tz", uri, scratch+"/root.cer")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rsync %s: %w", uri, err)
	}
	return os.ReadFile(filepath.Join(scratch, "root.cer"))
}

// derivePP determines which publication point a CA's issued objects live
// under: the RRDP notify URI if the CA advertises one, else its rsync
// repository URI — the same precedence a collector-driven RP gives RRDP
// over rsync when both are available.
func derivePP(siaNotify, siaRepo string) (rpki.PPID, error) {
	switch {
	case siaNotify != "":
		return rpki.PPID{Method: rpki.AccessRRDP, Authority: siaNotify}, nil
	case siaRepo != "":
		return rpki.PPID{Method: rpki.AccessRsync, Authority: siaRepo}, nil
	default:
		return rpki.PPID{}, fmt.Errorf("validator: certificate has no usable SIA repository access")
	}
}

// matchesPinnedKey reports whether the fetched root's SubjectPublicKeyInfo
// equals the TAL's pinned key, byte for byte (spec 4.D bootstrap step 2).
// tal.PublicKey is already decoded to DER by the TAL file parser.
func matchesPinnedKey(cert *x509.Certificate, pinned []byte) bool {
	return string(cert.RawSubjectPublicKeyInfo) == string(pinned)
}
