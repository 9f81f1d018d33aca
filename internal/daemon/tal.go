package daemon

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// ParseTAL decodes one Trust Anchor Locator file (RFC 8630): comment
// lines (`#`), then URI lines, a blank line, then the base64-encoded
// SubjectPublicKeyInfo of the trust anchor.
func ParseTAL(label string, r io.Reader) (*rpki.TAL, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	tal := &rpki.TAL{Label: label}
	var b64 strings.Builder
	inKey := false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case line == "":
			inKey = true
			continue
		case !inKey:
			tal.URIs = append(tal.URIs, line)
		default:
			b64.WriteString(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("daemon: reading TAL %s: %w", label, err)
	}
	if len(tal.URIs) == 0 {
		return nil, fmt.Errorf("daemon: TAL %s: no URI lines", label)
	}
	if b64.Len() == 0 {
		return nil, fmt.Errorf("daemon: TAL %s: missing SubjectPublicKeyInfo block", label)
	}

	key, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return nil, fmt.Errorf("daemon: TAL %s: bad base64 SubjectPublicKeyInfo: %w", label, err)
	}
	tal.PublicKey = key
	return tal, nil
}

// LoadTALs reads every *.tal file from dir (the RIR set unless
// no-rir-tals is set) and extraDir (always included), labelling each by
// its filename stem. Daemon.reload, the USR1 handler, calls this again on
// reload; a load failure there leaves the previous TAL set in force
// (spec §7: "during runtime reload causes the run to be skipped with
// previous set retained").
func LoadTALs(cfg Config) ([]*rpki.TAL, error) {
	var files []string
	if !cfg.NoRIRTALs && cfg.TALDir != "" {
		found, err := talFiles(cfg.TALDir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if cfg.ExtraTALsDir != "" {
		found, err := talFiles(cfg.ExtraTALsDir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)

	tals := make([]*rpki.TAL, 0, len(files))
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("daemon: opening TAL file %s: %w", path, err)
		}
		label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		tal, err := ParseTAL(label, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		tals = append(tals, tal)
	}
	return tals, nil
}

func talFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("daemon: reading TAL directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tal") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
