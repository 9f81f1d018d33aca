package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bgpfix/rpkid/internal/rpki"
)

// fetchRsync mirrors one rsync module into a scratch directory, then walks
// the result into the PP's archive as a single transaction — giving rsync
// the same "replace wholesale, atomically" semantics as an RRDP snapshot.
func (c *Collector) fetchRsync(ctx context.Context, pp rpki.PPID) (changed bool, err error) {
	if err := checkRsyncDubiousHost(pp.Authority, c.cfg.AllowDubiousHosts); err != nil {
		return false, err
	}

	scratch, err := os.MkdirTemp("", "rpkid-rsync-*")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(scratch)

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RsyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, "rsync", "-rltz", "--delete", pp.Authority, scratch+"/")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return false, err
	}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("collector: rsync start: %w", err)
	}
	go c.logPipe(pp, "stdout", stdout)
	go c.logPipe(pp, "stderr", stderr)

	if err := cmd.Wait(); err != nil {
		return false, fmt.Errorf("collector: rsync %s: %w", pp.Authority, err)
	}

	return c.ingestRsyncTree(pp, scratch)
}

func (c *Collector) logPipe(pp rpki.PPID, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		c.log.Debug().Str("pp", pp.Authority).Str("stream", stream).Msg(sc.Text())
	}
}

// ingestRsyncTree walks the mirrored tree and replaces the PP's archive
// contents wholesale, in one transaction — an interrupted walk simply never
// commits, leaving the prior archive state intact.
func (c *Collector) ingestRsyncTree(pp rpki.PPID, root string) (bool, error) {
	h, err := c.archive.Handle(pp)
	if err != nil {
		return false, err
	}
	existing, err := h.ListURIs()
	if err != nil {
		return false, err
	}

	tx, err := h.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	keep := make(map[string]struct{})
	changed := false

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		uri := "rsync://" + strings.TrimPrefix(pp.Authority, "rsync://") + "/" + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if c.cfg.MaxObjectSize > 0 && info.Size() > c.cfg.MaxObjectSize {
			return fmt.Errorf("%w: %s", ErrObjectTooLarge, uri)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tx.Put(uri, data)
		keep[uri] = struct{}{}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, uri := range existing {
		if _, ok := keep[uri]; !ok {
			tx.Delete(uri)
			changed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return changed, nil
}
