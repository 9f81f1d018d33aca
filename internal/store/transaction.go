package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Transaction batches Put/Delete operations against one PP's archive.
// Nothing touches disk until Commit, so Rollback (or simply abandoning the
// Transaction) never leaves a trace — the crash-atomicity story reduces to
// "Commit either finishes or it didn't happen".
type Transaction struct {
	h       *Handle
	base    map[string]struct{} // uris present before this transaction
	pending map[string][]byte   // uri -> new content, nil entry means delete
	done    bool
}

// Begin starts a transaction, taking the per-PP exclusion lock until
// Commit or Rollback releases it.
func (h *Handle) Begin() (*Transaction, error) {
	h.mu.Lock()
	base, err := h.readIndex()
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	set := make(map[string]struct{}, len(base))
	for _, u := range base {
		set[u] = struct{}{}
	}
	return &Transaction{h: h, base: set, pending: make(map[string][]byte)}, nil
}

// Put stages a write of uri -> data. Visible to readers only after Commit.
func (t *Transaction) Put(uri string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	t.pending[uri] = buf
}

// Delete stages removal of uri.
func (t *Transaction) Delete(uri string) {
	t.pending[uri] = nil
}

// Get reads either a value staged in this transaction, or (if untouched)
// the committed value — so a transaction sees its own writes.
func (t *Transaction) Get(uri string) ([]byte, bool, error) {
	if v, ok := t.pending[uri]; ok {
		if v == nil {
			return nil, false, nil
		}
		return v, true, nil
	}
	return t.h.Get(uri)
}

// Rollback discards all staged writes and releases the lock.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.h.mu.Unlock()
}

// Commit writes every staged object file (temp file + rename, atomic on
// the same filesystem), then atomically swaps the index file that lists
// which URIs the PP currently holds. A crash before the index rename
// leaves the PP in its pre-transaction state; after, in its
// post-transaction state. There is no state in between.
func (t *Transaction) Commit() (err error) {
	if t.done {
		return fmt.Errorf("store: transaction already closed")
	}
	defer func() {
		t.done = true
		t.h.mu.Unlock()
	}()

	for uri, data := range t.pending {
		if data == nil {
			continue // deletions don't need a file write
		}
		if err = writeFileAtomic(uriPath(t.h.dir, uri), encode(data)); err != nil {
			return fmt.Errorf("store: commit %s: %w", uri, err)
		}
	}

	final := make(map[string]struct{}, len(t.base))
	for u := range t.base {
		final[u] = struct{}{}
	}
	for uri, data := range t.pending {
		if data == nil {
			delete(final, uri)
		} else {
			final[uri] = struct{}{}
		}
	}

	if err = t.h.writeIndex(final); err != nil {
		return fmt.Errorf("store: commit index: %w", err)
	}

	// best-effort: remove object files no longer referenced by any URI.
	for uri, data := range t.pending {
		if data == nil {
			_ = os.Remove(uriPath(t.h.dir, uri))
		}
	}

	return nil
}

func indexPath(dir string) string { return filepath.Join(dir, "index") }

func (h *Handle) readIndex() ([]string, error) {
	f, err := os.Open(indexPath(h.dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var uris []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			uris = append(uris, line)
		}
	}
	return uris, sc.Err()
}

func (h *Handle) writeIndex(set map[string]struct{}) error {
	uris := make([]string, 0, len(set))
	for u := range set {
		uris = append(uris, u)
	}
	sort.Strings(uris)

	var buf []byte
	for _, u := range uris {
		buf = append(buf, u...)
		buf = append(buf, '\n')
	}
	return writeFileAtomic(indexPath(h.dir), buf)
}

// ListURIs returns the URIs currently visible outside any transaction.
func (h *Handle) ListURIs() ([]string, error) {
	return h.readIndex()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
