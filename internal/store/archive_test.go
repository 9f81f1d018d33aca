package store

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/rpki"
)

func testPP() rpki.PPID {
	return rpki.PPID{Method: rpki.AccessRRDP, Authority: "rrdp.example.net/notification.xml"}
}

func TestArchiveCommitIsAtomic(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)

	h, err := a.Handle(testPP())
	require.NoError(t, err)

	// first object, committed.
	tx, err := h.Begin()
	require.NoError(t, err)
	tx.Put("rsync://example.net/a.cer", []byte("cert-a"))
	require.NoError(t, tx.Commit())

	data, ok, err := h.Get("rsync://example.net/a.cer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("cert-a"), data)

	// a second transaction that is rolled back must not be visible.
	tx2, err := h.Begin()
	require.NoError(t, err)
	tx2.Put("rsync://example.net/b.cer", []byte("cert-b"))
	tx2.Delete("rsync://example.net/a.cer")
	tx2.Rollback()

	_, ok, err = h.Get("rsync://example.net/b.cer")
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write must not be visible")

	data, ok, err = h.Get("rsync://example.net/a.cer")
	require.NoError(t, err)
	require.True(t, ok, "rollback must not undo a prior commit")
	require.Equal(t, []byte("cert-a"), data)
}

func TestArchiveCorruptRead(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	h, err := a.Handle(testPP())
	require.NoError(t, err)

	tx, err := h.Begin()
	require.NoError(t, err)
	tx.Put("rsync://example.net/a.cer", []byte("cert-a"))
	require.NoError(t, tx.Commit())

	// flip a byte inside the stored object to simulate bitrot.
	p := uriPath(h.dir, "rsync://example.net/a.cer")
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	raw[5] ^= 0xff
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	_, found, err := h.Get("rsync://example.net/a.cer")
	require.True(t, found)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestTransactionSeesOwnWrites(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	h, err := a.Handle(testPP())
	require.NoError(t, err)

	tx, err := h.Begin()
	require.NoError(t, err)
	tx.Put("rsync://example.net/a.cer", []byte("cert-a"))
	data, ok, err := tx.Get("rsync://example.net/a.cer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("cert-a"), data)
	tx.Rollback()
}

func TestFreshRebuild(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	h, err := a.Handle(testPP())
	require.NoError(t, err)
	tx, err := h.Begin()
	require.NoError(t, err)
	tx.Put("rsync://example.net/a.cer", []byte("cert-a"))
	require.NoError(t, tx.Commit())

	require.NoError(t, a.Fresh())

	h2, err := a.Handle(testPP())
	require.NoError(t, err)
	uris, err := h2.ListURIs()
	require.NoError(t, err)
	require.Empty(t, uris)
}
