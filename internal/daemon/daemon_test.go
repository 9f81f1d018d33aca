package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	talDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(talDir, "test.tal"), []byte(testTAL), 0o644))

	cfg := DefaultConfig()
	cfg.RepositoryDir = t.TempDir()
	cfg.TALDir = talDir
	cfg.NoRIRTALs = false
	cfg.ExtraTALsDir = ""
	cfg.RTRListen = "127.0.0.1:0"
	cfg.HTTPListen = "127.0.0.1:0"
	cfg.LogLevel = "disabled"
	// no network access in tests: disable both transports so the
	// collector fails fast on the single configured TAL URI instead of
	// blocking on an outbound connection.
	cfg.DisableRsync = true
	cfg.DisableRRDP = true

	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestNew_LoadsTALsAndWires(t *testing.T) {
	d := newTestDaemon(t)
	assert.Len(t, d.tals, 1)
	assert.Equal(t, "test", d.tals[0].Label)
	assert.NotNil(t, d.rtrSrv)
	assert.NotNil(t, d.api)
}

func TestNew_NoTALsFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepositoryDir = t.TempDir()
	cfg.TALDir = t.TempDir()
	cfg.LogLevel = "disabled"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRunOnce_PublishesEvenWhenTrustAnchorUnreachable(t *testing.T) {
	d := newTestDaemon(t)

	var complete bool
	err := d.runOnce(context.Background(), &complete)
	require.NoError(t, err)

	// the fixture TAL's trust anchor can never be fetched (fake key,
	// disabled transports), but runOnce must still publish a (empty)
	// set rather than erroring out of the refresh loop.
	assert.NotNil(t, d.current.Load())
	assert.Empty(t, d.current.Load().VRPs())
}

func TestReload_KeepsPreviousSetOnMissingTALs(t *testing.T) {
	d := newTestDaemon(t)
	before := d.tals

	d.cfg.TALDir = t.TempDir() // now empty
	d.cfg.ExtraTALsDir = ""
	var complete bool
	d.reload(context.Background(), &complete)

	assert.Equal(t, before, d.tals)
}
