package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/rpki"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := ParseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().RepositoryDir, cfg.RepositoryDir)
	assert.Equal(t, rpki.PolicyReject, cfg.Stale)
	assert.Equal(t, 10*time.Minute, cfg.Refresh)
}

func TestParseFlags_CLIOverridesFile(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "rpkid.toml")
	toml := `
repository-dir = "/from/file"
refresh = "5m"
stale = "warn"
`
	require.NoError(t, os.WriteFile(tomlPath, []byte(toml), 0o644))

	cfg, err := ParseFlags([]string{
		"--config", tomlPath,
		"--refresh", "1m",
	})
	require.NoError(t, err)

	// repository-dir came only from the file
	assert.Equal(t, "/from/file", cfg.RepositoryDir)
	// refresh was overridden by the CLI flag
	assert.Equal(t, time.Minute, cfg.Refresh)
	// stale came only from the file
	assert.Equal(t, rpki.PolicyWarn, cfg.Stale)
}

func TestParseFlags_BadPolicyRejected(t *testing.T) {
	_, err := ParseFlags([]string{"--stale", "not-a-policy"})
	assert.Error(t, err)
}

func TestParseFlags_BadFallbackPolicyRejected(t *testing.T) {
	_, err := ParseFlags([]string{"--rrdp-fallback", "nonsense"})
	assert.Error(t, err)
}

func TestCollectorConfig_Projection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableRsync = true
	cc := cfg.collectorConfig()
	assert.True(t, cc.DisableRsync)
	assert.Equal(t, cfg.RRDPTimeout, cc.RRDPTimeout)
}

func TestValidatorConfig_StrictSelectsStrictDecodeMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strict = true
	vc := cfg.validatorConfig()
	assert.Equal(t, rpki.DecodeStrict, vc.DecodeMode)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := parseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, "warn", lvl.String())

	_, err = parseLogLevel("not-a-level")
	assert.Error(t, err)
}
