package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTAL = `# comment line, ignored
rsync://rpki.example.net/repository/root.cer
https://rpki.example.net/rrdp/notification.xml

MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAuFakeA==
`

func TestParseTAL_Valid(t *testing.T) {
	tal, err := ParseTAL("example", strings.NewReader(testTAL))
	require.NoError(t, err)
	assert.Equal(t, "example", tal.Label)
	assert.Equal(t, []string{
		"rsync://rpki.example.net/repository/root.cer",
		"https://rpki.example.net/rrdp/notification.xml",
	}, tal.URIs)
	assert.NotEmpty(t, tal.PublicKey)
}

func TestParseTAL_MissingBlankLine(t *testing.T) {
	_, err := ParseTAL("bad", strings.NewReader("rsync://rpki.example.net/root.cer\nnotbase64\n"))
	assert.Error(t, err)
}

func TestParseTAL_NoURIs(t *testing.T) {
	_, err := ParseTAL("bad", strings.NewReader("\nMIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8A\n"))
	assert.Error(t, err)
}

func TestParseTAL_BadBase64(t *testing.T) {
	bad := "rsync://rpki.example.net/root.cer\n\nnot-valid-base64!!!\n"
	_, err := ParseTAL("bad", strings.NewReader(bad))
	assert.Error(t, err)
}

func TestLoadTALs_DirAndExtraDir(t *testing.T) {
	talDir := t.TempDir()
	extraDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(talDir, "afrinic.tal"), []byte(testTAL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "mine.tal"), []byte(testTAL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(talDir, "ignored.txt"), []byte("not a tal"), 0o644))

	cfg := Config{TALDir: talDir, ExtraTALsDir: extraDir}
	tals, err := LoadTALs(cfg)
	require.NoError(t, err)
	require.Len(t, tals, 2)

	labels := []string{tals[0].Label, tals[1].Label}
	assert.ElementsMatch(t, []string{"afrinic", "mine"}, labels)
}

func TestLoadTALs_NoRIRTALsSkipsTALDir(t *testing.T) {
	talDir := t.TempDir()
	extraDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(talDir, "afrinic.tal"), []byte(testTAL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "mine.tal"), []byte(testTAL), 0o644))

	cfg := Config{TALDir: talDir, NoRIRTALs: true, ExtraTALsDir: extraDir}
	tals, err := LoadTALs(cfg)
	require.NoError(t, err)
	require.Len(t, tals, 1)
	assert.Equal(t, "mine", tals[0].Label)
}

func TestLoadTALs_EmptyDirYieldsNoTALs(t *testing.T) {
	cfg := Config{TALDir: t.TempDir()}
	tals, err := LoadTALs(cfg)
	require.NoError(t, err)
	assert.Empty(t, tals)
}
