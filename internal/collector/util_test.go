package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDubiousHost(t *testing.T) {
	cases := []struct {
		uri     string
		allow   bool
		wantErr bool
	}{
		{"https://rrdp.example.org/notify.xml", false, false},
		{"https://localhost/notify.xml", false, true},
		{"https://127.0.0.1/notify.xml", false, true},
		{"https://[::1]/notify.xml", false, true},
		{"https://rrdp.example.org:8443/notify.xml", false, true},
		{"https://localhost/notify.xml", true, false},
	}
	for _, tc := range cases {
		err := checkDubiousHost(tc.uri, tc.allow)
		if tc.wantErr {
			require.Error(t, err, tc.uri)
			assert.ErrorIs(t, err, ErrDubiousHost)
		} else {
			require.NoError(t, err, tc.uri)
		}
	}
}

func TestEnforceSize(t *testing.T) {
	require.NoError(t, enforceSize(100, 100))
	require.NoError(t, enforceSize(100, 0))
	err := enforceSize(101, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectTooLarge)
}
