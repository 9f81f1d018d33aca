package collector

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/store"
)

func newTestCollector(t *testing.T, cfg Config) *Collector {
	t.Helper()
	a, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	c := New(cfg, a, zerolog.Nop())
	c.randSeed = func() float64 { return 0 } // pin to the low end of [refresh, fallback-time]
	return c
}

func TestShouldFallbackNever(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RRDPFallback = rpki.FallbackNever
	c := newTestCollector(t, cfg)
	st := &ppState{everRRDPSuccess: false}
	assert.False(t, c.shouldFallback(st))
}

func TestShouldFallbackNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RRDPFallback = rpki.FallbackNew
	c := newTestCollector(t, cfg)

	never := &ppState{everRRDPSuccess: false}
	assert.True(t, c.shouldFallback(never))

	succeeded := &ppState{everRRDPSuccess: true, lastRRDPSuccess: time.Now()}
	assert.False(t, c.shouldFallback(succeeded))
}

func TestShouldFallbackStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RRDPFallback = rpki.FallbackStale
	cfg.Refresh = time.Minute
	cfg.RRDPFallbackTime = time.Hour
	c := newTestCollector(t, cfg)

	fresh := &ppState{everRRDPSuccess: true, lastRRDPSuccess: time.Now()}
	assert.False(t, c.shouldFallback(fresh))

	stale := &ppState{everRRDPSuccess: true, lastRRDPSuccess: time.Now().Add(-2 * time.Hour)}
	assert.True(t, c.shouldFallback(stale))

	never := &ppState{everRRDPSuccess: false}
	assert.True(t, c.shouldFallback(never))
}
