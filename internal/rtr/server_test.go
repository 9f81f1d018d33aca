package rtr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/validator"
)

func TestServer_PublishUnchangedSetDoesNotAdvanceSerial(t *testing.T) {
	srv := newTestServer(t)
	set := payloadset.New()
	set.Fold(&validator.Result{Payloads: []rpki.Payload{vrpPayload(64496, "192.0.2.0/24", 24)}, Stats: map[string]*validator.TALStats{}})

	srv.Publish(set)
	require.Equal(t, uint32(1), srv.Current().Serial)

	srv.Publish(set) // re-publishing the same content must be a no-op
	assert.Equal(t, uint32(1), srv.Current().Serial)
}

func TestServer_PublishAdvancesOnChange(t *testing.T) {
	srv := newTestServer(t)
	set := payloadset.New()
	set.Fold(&validator.Result{Payloads: []rpki.Payload{vrpPayload(64496, "192.0.2.0/24", 24)}, Stats: map[string]*validator.TALStats{}})
	srv.Publish(set)

	set.Assert(vrpPayload(64497, "198.51.100.0/24", 24))
	srv.Publish(set)
	assert.Equal(t, uint32(2), srv.Current().Serial)
}

func TestServer_SessionCountTracksConnections(t *testing.T) {
	srv := newTestServer(t)
	assert.Equal(t, 0, srv.SessionCount())

	client, cancel := runSessionOnPipe(t, srv)
	defer client.Close()
	defer cancel()

	require.NoError(t, WritePDU(client, &ResetQueryPDU{Version: 1}))
	_, err := ReadPDU(client) // CacheResponse
	require.NoError(t, err)
	_, err = ReadPDU(client) // EndOfData (empty set)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.SessionCount())
}
