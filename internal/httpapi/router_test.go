package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_OutputFormatPaths(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.Router()

	for _, path := range []string{"/json", "/csv", "/openbgpd", "/bird1", "/bird2", "/rpsl", "/slurm", "/summary", "/csvext", "/csvcompat"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Body.Bytes(), path)
	}
}

func TestRouter_ValidityPath(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/validity/64496/192.0.2.0/24", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rv RouteValidity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rv))
	assert.Equal(t, "valid", rv.Validity.State)
}

func TestRouter_ValidityBatchPOST(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.Router()

	body := `{"routes":[{"asn":"AS64496","prefix":"192.0.2.0/24"},{"asn":"AS64498","prefix":"192.0.2.0/24"}]}`
	req := httptest.NewRequest(http.MethodPost, "/validity", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct{ Routes []RouteValidity `json:"routes"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Routes, 2)
	assert.Equal(t, "valid", out.Routes[0].Validity.State)
	assert.Equal(t, "invalid", out.Routes[1].Validity.State)
}

func TestRouter_StatusAndMetrics(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.Router()

	for _, path := range []string{"/status", "/api/v1/status", "/version", "/metrics", "/log"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_JSONDeltaNoHistoryYet(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.Router()

	req := httptest.NewRequest(http.MethodGet, "/json-delta?serial=999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc jsonDeltaDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.True(t, doc.Reset)
}

func TestRouter_JSONDeltaCurrentSerial(t *testing.T) {
	api, _ := newTestAPI(t)
	cur := api.rtr.Current()

	req := httptest.NewRequest(http.MethodGet, "/json-delta", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc jsonDeltaDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, cur.Serial, doc.Serial)
	assert.False(t, doc.Reset)
}

func TestLogRing_WrapsAndPreservesOrder(t *testing.T) {
	ring := NewLogRing(3)
	for _, line := range []string{"a\n", "b\n", "c\n", "d\n"} {
		ring.Write([]byte(line))
	}
	lines := ring.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"b\n", "c\n", "d\n"}, []string{string(lines[0]), string(lines[1]), string(lines[2])})
}
