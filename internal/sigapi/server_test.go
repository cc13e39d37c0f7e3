package sigapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/store"
)

const testJWTSecret = "api-test-secret"

func newTestServer(t *testing.T, secret string) (*httptest.Server, *store.DB, *pending.Bridge) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	bridge := pending.NewBridge(db)
	srv := httptest.NewServer(New(db, bridge, secret).Handler())
	t.Cleanup(srv.Close)
	return srv, db, bridge
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, testJWTSecret)
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, testJWTSecret)

	resp := doRequest(t, http.MethodGet, srv.URL+"/pending", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/pending", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/pending", bearerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthDisabledWithEmptySecret(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	resp := doRequest(t, http.MethodGet, srv.URL+"/pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResolvePending(t *testing.T) {
	srv, db, bridge := newTestServer(t, testJWTSecret)
	token := bearerToken(t)
	id, err := bridge.Park("sig-1", 0, core.StepDeposit, 100,
		core.NewAptosPayload(core.AptosPayload{Function: "0x1::m::f"}))
	require.NoError(t, err)

	// Broadcasted without a hash is invalid.
	resp := doRequest(t, http.MethodPost, srv.URL+"/pending/"+id, token,
		map[string]string{"status": "broadcasted"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/pending/"+id, token,
		map[string]string{"status": "signed"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/pending/unknown", token,
		map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/pending/"+id, token,
		map[string]string{"status": "broadcasted", "txHash": "0xhash"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	row, err := db.PendingSignature(id)
	require.NoError(t, err)
	require.Equal(t, core.SigBroadcasted, row.Status)
	require.Equal(t, "0xhash", row.SignatureOrHash)

	// Terminal rows conflict on a second decision.
	resp = doRequest(t, http.MethodPost, srv.URL+"/pending/"+id, token,
		map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListPositions(t *testing.T) {
	srv, db, _ := newTestServer(t, testJWTSecret)
	require.NoError(t, db.UpsertPosition(&core.Position{
		PositionID: "pos-1", PoolID: "pool-a", Status: core.PositionActive, ValueUsd: 10,
	}))
	require.NoError(t, db.UpsertPosition(&core.Position{
		PositionID: "pos-2", PoolID: "pool-b", Status: core.PositionClosed,
	}))

	resp := doRequest(t, http.MethodGet, srv.URL+"/positions", bearerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active []core.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&active))
	require.Len(t, active, 1)
	require.Equal(t, "pos-1", active[0].PositionID)

	resp = doRequest(t, http.MethodGet, srv.URL+"/positions?status=closed", bearerToken(t), nil)
	var closed []core.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&closed))
	require.Len(t, closed, 1)
	require.Equal(t, "pos-2", closed[0].PositionID)
}

func TestConfigEndpoints(t *testing.T) {
	srv, db, _ := newTestServer(t, testJWTSecret)
	token := bearerToken(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/config", token,
		map[string]string{"key": store.KeyKillSwitch, "value": "true"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, db.ConfigBool(store.KeyKillSwitch, false))

	resp = doRequest(t, http.MethodGet, srv.URL+"/config", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	require.Equal(t, "true", cfg[store.KeyKillSwitch])

	resp = doRequest(t, http.MethodPost, srv.URL+"/config", token, map[string]string{"value": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditEndpoint(t *testing.T) {
	srv, db, _ := newTestServer(t, testJWTSecret)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.AppendAudit(&core.AuditEntry{
			EventType: "tx_confirmed", Severity: core.SeverityInfo, Source: "test",
		}))
	}
	resp := doRequest(t, http.MethodGet, srv.URL+"/audit?n=2", bearerToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []core.AuditEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 2)
}
