package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflow/rudder/classify"
	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/registry"
	"github.com/mailflow/rudder/resolver"
	"github.com/mailflow/rudder/routing"
)

const testAPIKey = "test-api-key"

type memorySource struct {
	tenants []*registry.TenantConfig
}

func (s *memorySource) LoadTenants(ctx context.Context) ([]*registry.TenantConfig, error) {
	return s.tenants, nil
}

func testServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	tenant := &registry.TenantConfig{
		ID:            "acme",
		Name:          "Acme Corp",
		Active:        true,
		PrimaryDomain: "acme.com",
		RoutingTable:  map[string]string{"support": "support@acme.com"},
		EscalationKeywords: map[string]string{
			"urgent": "oncall@acme.com",
		},
		DefaultDestination: "inbox@acme.com",
	}

	reg := registry.New(&memorySource{tenants: []*registry.TenantConfig{tenant}})
	require.NoError(t, reg.Reload(context.Background()))

	opts := classify.DefaultOptions()
	opts.MaxRetries = 0
	p := pipeline.New(reg,
		resolver.New(resolver.DefaultOptions()),
		classify.New(nil, opts),
		routing.NewEngine(nil),
		nil,
		5*time.Second)

	srv, err := New(reg, p, ServerOptions{Addr: "127.0.0.1:0", APIKey: testAPIKey})
	require.NoError(t, err)
	return srv, reg
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)
	return w
}

func TestRequiresAPIKey(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "GET", "/api/v1/tenants", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w = httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "GET", "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsUnauthenticated(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "GET", "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTenants(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "GET", "/api/v1/tenants", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Generation uint64          `json:"generation"`
		Tenants    []tenantSummary `json:"tenants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tenants, 1)
	assert.Equal(t, "acme", resp.Tenants[0].ID)
	assert.Contains(t, resp.Tenants[0].Categories, "support")
	assert.Contains(t, resp.Tenants[0].Categories, "general")
}

func TestGetTenant(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "GET", "/api/v1/tenants/acme", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp tenantDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acme.com", resp.PrimaryDomain)
	assert.Equal(t, "support@acme.com", resp.RoutingTable["support"])

	w = doRequest(t, srv, "GET", "/api/v1/tenants/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegistryReload(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "POST", "/api/v1/registry/reload", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "reloaded", resp["status"])
	assert.Equal(t, float64(2), resp["generation"])
}

func TestRouteDryRun(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(dryRunRequest{
		Sender:    "user@support.acme.com",
		Recipient: "help@unknown-infra.example",
		Subject:   "URGENT server down",
		Body:      "everything is broken",
	})

	w := doRequest(t, srv, "POST", "/api/v1/route/dryrun", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dryRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "routed", resp.State)
	require.NotNil(t, resp.Match)
	assert.Equal(t, "acme", resp.Match.TenantID)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, "oncall@acme.com", resp.Decision.Destination)
	assert.Equal(t, "escalation", resp.Decision.Rule)
	assert.True(t, resp.Decision.Escalated)
	assert.NotEmpty(t, resp.Trace)
}

func TestRouteDryRunUnresolved(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(dryRunRequest{
		Sender:    "a@random-domain.test",
		Recipient: "b@also-random.test",
		Subject:   "hi",
		Body:      "hello",
	})

	w := doRequest(t, srv, "POST", "/api/v1/route/dryrun", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dryRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unresolved", resp.State)
	assert.Nil(t, resp.Decision)
}

func TestRouteDryRunValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, "POST", "/api/v1/route/dryrun", []byte("{not json"), true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(dryRunRequest{Subject: "no addresses"})
	w = doRequest(t, srv, "POST", "/api/v1/route/dryrun", body, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllowedHosts(t *testing.T) {
	srv, _ := testServer(t)
	srv.allowedHosts = []string{"10.0.0.0/8"}

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.RemoteAddr = "192.168.1.5:44321"
	w := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.RemoteAddr = "10.1.2.3:44321"
	w = httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
