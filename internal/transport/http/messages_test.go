package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
	pulsarhttp "github.com/mvdbeek/pulsar-relay/internal/transport/http"
)

const (
	testToken  = "test-token"
	bobToken   = "bob-token"
)

func newTestServer(t *testing.T) (*httptest.Server, authz.TopicStore) {
	t.Helper()
	backend := storage.NewMemoryBackend(1000)
	t.Cleanup(func() { _ = backend.Close() })

	store := authz.NewMemoryTopicStore()
	oracle := authz.NewOracle(store)
	connMgr := connmgr.NewManager()
	pollMgr := pollmgr.NewManager(backend, oracle)
	pipeline := publish.NewPipeline(backend, oracle, connMgr, pollMgr, 0)

	auth := identity.NewStaticAuthenticator()
	auth.Register(testToken, identity.Identity{
		UserID: "alice",
		Scopes: map[identity.Scope]bool{identity.ScopeRead: true, identity.ScopeWrite: true},
	})
	auth.Register(bobToken, identity.Identity{
		UserID: "bob",
		Scopes: map[identity.Scope]bool{identity.ScopeRead: true, identity.ScopeWrite: true},
	})

	mux := pulsarhttp.NewMux(auth, store, oracle, pipeline, pollMgr, backend, 1<<20)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	_, err := store.CreateTopic(context.Background(), "alice", "orders", false, "")
	require.NoError(t, err)

	return srv, store
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublishMessageEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"topic":"orders","payload":{"order_id":1}}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/messages", testToken, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["message_id"])
}

func TestPublishMessageRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"topic":"orders","payload":{"order_id":1}}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/messages", "", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishBulkEndpointIndependentOutcomes(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"messages":[
		{"topic":"orders","payload":{"n":1}},
		{"topic":"missing","payload":{"n":2}}
	]}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/messages/bulk", testToken, body)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	results := out["results"].([]any)
	require.Len(t, results, 2)
	require.Equal(t, "accepted", results[0].(map[string]any)["status"])
	require.Equal(t, "rejected", results[1].(map[string]any)["status"])
}

func TestHealthEndpointAlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyEndpointReflectsBackend(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
