package http_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollCatchesUpOnExistingMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	publishBody := []byte(`{"topic":"orders","payload":{"order_id":7}}`)
	resp := doRequest(t, srv, http.MethodPost, "/api/v1/messages", testToken, publishBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	pollBody := []byte(`{"topics":["orders"],"timeout":1}`)
	resp = doRequest(t, srv, http.MethodPost, "/messages/poll", testToken, pollBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	messages := out["messages"].([]any)
	require.Len(t, messages, 1)
}

func TestPollDeniedTopicReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)

	pollBody := []byte(`{"topics":["no-such-topic"],"timeout":1}`)
	resp := doRequest(t, srv, http.MethodPost, "/messages/poll", testToken, pollBody)
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestPollExplicitZeroTimeoutIsNonBlocking(t *testing.T) {
	srv, _ := newTestServer(t)

	pollBody := []byte(`{"topics":["orders"],"timeout":0}`)
	start := time.Now()
	resp := doRequest(t, srv, http.MethodPost, "/messages/poll", testToken, pollBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Empty(t, out["messages"])
}

func TestPollRequiresAtLeastOneTopic(t *testing.T) {
	srv, _ := newTestServer(t)

	pollBody := []byte(`{"topics":[],"timeout":1}`)
	resp := doRequest(t, srv, http.MethodPost, "/messages/poll", testToken, pollBody)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
