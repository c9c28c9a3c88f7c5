package publish_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

func newTestPipeline(t *testing.T) (*publish.Pipeline, authz.TopicStore, identity.Identity) {
	t.Helper()
	backend := storage.NewMemoryBackend(1000)
	t.Cleanup(func() { _ = backend.Close() })

	store := authz.NewMemoryTopicStore()
	oracle := authz.NewOracle(store)
	connMgr := connmgr.NewManager()
	pollMgr := pollmgr.NewManager(backend, oracle)

	owner := identity.Identity{
		UserID: "alice",
		Scopes: map[identity.Scope]bool{identity.ScopeRead: true, identity.ScopeWrite: true},
	}
	_, err := store.CreateTopic(context.Background(), owner.UserID, "orders", false, "")
	require.NoError(t, err)

	return publish.NewPipeline(backend, oracle, connMgr, pollMgr, 0), store, owner
}

func TestPublishPersistsAndReturnsMessageID(t *testing.T) {
	pipeline, _, owner := newTestPipeline(t)

	result, err := pipeline.Publish(context.Background(), owner, publish.Request{
		Topic:   "orders",
		Payload: json.RawMessage(`{"order_id":1}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.MessageID)
	require.Equal(t, "orders", result.Topic)
}

func TestPublishDeniesMissingWriteScope(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t)

	readOnly := identity.Identity{
		UserID: "bob",
		Scopes: map[identity.Scope]bool{identity.ScopeRead: true},
	}
	_, err := pipeline.Publish(context.Background(), readOnly, publish.Request{
		Topic:   "orders",
		Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)
}

func TestPublishToNonexistentTopicFails(t *testing.T) {
	pipeline, _, owner := newTestPipeline(t)

	_, err := pipeline.Publish(context.Background(), owner, publish.Request{
		Topic:   "missing",
		Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	backend := storage.NewMemoryBackend(1000)
	defer backend.Close()
	store := authz.NewMemoryTopicStore()
	oracle := authz.NewOracle(store)
	connMgr := connmgr.NewManager()
	pollMgr := pollmgr.NewManager(backend, oracle)
	pipeline := publish.NewPipeline(backend, oracle, connMgr, pollMgr, 8)

	owner := identity.Identity{UserID: "alice", Scopes: map[identity.Scope]bool{identity.ScopeWrite: true}}
	_, err := store.CreateTopic(context.Background(), owner.UserID, "orders", false, "")
	require.NoError(t, err)

	_, err = pipeline.Publish(context.Background(), owner, publish.Request{
		Topic:   "orders",
		Payload: json.RawMessage(`{"order_id":123456789}`),
	})
	require.Error(t, err)
}

func TestPublishBulkIndependentOutcomes(t *testing.T) {
	pipeline, store, owner := newTestPipeline(t)
	_, err := store.CreateTopic(context.Background(), owner.UserID, "alerts", false, "")
	require.NoError(t, err)

	reqs := []publish.Request{
		{Topic: "orders", Payload: json.RawMessage(`{"n":1}`)},
		{Topic: "missing-topic", Payload: json.RawMessage(`{"n":2}`)},
		{Topic: "alerts", Payload: json.RawMessage(`{"n":3}`)},
	}

	results := pipeline.PublishBulk(context.Background(), owner, reqs)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
}
