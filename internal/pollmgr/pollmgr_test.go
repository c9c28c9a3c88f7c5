package pollmgr_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/message"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

func newTestManager(t *testing.T) (*pollmgr.Manager, storage.Backend) {
	t.Helper()
	backend := storage.NewMemoryBackend(0)
	store := authz.NewMemoryTopicStore()
	_, err := store.CreateTopic(context.Background(), "alice", "t", true, "")
	require.NoError(t, err)
	oracle := authz.NewOracle(store)
	return pollmgr.NewManager(backend, oracle), backend
}

func readID() identity.Identity {
	return identity.Identity{UserID: "bob", Scopes: map[identity.Scope]bool{identity.ScopeRead: true}}
}

func durPtr(d time.Duration) *time.Duration { return &d }

func TestPollCatchUpReturnsImmediately(t *testing.T) {
	mgr, backend := newTestManager(t)
	ctx := context.Background()

	_, _, err := backend.Append(ctx, storage.Fields{Topic: "t", Payload: json.RawMessage(`{"n":1}`), Timestamp: time.Now()})
	require.NoError(t, err)

	result, err := mgr.Poll(ctx, readID(), []string{"t"}, nil, durPtr(time.Second))
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
}

func TestPollTimesOutWithEmptyBuffer(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	start := time.Now()
	result, err := mgr.Poll(ctx, readID(), []string{"t"}, nil, durPtr(200*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, result.Messages)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestPollWakesOnDeliver(t *testing.T) {
	mgr, backend := newTestManager(t)
	ctx := context.Background()

	done := make(chan pollmgr.PollResult, 1)
	go func() {
		result, err := mgr.Poll(ctx, readID(), []string{"t"}, nil, durPtr(5*time.Second))
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(50 * time.Millisecond)
	_, streamID, err := backend.Append(ctx, storage.Fields{Topic: "t", Payload: json.RawMessage(`{"n":1}`), Timestamp: time.Now()})
	require.NoError(t, err)
	mgr.Deliver("t", mustReadOne(t, ctx, backend, streamID))

	select {
	case result := <-done:
		require.Len(t, result.Messages, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake on deliver")
	}
}

func TestPollDeniedTopicReturnsError(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Poll(ctx, readID(), []string{"missing"}, nil, durPtr(time.Second))
	require.Error(t, err)
}

func TestPollAuthorizationRequiresScope(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	noScope := identity.Identity{UserID: "eve", Scopes: map[identity.Scope]bool{}}

	_, err := mgr.Poll(ctx, noScope, []string{"t"}, nil, durPtr(time.Second))
	require.Error(t, err)
}

func TestPollNonBlockingReturnsImmediatelyWhenEmpty(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	start := time.Now()
	result, err := mgr.Poll(ctx, readID(), []string{"t"}, nil, durPtr(0))
	require.NoError(t, err)
	assert.Empty(t, result.Messages)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPollRejectsOverMaxWaiters(t *testing.T) {
	backend := storage.NewMemoryBackend(0)
	store := authz.NewMemoryTopicStore()
	_, err := store.CreateTopic(context.Background(), "alice", "t", true, "")
	require.NoError(t, err)
	oracle := authz.NewOracle(store)
	mgr := pollmgr.NewManager(backend, oracle, pollmgr.WithMaxWaiters(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = mgr.Poll(ctx, readID(), []string{"t"}, nil, durPtr(2*time.Second))
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err = mgr.Poll(context.Background(), readID(), []string{"t"}, nil, durPtr(time.Second))
	require.Error(t, err)
	pe, ok := err.(interface{ Error() string })
	require.True(t, ok)
	assert.Contains(t, pe.Error(), "SERVICE_UNAVAILABLE")
}

func mustReadOne(t *testing.T, ctx context.Context, backend storage.Backend, afterStreamID string) message.Message {
	t.Helper()
	msgs, err := backend.ReadSince(ctx, "t", "", 10)
	require.NoError(t, err)
	for _, msg := range msgs {
		if msg.StreamID == afterStreamID {
			return msg
		}
	}
	t.Fatalf("message with stream id %s not found", afterStreamID)
	return message.Message{}
}
