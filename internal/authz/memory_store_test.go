package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
)

func TestMemoryTopicStoreCreateDuplicateRejected(t *testing.T) {
	store := authz.NewMemoryTopicStore()
	ctx := context.Background()

	_, err := store.CreateTopic(ctx, "alice", "orders", false, "")
	require.NoError(t, err)

	_, err = store.CreateTopic(ctx, "alice", "orders", false, "")
	require.Error(t, err)
}

func TestMemoryTopicStoreListOwnedAndAccessible(t *testing.T) {
	store := authz.NewMemoryTopicStore()
	ctx := context.Background()

	_, err := store.CreateTopic(ctx, "alice", "orders", false, "")
	require.NoError(t, err)
	_, err = store.CreateTopic(ctx, "alice", "alerts", true, "")
	require.NoError(t, err)
	_, err = store.CreateTopic(ctx, "bob", "invoices", false, "")
	require.NoError(t, err)
	require.NoError(t, store.GrantAccess(ctx, "invoices", "alice"))

	owned, err := store.ListOwnedTopics(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, owned, 2)

	accessible, err := store.ListAccessibleTopics(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, accessible, 3)
}

func TestMemoryTopicStoreGrantRevokeHasGrant(t *testing.T) {
	store := authz.NewMemoryTopicStore()
	ctx := context.Background()

	_, err := store.CreateTopic(ctx, "alice", "orders", false, "")
	require.NoError(t, err)

	granted, err := store.HasGrant(ctx, "orders", "bob")
	require.NoError(t, err)
	require.False(t, granted)

	require.NoError(t, store.GrantAccess(ctx, "orders", "bob"))
	granted, err = store.HasGrant(ctx, "orders", "bob")
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, store.RevokeAccess(ctx, "orders", "bob"))
	granted, err = store.HasGrant(ctx, "orders", "bob")
	require.NoError(t, err)
	require.False(t, granted)
}

func TestMemoryTopicStoreUpdateAndDelete(t *testing.T) {
	store := authz.NewMemoryTopicStore()
	ctx := context.Background()

	_, err := store.CreateTopic(ctx, "alice", "orders", false, "v1")
	require.NoError(t, err)

	isPublic := true
	desc := "v2"
	updated, err := store.UpdateTopic(ctx, "orders", &isPublic, &desc)
	require.NoError(t, err)
	require.True(t, updated.IsPublic)
	require.Equal(t, "v2", updated.Description)

	deleted, err := store.DeleteTopic(ctx, "orders")
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := store.GetTopic(ctx, "orders")
	require.NoError(t, err)
	require.False(t, ok)
}
