package authz_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
)

// startPostgresContainer mirrors the teacher's own
// StartPostgresContainer helper (testhelpers_test.go): a disposable
// postgres:15-alpine container reachable via a generated DSN.
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("failed to start postgres container (Docker required): %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestPostgresTopicStoreCRUD(t *testing.T) {
	dsn := startPostgresContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := authz.NewPostgresTopicStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	topic, err := store.CreateTopic(ctx, "alice", "orders", false, "order events")
	require.NoError(t, err)
	require.Equal(t, "orders", topic.Name)
	require.Equal(t, "alice", topic.OwnerUserID)

	fetched, ok, err := store.GetTopic(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, topic.Name, fetched.Name)

	require.NoError(t, store.GrantAccess(ctx, "orders", "bob"))
	granted, err := store.HasGrant(ctx, "orders", "bob")
	require.NoError(t, err)
	require.True(t, granted)

	perms, err := store.ListPermissions(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, perms)

	require.NoError(t, store.RevokeAccess(ctx, "orders", "bob"))
	granted, err = store.HasGrant(ctx, "orders", "bob")
	require.NoError(t, err)
	require.False(t, granted)

	isPublic := true
	updated, err := store.UpdateTopic(ctx, "orders", &isPublic, nil)
	require.NoError(t, err)
	require.True(t, updated.IsPublic)

	deleted, err := store.DeleteTopic(ctx, "orders")
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err = store.GetTopic(ctx, "orders")
	require.NoError(t, err)
	require.False(t, ok)
}
