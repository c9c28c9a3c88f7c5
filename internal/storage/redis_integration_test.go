package storage_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// startRedisContainer spins up a disposable Valkey-compatible Redis
// instance, the same testcontainers.GenericContainer-via-module pattern
// the teacher uses for its own Postgres container in
// StartPostgresContainer (testhelpers_test.go), adapted to the
// modules/redis helper since that is the stream backend here.
func startRedisContainer(t *testing.T) storage.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("failed to start redis container (Docker required): %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(mappedPort.Port())
	require.NoError(t, err)

	cfg := storage.DefaultRedisConfig()
	cfg.Host = host
	cfg.Port = port
	return cfg
}

func TestRedisBackendAppendAndReadSince(t *testing.T) {
	cfg := startRedisContainer(t)
	backend := storage.NewRedisBackend(cfg)
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messageID, streamID, err := backend.Append(ctx, storage.Fields{
		Topic:     "orders",
		Payload:   json.RawMessage(`{"order_id":42}`),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"source": "test"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, messageID)
	require.NotEmpty(t, streamID)

	msgs, err := backend.ReadSince(ctx, "orders", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, messageID, msgs[0].MessageID)
	require.JSONEq(t, `{"order_id":42}`, string(msgs[0].Payload))
	require.Equal(t, "test", msgs[0].Metadata["source"])
}

func TestRedisBackendTrim(t *testing.T) {
	cfg := startRedisContainer(t)
	backend := storage.NewRedisBackend(cfg)
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, _, err := backend.Append(ctx, storage.Fields{
			Topic:     "orders",
			Payload:   json.RawMessage(`{"i":` + strconv.Itoa(i) + `}`),
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	require.NoError(t, backend.Trim(ctx, "orders", storage.TrimPolicy{MaxLen: 2}))

	length, err := backend.Length(ctx, "orders")
	require.NoError(t, err)
	require.LessOrEqual(t, length, int64(2))
}

func TestRedisBackendTopicExistsAndHealthCheck(t *testing.T) {
	cfg := startRedisContainer(t)
	backend := storage.NewRedisBackend(cfg)
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := backend.TopicExists(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, exists)

	_, _, err = backend.Append(ctx, storage.Fields{
		Topic:     "alerts",
		Payload:   json.RawMessage(`{}`),
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	exists, err = backend.TopicExists(ctx, "alerts")
	require.NoError(t, err)
	require.True(t, exists)

	healthy, details := backend.HealthCheck(ctx)
	require.True(t, healthy)
	require.Equal(t, "healthy", details["status"])
}
