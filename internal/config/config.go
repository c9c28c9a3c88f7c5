// Package config loads the PULSAR_-prefixed environment variables
// named in SPEC_FULL §6, mirroring the teacher's own zero-value-means-
// default Config/DefaultConfig shape.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageValkey StorageBackend = "valkey"
)

type TopicStoreBackend string

const (
	TopicStoreMemory   TopicStoreBackend = "memory"
	TopicStorePostgres TopicStoreBackend = "postgres"
)

// Config is the fully-resolved server configuration.
type Config struct {
	StorageBackend StorageBackend
	ValkeyHost     string
	ValkeyPort     int
	ValkeyUseTLS   bool

	MaxMessagesPerTopic int64

	TopicStoreBackend TopicStoreBackend
	TopicStoreDSN     string

	MaxPayloadBytes int
	MaxConnections  int
	MaxWaiters      int

	PollDefaultTimeout time.Duration
	PollMaxTimeout     time.Duration
	PollMinTimeout     time.Duration

	WaiterBufferCapacity  int
	WaiterSweepInterval   time.Duration
	WaiterMaxAge          time.Duration
	ConnectionShardCount  int
	AuthzCacheTTL         time.Duration
	AuthzCacheMaxEntries  int
	WSHeartbeatInterval   time.Duration

	HTTPAddr   string
	HealthAddr string

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns every field at its SPEC_FULL §6 default.
func DefaultConfig() Config {
	return Config{
		StorageBackend:       StorageMemory,
		ValkeyHost:           "localhost",
		ValkeyPort:           6379,
		MaxMessagesPerTopic:  1_000_000,
		TopicStoreBackend:    TopicStoreMemory,
		MaxPayloadBytes:      1 << 20,
		MaxConnections:       10_000,
		MaxWaiters:           10_000,
		PollDefaultTimeout:   30 * time.Second,
		PollMaxTimeout:       60 * time.Second,
		PollMinTimeout:       1 * time.Second,
		WaiterBufferCapacity: 128,
		WaiterSweepInterval:  30 * time.Second,
		WaiterMaxAge:         300 * time.Second,
		ConnectionShardCount: 32,
		AuthzCacheTTL:        5 * time.Second,
		AuthzCacheMaxEntries: 10_000,
		WSHeartbeatInterval:  30 * time.Second,
		HTTPAddr:             ":8080",
		LogLevel:             "info",
		LogFormat:            "console",
	}
}

// Load reads PULSAR_-prefixed environment variables over DefaultConfig,
// the same override-only-what's-set pattern the teacher's own Config
// loading would use if it read from the environment (ssepg.go instead
// takes a Config literal from the caller; the full service reads from
// the environment since it is meant to run as a standalone deployable).
func Load() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PULSAR_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = StorageBackend(v)
	}
	if v := os.Getenv("PULSAR_VALKEY_HOST"); v != "" {
		cfg.ValkeyHost = v
	}
	if err := setInt(&cfg.ValkeyPort, "PULSAR_VALKEY_PORT"); err != nil {
		return Config{}, err
	}
	if err := setBool(&cfg.ValkeyUseTLS, "PULSAR_VALKEY_USE_TLS"); err != nil {
		return Config{}, err
	}
	if err := setInt64(&cfg.MaxMessagesPerTopic, "PULSAR_MAX_MESSAGES_PER_TOPIC"); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("PULSAR_TOPIC_STORE_BACKEND"); v != "" {
		cfg.TopicStoreBackend = TopicStoreBackend(v)
	}
	if v := os.Getenv("PULSAR_TOPIC_STORE_DSN"); v != "" {
		cfg.TopicStoreDSN = v
	}

	if err := setInt(&cfg.MaxPayloadBytes, "PULSAR_MAX_PAYLOAD_BYTES"); err != nil {
		return Config{}, err
	}
	if err := setInt(&cfg.MaxConnections, "PULSAR_MAX_CONNECTIONS"); err != nil {
		return Config{}, err
	}
	if err := setInt(&cfg.MaxWaiters, "PULSAR_MAX_WAITERS"); err != nil {
		return Config{}, err
	}

	if err := setSeconds(&cfg.PollDefaultTimeout, "PULSAR_POLL_DEFAULT_TIMEOUT_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.PollMaxTimeout, "PULSAR_POLL_MAX_TIMEOUT_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.PollMinTimeout, "PULSAR_POLL_MIN_TIMEOUT_SECONDS"); err != nil {
		return Config{}, err
	}

	if err := setInt(&cfg.WaiterBufferCapacity, "PULSAR_WAITER_BUFFER_CAPACITY"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.WaiterSweepInterval, "PULSAR_WAITER_SWEEP_INTERVAL_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.WaiterMaxAge, "PULSAR_WAITER_MAX_AGE_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := setInt(&cfg.ConnectionShardCount, "PULSAR_CONNECTION_SHARD_COUNT"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.AuthzCacheTTL, "PULSAR_AUTHZ_CACHE_TTL_SECONDS"); err != nil {
		return Config{}, err
	}
	if err := setInt(&cfg.AuthzCacheMaxEntries, "PULSAR_AUTHZ_CACHE_MAX_ENTRIES"); err != nil {
		return Config{}, err
	}
	if err := setSeconds(&cfg.WSHeartbeatInterval, "PULSAR_WS_HEARTBEAT_INTERVAL_SECONDS"); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("PULSAR_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("PULSAR_HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that no single env var can
// enforce on its own.
func (c Config) Validate() error {
	if c.StorageBackend != StorageMemory && c.StorageBackend != StorageValkey {
		return pulsarerr.New(pulsarerr.InvalidRequest, fmt.Sprintf("invalid PULSAR_STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.TopicStoreBackend != TopicStoreMemory && c.TopicStoreBackend != TopicStorePostgres {
		return pulsarerr.New(pulsarerr.InvalidRequest, fmt.Sprintf("invalid PULSAR_TOPIC_STORE_BACKEND %q", c.TopicStoreBackend))
	}
	if c.TopicStoreBackend == TopicStorePostgres && c.TopicStoreDSN == "" {
		return pulsarerr.New(pulsarerr.InvalidRequest, "PULSAR_TOPIC_STORE_DSN is required when PULSAR_TOPIC_STORE_BACKEND=postgres")
	}
	if c.PollMinTimeout > c.PollMaxTimeout {
		return pulsarerr.New(pulsarerr.InvalidRequest, "PULSAR_POLL_MIN_TIMEOUT_SECONDS must not exceed PULSAR_POLL_MAX_TIMEOUT_SECONDS")
	}
	return nil
}

func setInt(dst *int, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.InvalidRequest, "invalid "+envVar, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.InvalidRequest, "invalid "+envVar, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.InvalidRequest, "invalid "+envVar, err)
	}
	*dst = b
	return nil
}

func setSeconds(dst *time.Duration, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.InvalidRequest, "invalid "+envVar, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
