package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvdbeek/pulsar-relay/internal/message"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// RedisConfig configures the Valkey/Redis-Streams-backed C1 implementation.
type RedisConfig struct {
	Host                string
	Port                int
	UseTLS              bool
	MaxMessagesPerTopic int64

	// RetryAttempts/RetryBaseDelay/RetryMaxDelay implement SPEC_FULL
	// §4.1's "retry with exponential backoff (50ms -> 1s, max 3
	// attempts)" policy.
	RetryAttempts int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:                "localhost",
		Port:                6379,
		MaxMessagesPerTopic: 1_000_000,
		RetryAttempts:       3,
		RetryBaseDelay:      50 * time.Millisecond,
		RetryMaxDelay:       time.Second,
	}
}

// RedisBackend is the Valkey-Streams-backed C1 implementation, grounded
// on app/storage/valkey.py's XADD/XRANGE/XLEN/XTRIM usage, translated to
// github.com/redis/go-redis/v9 (Valkey is wire-compatible with the Redis
// protocol).
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	opts := &redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	if cfg.UseTLS {
		// go-redis only enables TLS when TLSConfig is non-nil; a nil value
		// here would silently connect in plaintext regardless of this flag.
		opts.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	return &RedisBackend{cfg: cfg, client: redis.NewClient(opts)}
}

func (b *RedisBackend) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := b.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := b.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	maxDelay := b.cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt == attempts-1 {
				break
			}
			jitter := time.Duration(rand.Int63n(int64(delay) + 1))
			select {
			case <-ctx.Done():
				return pulsarerr.Wrap(pulsarerr.StorageUnavailable, op+" cancelled", ctx.Err())
			case <-time.After(delay + jitter):
			}
			if delay*2 < maxDelay {
				delay *= 2
			} else {
				delay = maxDelay
			}
			continue
		}
		return nil
	}
	return pulsarerr.Wrap(pulsarerr.StorageUnavailable, op+" failed after retries", lastErr)
}

func (b *RedisBackend) Append(ctx context.Context, fields Fields) (string, string, error) {
	messageID := fields.MessageID
	if messageID == "" {
		id, err := message.NewID()
		if err != nil {
			return "", "", err
		}
		messageID = id
	}

	metadataJSON := "{}"
	if len(fields.Metadata) > 0 {
		b, err := json.Marshal(fields.Metadata)
		if err != nil {
			return "", "", pulsarerr.Internal("failed to encode metadata", err)
		}
		metadataJSON = string(b)
	}

	values := map[string]any{
		"message_id": messageID,
		"payload":    string(fields.Payload),
		"timestamp":  fields.Timestamp.UTC().Format(time.RFC3339Nano),
		"metadata":   metadataJSON,
	}
	if fields.TTL != nil {
		values["ttl"] = fmt.Sprintf("%d", *fields.TTL)
	}

	key := streamKey(fields.Topic)
	var streamID string
	err := b.withRetry(ctx, "append", func() error {
		id, err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			Values: values,
		}).Result()
		if err != nil {
			return err
		}
		streamID = id
		return nil
	})
	if err != nil {
		return "", "", err
	}

	maxLen := b.cfg.MaxMessagesPerTopic
	if maxLen <= 0 {
		maxLen = 1_000_000
	}
	_ = b.withRetry(ctx, "trim-on-append", func() error {
		return b.client.XTrimMaxLenApprox(ctx, key, maxLen, 0).Err()
	})

	return messageID, streamID, nil
}

func (b *RedisBackend) ReadSince(ctx context.Context, topic, sinceCursor string, maxCount int) ([]message.Message, error) {
	if maxCount <= 0 {
		maxCount = 10
	}

	start := "-"
	if sinceCursor != "" {
		start = "(" + sinceCursor
	}

	var entries []redis.XMessage
	err := b.withRetry(ctx, "read_since", func() error {
		res, err := b.client.XRangeN(ctx, streamKey(topic), start, "+", int64(maxCount)).Result()
		if err != nil {
			return err
		}
		entries = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]message.Message, 0, len(entries))
	for _, e := range entries {
		m, err := decodeEntry(topic, e)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeEntry(topic string, e redis.XMessage) (message.Message, error) {
	payload, _ := e.Values["payload"].(string)
	messageID, _ := e.Values["message_id"].(string)
	timestampStr, _ := e.Values["timestamp"].(string)

	ts, err := time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		ts = time.Time{}
	}

	var metadata map[string]string
	if metaStr, ok := e.Values["metadata"].(string); ok && metaStr != "" && metaStr != "{}" {
		_ = json.Unmarshal([]byte(metaStr), &metadata)
	}

	var ttl *int64
	if ttlStr, ok := e.Values["ttl"].(string); ok && ttlStr != "" {
		var v int64
		if _, err := fmt.Sscanf(ttlStr, "%d", &v); err == nil {
			ttl = &v
		}
	}

	return message.Message{
		MessageID: messageID,
		Topic:     topic,
		Payload:   json.RawMessage(payload),
		Timestamp: ts,
		TTL:       ttl,
		Metadata:  metadata,
		StreamID:  e.ID,
	}, nil
}

func (b *RedisBackend) Length(ctx context.Context, topic string) (int64, error) {
	var length int64
	err := b.withRetry(ctx, "length", func() error {
		n, err := b.client.XLen(ctx, streamKey(topic)).Result()
		if err != nil {
			return err
		}
		length = n
		return nil
	})
	return length, err
}

func (b *RedisBackend) Trim(ctx context.Context, topic string, policy TrimPolicy) error {
	key := streamKey(topic)
	if policy.MaxLen > 0 {
		return b.withRetry(ctx, "trim", func() error {
			return b.client.XTrimMaxLenApprox(ctx, key, policy.MaxLen, 0).Err()
		})
	}
	if policy.MinStreamID != "" {
		return b.withRetry(ctx, "trim", func() error {
			return b.client.XTrimMinID(ctx, key, policy.MinStreamID).Err()
		})
	}
	return nil
}

func (b *RedisBackend) TopicExists(ctx context.Context, topic string) (bool, error) {
	n, err := b.client.Exists(ctx, streamKey(topic)).Result()
	if err != nil {
		return false, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "topic_exists failed", err)
	}
	return n > 0, nil
}

func (b *RedisBackend) HealthCheck(ctx context.Context) (bool, map[string]string) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.client.Ping(pingCtx).Err(); err != nil {
		return false, map[string]string{"status": "unhealthy", "error": err.Error()}
	}
	return true, map[string]string{"status": "healthy", "backend": "valkey", "addr": b.client.Options().Addr}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
