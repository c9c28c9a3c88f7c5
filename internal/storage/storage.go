// Package storage implements C1: the pluggable per-topic stream backend
// described in SPEC_FULL §4.1, with an in-memory implementation and a
// Valkey/Redis-Streams-backed implementation sharing identical semantics.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/message"
)

// TrimPolicy is either a max-length retention policy or a minimum
// stream-id cutoff, per SPEC_FULL §4.1.
type TrimPolicy struct {
	MaxLen       int64
	MinStreamID  string
}

// Fields is the set of values a caller supplies to Append; MessageID may be
// empty, in which case the backend allocates one (both backends do -
// the publish pipeline always pre-assigns an id per SPEC_FULL §4.5, but
// Append still accepts the empty case for direct backend testing).
type Fields struct {
	MessageID string
	Topic     string
	Payload   json.RawMessage
	Timestamp time.Time
	TTL       *int64
	Metadata  map[string]string
}

// Backend is the storage contract shared by every implementation.
type Backend interface {
	// Append writes fields atomically and returns the canonical
	// (message_id, stream_id) pair.
	Append(ctx context.Context, fields Fields) (messageID, streamID string, err error)

	// ReadSince returns messages strictly after sinceCursor (or from the
	// oldest retained message if sinceCursor is empty), up to maxCount,
	// in insertion order. Never blocks.
	ReadSince(ctx context.Context, topic, sinceCursor string, maxCount int) ([]message.Message, error)

	// Length returns the current retained message count for topic.
	Length(ctx context.Context, topic string) (int64, error)

	// Trim applies policy to topic. Never fails fatally.
	Trim(ctx context.Context, topic string, policy TrimPolicy) error

	// TopicExists reports whether topic has any retained messages or
	// stream metadata. Storage-level existence is independent of the
	// authorization registry's Topic record (C2 owns that).
	TopicExists(ctx context.Context, topic string) (bool, error)

	// HealthCheck reports backend connectivity for the /ready endpoint.
	HealthCheck(ctx context.Context) (healthy bool, detail map[string]string)

	// Close releases backend resources.
	Close() error
}

func streamKey(topic string) string {
	return "topic:" + topic + ":stream"
}
