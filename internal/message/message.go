// Package message defines the wire-level Message type and the validation
// rules SPEC_FULL §3 places on its fields.
package message

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

const (
	MaxTopicLength    = 256
	DefaultMaxPayload = 1 << 20 // 1 MiB
	maxMetadataKeys   = 64
	maxMetadataLen    = 512
)

var topicRE = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Message is immutable once created. Payload is carried as json.RawMessage
// end to end so object key order and number formatting survive a round
// trip without re-serialization.
type Message struct {
	MessageID string            `json:"message_id"`
	Topic     string             `json:"topic"`
	Payload   json.RawMessage    `json:"payload"`
	Timestamp time.Time          `json:"timestamp"`
	TTL       *int64             `json:"ttl,omitempty"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	StreamID  string             `json:"stream_id,omitempty"`
}

// ValidateTopic checks the topic name against SPEC_FULL §3's constrained
// character set and length ceiling.
func ValidateTopic(topic string) error {
	if topic == "" {
		return pulsarerr.New(pulsarerr.InvalidRequest, "topic must not be empty")
	}
	if len(topic) > MaxTopicLength {
		return pulsarerr.New(pulsarerr.InvalidRequest, "topic exceeds maximum length")
	}
	if !topicRE.MatchString(topic) {
		return pulsarerr.New(pulsarerr.InvalidRequest, "topic contains characters outside [A-Za-z0-9_.:-]")
	}
	return nil
}

// ValidatePayload checks payload is well-formed JSON within maxBytes.
func ValidatePayload(payload json.RawMessage, maxBytes int) error {
	if len(payload) == 0 {
		return pulsarerr.New(pulsarerr.InvalidRequest, "payload must not be empty")
	}
	if len(payload) > maxBytes {
		return pulsarerr.New(pulsarerr.PayloadTooLarge, "payload exceeds maximum size").
			WithDetails(map[string]any{"max_bytes": maxBytes, "actual_bytes": len(payload)})
	}
	if !json.Valid(payload) {
		return pulsarerr.New(pulsarerr.InvalidRequest, "payload is not valid JSON")
	}
	return nil
}

// ValidateMetadata bounds the metadata map SPEC_FULL §4.5 step 1 requires.
func ValidateMetadata(metadata map[string]string) error {
	if len(metadata) > maxMetadataKeys {
		return pulsarerr.New(pulsarerr.InvalidRequest, "too many metadata keys")
	}
	for k, v := range metadata {
		if len(k) > maxMetadataLen || len(v) > maxMetadataLen {
			return pulsarerr.New(pulsarerr.InvalidRequest, "metadata key or value exceeds maximum length")
		}
	}
	return nil
}

// ValidateTTL enforces that ttl, when present, is a positive number of seconds.
func ValidateTTL(ttl *int64) error {
	if ttl != nil && *ttl <= 0 {
		return pulsarerr.New(pulsarerr.InvalidRequest, "ttl must be a positive number of seconds")
	}
	return nil
}

// NewID generates a server-assigned message_id in the format
// msg_<12 hex chars> drawn from a cryptographic RNG, per SPEC_FULL §4.5.
func NewID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", pulsarerr.Internal("failed to generate message id", err)
	}
	return "msg_" + hex.EncodeToString(buf), nil
}
