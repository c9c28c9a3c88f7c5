// Package ws implements C6's push socket protocol: the JSON frame types
// and the per-connection state machine described in SPEC_FULL §4.6.
package ws

import (
	"encoding/json"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/message"
)

// Frame types, client to server.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameAck         = "ack"
	FramePing        = "ping"
)

// Frame types, server to client.
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameMessage      = "message"
	FrameError        = "error"
	FramePong         = "pong"
)

// clientFrame is the envelope client-sent frames decode into; only the
// fields relevant to Type are populated.
type clientFrame struct {
	Type     string   `json:"type"`
	Topics   []string `json:"topics,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
}

type subscribedFrame struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics"`
	SessionID string   `json:"session_id"`
}

type unsubscribedFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type messageFrame struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	TTL       *int64            `json:"ttl,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	StreamID  string            `json:"stream_id,omitempty"`
}

func toMessageFrame(m message.Message) messageFrame {
	return messageFrame{
		Type:      FrameMessage,
		MessageID: m.MessageID,
		Topic:     m.Topic,
		Payload:   m.Payload,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		TTL:       m.TTL,
		Metadata:  m.Metadata,
		StreamID:  m.StreamID,
	}
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}
