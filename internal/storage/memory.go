package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/mvdbeek/pulsar-relay/internal/message"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// memoryShards partitions the topic map to reduce lock contention when
// many distinct topics are created concurrently, the same technique the
// teacher applies to its topicShard array in ssepg.go.
const memoryShards = 32

type topicLog struct {
	mu       sync.Mutex
	messages []message.Message
	seq      int64
}

type memShard struct {
	mu     sync.RWMutex
	topics map[string]*topicLog
}

// MemoryBackend is the in-memory C1 implementation: per topic, an ordered
// list under a topic-granular mutex, grounded on app/storage/memory.py's
// deque(maxlen=N)-under-lock design.
type MemoryBackend struct {
	maxMessagesPerTopic int
	shards              [memoryShards]memShard
	closed              atomic.Bool
}

func NewMemoryBackend(maxMessagesPerTopic int) *MemoryBackend {
	if maxMessagesPerTopic <= 0 {
		maxMessagesPerTopic = 1_000_000
	}
	b := &MemoryBackend{maxMessagesPerTopic: maxMessagesPerTopic}
	for i := range b.shards {
		b.shards[i].topics = make(map[string]*topicLog)
	}
	return b
}

func hashTopic(topic string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return h.Sum32()
}

func (b *MemoryBackend) shardFor(topic string) *memShard {
	return &b.shards[hashTopic(topic)%memoryShards]
}

func (b *MemoryBackend) logFor(topic string, create bool) *topicLog {
	shard := b.shardFor(topic)

	shard.mu.RLock()
	if l, ok := shard.topics[topic]; ok {
		shard.mu.RUnlock()
		return l
	}
	shard.mu.RUnlock()

	if !create {
		return nil
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if l, ok := shard.topics[topic]; ok {
		return l
	}
	l := &topicLog{}
	shard.topics[topic] = l
	return l
}

func (b *MemoryBackend) Append(ctx context.Context, fields Fields) (string, string, error) {
	if b.closed.Load() {
		return "", "", pulsarerr.New(pulsarerr.StorageUnavailable, "memory backend closed")
	}

	messageID := fields.MessageID
	if messageID == "" {
		id, err := message.NewID()
		if err != nil {
			return "", "", err
		}
		messageID = id
	}

	l := b.logFor(fields.Topic, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	streamID := fmt.Sprintf("%d-%d", fields.Timestamp.UnixMilli(), l.seq)

	l.messages = append(l.messages, message.Message{
		MessageID: messageID,
		Topic:     fields.Topic,
		Payload:   copyPayload(fields.Payload),
		Timestamp: fields.Timestamp,
		TTL:       fields.TTL,
		Metadata:  fields.Metadata,
		StreamID:  streamID,
	})

	if b.maxMessagesPerTopic > 0 && len(l.messages) > b.maxMessagesPerTopic {
		drop := len(l.messages) - b.maxMessagesPerTopic
		l.messages = append([]message.Message(nil), l.messages[drop:]...)
	}

	return messageID, streamID, nil
}

func (b *MemoryBackend) ReadSince(ctx context.Context, topic, sinceCursor string, maxCount int) ([]message.Message, error) {
	if b.closed.Load() {
		return nil, pulsarerr.New(pulsarerr.StorageUnavailable, "memory backend closed")
	}
	if maxCount <= 0 {
		maxCount = 10
	}

	l := b.logFor(topic, false)
	if l == nil {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if sinceCursor != "" {
		found := -1
		for i, m := range l.messages {
			if m.StreamID == sinceCursor {
				found = i
				break
			}
		}
		start = found + 1
	}

	if start >= len(l.messages) {
		return nil, nil
	}

	end := start + maxCount
	if end > len(l.messages) {
		end = len(l.messages)
	}

	out := make([]message.Message, end-start)
	copy(out, l.messages[start:end])
	return out, nil
}

func (b *MemoryBackend) Length(ctx context.Context, topic string) (int64, error) {
	l := b.logFor(topic, false)
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.messages)), nil
}

func (b *MemoryBackend) Trim(ctx context.Context, topic string, policy TrimPolicy) error {
	l := b.logFor(topic, false)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if policy.MaxLen > 0 && int64(len(l.messages)) > policy.MaxLen {
		drop := int64(len(l.messages)) - policy.MaxLen
		l.messages = append([]message.Message(nil), l.messages[drop:]...)
	}
	if policy.MinStreamID != "" {
		var minMs, minSeq int64
		_, _ = fmt.Sscanf(policy.MinStreamID, "%d-%d", &minMs, &minSeq)
		keepFrom := len(l.messages)
		for i, m := range l.messages {
			var ms, seq int64
			_, _ = fmt.Sscanf(m.StreamID, "%d-%d", &ms, &seq)
			if ms > minMs || (ms == minMs && seq >= minSeq) {
				keepFrom = i
				break
			}
		}
		l.messages = append([]message.Message(nil), l.messages[keepFrom:]...)
	}
	return nil
}

func (b *MemoryBackend) TopicExists(ctx context.Context, topic string) (bool, error) {
	return b.logFor(topic, false) != nil, nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) (bool, map[string]string) {
	if b.closed.Load() {
		return false, map[string]string{"status": "closed"}
	}
	return true, map[string]string{"status": "healthy", "backend": "memory"}
}

func (b *MemoryBackend) Close() error {
	b.closed.Store(true)
	return nil
}

// copyPayload guards against the caller mutating the RawMessage buffer
// after Append returns, since Message is documented as immutable once
// created.
func copyPayload(p json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}
