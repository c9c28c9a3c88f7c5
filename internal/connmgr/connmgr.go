// Package connmgr implements C3: the push-socket subscriber registry and
// the snapshot-then-broadcast fan-out described in SPEC_FULL §4.3.
package connmgr

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/message"
)

// defaultShardCount partitions the topic map to bound per-topic lock
// contention under many topics, the same technique the teacher applies
// to its topicShard array in ssepg.go, generalized here from a
// ring-buffered pub/sub hub to a catch-up-free subscriber registry
// (SPEC_FULL §4.3 EXPANSION). Purely an implementation detail; it does
// not change any externally observable ordering or delivery guarantee.
// Overridable via WithShardCount.
const defaultShardCount = 32

// defaultMaxConnections is SPEC_FULL §5's "Maximum concurrent push
// connections per instance" default. Overridable via WithMaxConnections;
// 0 or negative means unlimited.
const defaultMaxConnections = 10_000

// sendDeadline bounds how long Broadcast waits on a single connection's
// Send before treating it as dead, per SPEC_FULL §4.3's "100ms default".
const sendDeadline = 100 * time.Millisecond

// Connection is the socket-agnostic handle C3 fans out to. The
// WebSocket adapter in internal/transport/ws implements this.
type Connection interface {
	ID() string
	Send(ctx context.Context, msg message.Message) error
	Close() error
}

type shard struct {
	mu     sync.RWMutex
	topics map[string]map[Connection]struct{}
}

// Option configures a Manager's shard count and connection cap.
type Option func(*managerOptions)

type managerOptions struct {
	shardCount     int
	maxConnections int
}

// WithShardCount overrides the default 32-way topic shard count.
func WithShardCount(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.shardCount = n
		}
	}
}

// WithMaxConnections overrides the default 10,000 concurrent-connection
// cap per SPEC_FULL §5; n <= 0 means unlimited.
func WithMaxConnections(n int) Option {
	return func(o *managerOptions) { o.maxConnections = n }
}

// Manager is the sharded subscriber registry plus broadcast fan-out.
type Manager struct {
	shards     []shard
	shardCount uint32

	// reverseMu/reverse track which topics each connection is registered
	// under, so Remove(conn, nil) ("remove from all") doesn't require the
	// caller to remember its own subscription set. This is bookkeeping,
	// not the hot broadcast path, so a single mutex here does not
	// reintroduce the contention the sharding above avoids.
	reverseMu sync.Mutex
	reverse   map[Connection]map[string]struct{}

	maxConnections      int
	connCount           atomic.Int64
	rejectedConnections atomic.Int64

	acksRecorded atomic.Int64
	droppedSends atomic.Int64
}

func NewManager(opts ...Option) *Manager {
	o := managerOptions{shardCount: defaultShardCount, maxConnections: defaultMaxConnections}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		shards:         make([]shard, o.shardCount),
		shardCount:     uint32(o.shardCount),
		maxConnections: o.maxConnections,
		reverse:        make(map[Connection]map[string]struct{}),
	}
	for i := range m.shards {
		m.shards[i].topics = make(map[string]map[Connection]struct{})
	}
	return m
}

func hashTopic(topic string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return h.Sum32()
}

func (m *Manager) shardFor(topic string) *shard {
	return &m.shards[hashTopic(topic)%m.shardCount]
}

// TryReserve reserves one connection slot against SPEC_FULL §5's
// MaxConnections cap. Callers must invoke Release once the connection
// closes. Returns false when the instance is already at capacity, in
// which case the caller must reject the connection (SERVICE_UNAVAILABLE)
// rather than register it.
func (m *Manager) TryReserve() bool {
	if m.maxConnections <= 0 {
		return true
	}
	for {
		cur := m.connCount.Load()
		if cur >= int64(m.maxConnections) {
			m.rejectedConnections.Add(1)
			return false
		}
		if m.connCount.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns a connection slot reserved by TryReserve.
func (m *Manager) Release() {
	m.connCount.Add(-1)
}

// ConnectionCount reports the number of connections currently holding a
// reserved slot.
func (m *Manager) ConnectionCount() int64 {
	return m.connCount.Load()
}

// RejectedConnectionCount reports how many TryReserve calls failed
// because the instance was at capacity.
func (m *Manager) RejectedConnectionCount() int64 {
	return m.rejectedConnections.Load()
}

// Add registers conn under each of topics.
func (m *Manager) Add(conn Connection, topics []string) {
	for _, topic := range topics {
		s := m.shardFor(topic)
		s.mu.Lock()
		set, ok := s.topics[topic]
		if !ok {
			set = make(map[Connection]struct{})
			s.topics[topic] = set
		}
		set[conn] = struct{}{}
		s.mu.Unlock()
	}

	m.reverseMu.Lock()
	defer m.reverseMu.Unlock()
	subs, ok := m.reverse[conn]
	if !ok {
		subs = make(map[string]struct{})
		m.reverse[conn] = subs
	}
	for _, topic := range topics {
		subs[topic] = struct{}{}
	}
}

// Remove unregisters conn from topics, or from every topic it is
// currently registered under when topics is nil.
func (m *Manager) Remove(conn Connection, topics []string) {
	if topics == nil {
		m.reverseMu.Lock()
		subs := m.reverse[conn]
		topics = make([]string, 0, len(subs))
		for topic := range subs {
			topics = append(topics, topic)
		}
		delete(m.reverse, conn)
		m.reverseMu.Unlock()
	} else {
		m.reverseMu.Lock()
		if subs, ok := m.reverse[conn]; ok {
			for _, topic := range topics {
				delete(subs, topic)
			}
			if len(subs) == 0 {
				delete(m.reverse, conn)
			}
		}
		m.reverseMu.Unlock()
	}

	for _, topic := range topics {
		s := m.shardFor(topic)
		s.mu.Lock()
		if set, ok := s.topics[topic]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(s.topics, topic)
			}
		}
		s.mu.Unlock()
	}
}

// Broadcast implements the mandated snapshot-then-send: the subscriber
// set is copied under the topic shard's lock, the lock is released, and
// sends happen outside it so one slow client cannot stall delivery to
// the rest or to other topics. Connections whose send fails or exceeds
// sendDeadline are removed from the registry and closed after the send
// loop, before Broadcast returns.
func (m *Manager) Broadcast(ctx context.Context, topic string, msg message.Message) int {
	s := m.shardFor(topic)

	s.mu.RLock()
	set, ok := s.topics[topic]
	if !ok || len(set) == 0 {
		s.mu.RUnlock()
		return 0
	}
	snapshot := make([]Connection, 0, len(set))
	for conn := range set {
		snapshot = append(snapshot, conn)
	}
	s.mu.RUnlock()

	delivered := 0
	var dead []Connection
	for _, conn := range snapshot {
		sendCtx, cancel := context.WithTimeout(ctx, sendDeadline)
		err := conn.Send(sendCtx, msg)
		cancel()
		if err != nil {
			dead = append(dead, conn)
			m.droppedSends.Add(1)
			continue
		}
		delivered++
	}

	for _, conn := range dead {
		m.Remove(conn, nil)
		_ = conn.Close()
	}

	return delivered
}

// RecordAck tracks an advisory ack for metrics per SPEC_FULL §4.6; acks
// never gate delivery, which is already committed by the time a client
// can observe a message_id to ack.
func (m *Manager) RecordAck() {
	m.acksRecorded.Add(1)
}

func (m *Manager) AckCount() int64 {
	return m.acksRecorded.Load()
}

func (m *Manager) DroppedSendCount() int64 {
	return m.droppedSends.Load()
}

// SubscriberCount reports the current subscriber count for topic, used
// by tests.
func (m *Manager) SubscriberCount(topic string) int {
	s := m.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}
