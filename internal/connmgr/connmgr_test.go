package connmgr_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/message"
)

type fakeConn struct {
	id      string
	mu      sync.Mutex
	got     []message.Message
	closed  bool
	failing bool
	stall   time.Duration
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, msg message.Message) error {
	if c.stall > 0 {
		select {
		case <-time.After(c.stall):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.failing {
		return assert.AnError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.got...)
}

func TestManagerBroadcastDeliversToSubscribers(t *testing.T) {
	m := connmgr.NewManager()
	a := newFakeConn("a")
	b := newFakeConn("b")

	m.Add(a, []string{"topic1"})
	m.Add(b, []string{"topic1", "topic2"})

	msg := message.Message{MessageID: "msg_1", Topic: "topic1", Payload: json.RawMessage(`{}`)}
	delivered := m.Broadcast(context.Background(), "topic1", msg)

	assert.Equal(t, 2, delivered)
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)

	delivered = m.Broadcast(context.Background(), "topic2", msg)
	assert.Equal(t, 1, delivered)
}

func TestManagerBroadcastDropsDeadConnection(t *testing.T) {
	m := connmgr.NewManager()
	good := newFakeConn("good")
	bad := newFakeConn("bad")
	bad.failing = true

	m.Add(good, []string{"t"})
	m.Add(bad, []string{"t"})

	msg := message.Message{MessageID: "msg_1", Topic: "t", Payload: json.RawMessage(`{}`)}
	delivered := m.Broadcast(context.Background(), "t", msg)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, m.SubscriberCount("t"))
	require.True(t, bad.closed)
}

func TestManagerRemoveAll(t *testing.T) {
	m := connmgr.NewManager()
	conn := newFakeConn("c")
	m.Add(conn, []string{"t1", "t2", "t3"})

	m.Remove(conn, nil)

	assert.Equal(t, 0, m.SubscriberCount("t1"))
	assert.Equal(t, 0, m.SubscriberCount("t2"))
	assert.Equal(t, 0, m.SubscriberCount("t3"))
}

func TestManagerRemoveSpecificTopics(t *testing.T) {
	m := connmgr.NewManager()
	conn := newFakeConn("c")
	m.Add(conn, []string{"t1", "t2"})

	m.Remove(conn, []string{"t1"})

	assert.Equal(t, 0, m.SubscriberCount("t1"))
	assert.Equal(t, 1, m.SubscriberCount("t2"))
}

func TestManagerAckCount(t *testing.T) {
	m := connmgr.NewManager()
	m.RecordAck()
	m.RecordAck()
	assert.Equal(t, int64(2), m.AckCount())
}

func TestManagerTryReserveEnforcesMaxConnections(t *testing.T) {
	m := connmgr.NewManager(connmgr.WithMaxConnections(2))

	require.True(t, m.TryReserve())
	require.True(t, m.TryReserve())
	require.False(t, m.TryReserve())
	assert.Equal(t, int64(2), m.ConnectionCount())
	assert.Equal(t, int64(1), m.RejectedConnectionCount())

	m.Release()
	assert.Equal(t, int64(1), m.ConnectionCount())
	require.True(t, m.TryReserve())
}

func TestManagerTryReserveDefaultCapAdmitsMany(t *testing.T) {
	m := connmgr.NewManager()
	for i := 0; i < 100; i++ {
		require.True(t, m.TryReserve())
	}
	assert.Equal(t, int64(100), m.ConnectionCount())
}

func TestManagerWithShardCountStillRoutesConsistently(t *testing.T) {
	m := connmgr.NewManager(connmgr.WithShardCount(4))
	conn := newFakeConn("c")
	m.Add(conn, []string{"t1", "t2", "t3", "t4", "t5"})

	for _, topic := range []string{"t1", "t2", "t3", "t4", "t5"} {
		assert.Equal(t, 1, m.SubscriberCount(topic))
	}
}
