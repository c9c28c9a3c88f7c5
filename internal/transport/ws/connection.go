package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mvdbeek/pulsar-relay/internal/message"
)

// sendBufferSize bounds the per-connection outbound queue; a slow
// consumer that falls behind gets its connection dropped rather than
// letting the queue grow without bound, mirroring the bridge's
// client.send buffered channel in NathanFrund-Goby.
const sendBufferSize = 256

// writeTimeout bounds a single frame write, the same 10s
// context.WithTimeout around conn.Write that the bridge uses. The write
// pump applies it to every frame; broadcast sends are additionally
// bounded by C3.Broadcast's own 100ms send deadline when enqueued.
const writeTimeout = 10 * time.Second

// connection is the connmgr.Connection implementation wrapping a single
// coder/websocket socket, grounded on NathanFrund-Goby's ClientV2: a
// buffered send channel plus a dedicated writePump goroutine so only one
// goroutine ever calls conn.Write, and a readPump goroutine driving the
// state machine in handler.go.
type connection struct {
	id   string
	conn *websocket.Conn

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id string, c *websocket.Conn) *connection {
	return &connection{
		id:     id,
		conn:   c,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *connection) ID() string { return c.id }

// Send implements connmgr.Connection. It never blocks past ctx's
// deadline: if the outbound queue is full the send is dropped and
// reported as an error so connmgr treats the connection as dead.
func (c *connection) Send(ctx context.Context, msg message.Message) error {
	payload, err := json.Marshal(toMessageFrame(msg))
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return websocket.CloseError{Code: websocket.StatusNormalClosure}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendControl queues a control frame (subscribed/unsubscribed/error/pong)
// with no deadline beyond the buffer itself; these are always a direct
// reply to a frame the client just sent, so the buffer has room.
func (c *connection) sendControl(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return websocket.CloseError{Code: websocket.StatusNormalClosure}
	}
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close(websocket.StatusNormalClosure, "server closing connection")
}

// writePump owns the only call site of conn.Write for this connection;
// coder/websocket connections are not safe for concurrent writes.
func (c *connection) writePump() {
	defer c.conn.Close(websocket.StatusInternalError, "write pump exited")
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
