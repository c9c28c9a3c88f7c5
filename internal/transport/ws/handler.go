package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/connmgr"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// Config tunes the per-connection state machine.
type Config struct {
	HeartbeatInterval time.Duration // default 30s
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: 30 * time.Second}
}

// Handler upgrades HTTP requests to push sockets and drives the
// per-connection state machine in SPEC_FULL §4.6.
type Handler struct {
	cfg    Config
	auth   identity.Authenticator
	oracle *authz.Oracle
	mgr    *connmgr.Manager
	log    zerolog.Logger
}

func NewHandler(cfg Config, auth identity.Authenticator, oracle *authz.Oracle, mgr *connmgr.Manager, log zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, auth: auth, oracle: oracle, mgr: mgr, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	id, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.mgr.TryReserve() {
		http.Error(w, "at connection capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		h.mgr.Release()
		return
	}

	sessionID := uuid.NewString()
	c := newConnection(sessionID, conn)
	go c.writePump()

	h.readPump(r.Context(), c, id)
}

// readPump drives the Connecting -> Accepted -> Active -> Closing state
// machine for a single connection.
func (h *Handler) readPump(ctx context.Context, c *connection, id identity.Identity) {
	defer func() {
		h.mgr.Remove(c, nil)
		h.mgr.Release()
		_ = c.Close()
	}()

	active := false

	heartbeat := h.cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	for {
		readCtx, cancel := context.WithTimeout(ctx, 2*heartbeat)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				h.log.Debug().Str("session_id", c.id).Err(err).Msg("push socket read error")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case FrameSubscribe:
			if !active && len(frame.Topics) == 0 {
				_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "first frame must be subscribe with at least one topic"})
				continue
			}
			allowed, deny := h.authorizeTopics(ctx, id, frame.Topics)
			if deny != "" {
				_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.Unauthorized), Message: "not authorized for topic " + deny})
				if !active {
					return
				}
				continue
			}
			h.mgr.Add(c, allowed)
			active = true
			_ = c.sendControl(subscribedFrame{Type: FrameSubscribed, Topics: allowed, SessionID: c.id})

		case FrameUnsubscribe:
			if !active {
				_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "first frame must be subscribe"})
				return
			}
			h.mgr.Remove(c, frame.Topics)
			_ = c.sendControl(unsubscribedFrame{Type: FrameUnsubscribed, Topics: frame.Topics})

		case FrameAck:
			if !active {
				_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "first frame must be subscribe"})
				return
			}
			h.mgr.RecordAck()

		case FramePing:
			_ = c.sendControl(pongFrame{Type: FramePong})

		default:
			if !active {
				_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "first frame must be subscribe"})
				return
			}
			_ = c.sendControl(errorFrame{Type: FrameError, Code: string(pulsarerr.InvalidRequest), Message: "unknown frame type"})
		}
	}
}

// authorizeTopics checks every topic for read access; on the first
// denial it stops and returns that topic name, per SPEC_FULL §4.6's
// "do NOT register any topic from that frame" on partial auth failure.
func (h *Handler) authorizeTopics(ctx context.Context, id identity.Identity, topics []string) ([]string, string) {
	for _, topic := range topics {
		decision, err := h.oracle.Authorize(ctx, id, topic, authz.ActionRead)
		if err != nil || decision != authz.Allow {
			return nil, topic
		}
	}
	return topics, ""
}
