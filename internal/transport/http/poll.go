package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// PollHandler serves POST /messages/poll, delegating entirely to C4
// after authorization (performed inside pollmgr.Manager.Poll).
type PollHandler struct {
	mgr *pollmgr.Manager
}

func NewPollHandler(mgr *pollmgr.Manager) *PollHandler {
	return &PollHandler{mgr: mgr}
}

type pollBody struct {
	Topics []string          `json:"topics"`
	Since  map[string]string `json:"since,omitempty"`
	// Timeout is a pointer so an absent field (use the server default)
	// is distinguishable from an explicit 0 (non-blocking poll).
	Timeout *int `json:"timeout,omitempty"`
}

type pollMessageResponse struct {
	MessageID string            `json:"message_id"`
	Topic     string            `json:"topic"`
	Payload   json.RawMessage   `json:"payload"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	StreamID  string            `json:"stream_id,omitempty"`
}

type pollResponse struct {
	Messages []pollMessageResponse `json:"messages"`
	HasMore  bool                  `json:"has_more"`
}

func (h *PollHandler) Poll(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	var body pollBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}
	if len(body.Topics) == 0 {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "at least one topic required"))
		return
	}

	var timeout *time.Duration
	if body.Timeout != nil {
		d := time.Duration(*body.Timeout) * time.Second
		timeout = &d
	}
	result, err := h.mgr.Poll(r.Context(), id, body.Topics, body.Since, timeout)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	messages := make([]pollMessageResponse, len(result.Messages))
	for i, m := range result.Messages {
		messages[i] = pollMessageResponse{
			MessageID: m.MessageID,
			Topic:     m.Topic,
			Payload:   m.Payload,
			Timestamp: m.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
			Metadata:  m.Metadata,
			StreamID:  m.StreamID,
		}
	}

	writeJSON(w, http.StatusOK, pollResponse{Messages: messages, HasMore: result.HasMore})
}
