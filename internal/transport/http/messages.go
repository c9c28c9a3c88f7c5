package http

import (
	"encoding/json"
	"net/http"

	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// MessagesHandler serves POST /api/v1/messages and /api/v1/messages/bulk.
type MessagesHandler struct {
	pipeline   *publish.Pipeline
	maxPayload int
}

func NewMessagesHandler(pipeline *publish.Pipeline, maxPayload int) *MessagesHandler {
	return &MessagesHandler{pipeline: pipeline, maxPayload: maxPayload}
}

type publishBody struct {
	Topic    string            `json:"topic"`
	Payload  json.RawMessage   `json:"payload"`
	TTL      *int64            `json:"ttl,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type publishResponse struct {
	MessageID string `json:"message_id"`
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
}

func (h *MessagesHandler) Publish(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload)+4096)
	var body publishBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}

	result, err := h.pipeline.Publish(r.Context(), id, publish.Request{
		Topic:    body.Topic,
		Payload:  body.Payload,
		TTL:      body.TTL,
		Metadata: body.Metadata,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	writeJSON(w, http.StatusCreated, publishResponse{
		MessageID: result.MessageID,
		Topic:     result.Topic,
		Timestamp: result.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
	})
}

type bulkBody struct {
	Messages []publishBody `json:"messages"`
}

type bulkEntryResponse struct {
	Status    string `json:"status"` // "accepted" or "rejected"
	MessageID string `json:"message_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

type bulkResponse struct {
	Results []bulkEntryResponse `json:"results"`
}

func (h *MessagesHandler) PublishBulk(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload)*64+4096)
	var body bulkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}

	reqs := make([]publish.Request, len(body.Messages))
	for i, m := range body.Messages {
		reqs[i] = publish.Request{Topic: m.Topic, Payload: m.Payload, TTL: m.TTL, Metadata: m.Metadata}
	}

	entries := h.pipeline.PublishBulk(r.Context(), id, reqs)
	results := make([]bulkEntryResponse, len(entries))
	for i, e := range entries {
		if e.Err != nil {
			pe, ok := pulsarerr.As(e.Err)
			code := string(pulsarerr.InternalError)
			if ok {
				code = string(pe.Code)
			}
			results[i] = bulkEntryResponse{Status: "rejected", Error: code}
			continue
		}
		results[i] = bulkEntryResponse{
			Status:    "accepted",
			MessageID: e.Result.MessageID,
			Topic:     e.Result.Topic,
			Timestamp: e.Result.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		}
	}

	writeJSON(w, http.StatusMultiStatus, bulkResponse{Results: results})
}
