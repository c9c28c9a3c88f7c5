package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// TopicsHandler serves the /api/v1/topics* CRUD + permissions surface,
// restored from the source's app/auth/topic_storage.py + app/api/topics.py
// per SPEC_FULL §4.2 EXPANSION.
type TopicsHandler struct {
	store  authz.TopicStore
	oracle *authz.Oracle
}

func NewTopicsHandler(store authz.TopicStore, oracle *authz.Oracle) *TopicsHandler {
	return &TopicsHandler{store: store, oracle: oracle}
}

type topicResponse struct {
	Name        string `json:"topic_name"`
	OwnerUserID string `json:"owner_user_id"`
	IsPublic    bool   `json:"is_public"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toTopicResponse(t authz.Topic) topicResponse {
	return topicResponse{
		Name:        t.Name,
		OwnerUserID: t.OwnerUserID,
		IsPublic:    t.IsPublic,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		UpdatedAt:   t.UpdatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
}

type createTopicBody struct {
	TopicName   string `json:"topic_name"`
	IsPublic    bool   `json:"is_public,omitempty"`
	Description string `json:"description,omitempty"`
}

// Create serves POST /api/v1/topics.
func (h *TopicsHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	var body createTopicBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}

	topic, err := h.store.CreateTopic(r.Context(), id.UserID, body.TopicName, body.IsPublic, body.Description)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	h.oracle.InvalidateTopic(topic.Name)
	writeJSON(w, http.StatusCreated, toTopicResponse(topic))
}

// List serves GET /api/v1/topics (accessible topics for the caller).
func (h *TopicsHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	topics, err := h.store.ListAccessibleTopics(r.Context(), id.UserID)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	out := make([]topicResponse, len(topics))
	for i, t := range topics {
		out[i] = toTopicResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// topicNameAndSuffix splits "/api/v1/topics/{name}[/permissions[/{user}]]".
func topicNameAndSuffix(path string) (name, suffix string) {
	const prefix = "/api/v1/topics/"
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Get serves GET /api/v1/topics/{name}.
func (h *TopicsHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, _ := topicNameAndSuffix(r.URL.Path)
	decision, err := h.oracle.Authorize(r.Context(), id, name, authz.ActionRead)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	if decision == authz.TopicNotFound {
		writeError(w, reqID, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found"))
		return
	}
	if decision != authz.Allow {
		writeError(w, reqID, pulsarerr.New(pulsarerr.Forbidden, "not authorized for topic"))
		return
	}

	topic, ok, err := h.store.GetTopic(r.Context(), name)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	if !ok {
		writeError(w, reqID, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found"))
		return
	}
	writeJSON(w, http.StatusOK, toTopicResponse(topic))
}

type updateTopicBody struct {
	IsPublic    *bool   `json:"is_public,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Update serves PUT /api/v1/topics/{name}; owner or admin only.
func (h *TopicsHandler) Update(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, _ := topicNameAndSuffix(r.URL.Path)
	if !h.mustOwnOrAdmin(w, r, reqID, name, id.UserID, id.IsAdmin) {
		return
	}

	var body updateTopicBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}

	topic, err := h.store.UpdateTopic(r.Context(), name, body.IsPublic, body.Description)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	h.oracle.InvalidateTopic(name)
	writeJSON(w, http.StatusOK, toTopicResponse(topic))
}

// Delete serves DELETE /api/v1/topics/{name}; owner or admin only.
func (h *TopicsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, _ := topicNameAndSuffix(r.URL.Path)
	if !h.mustOwnOrAdmin(w, r, reqID, name, id.UserID, id.IsAdmin) {
		return
	}

	if _, err := h.store.DeleteTopic(r.Context(), name); err != nil {
		writeError(w, reqID, err)
		return
	}
	h.oracle.InvalidateTopic(name)
	w.WriteHeader(http.StatusNoContent)
}

type grantBody struct {
	Username string `json:"username"`
}

// Grant serves POST /api/v1/topics/{name}/permissions; owner or admin
// only. Field name is "username" per SPEC_FULL §6's endpoint table.
func (h *TopicsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, _ := topicNameAndSuffix(r.URL.Path)
	if !h.mustOwnOrAdmin(w, r, reqID, name, id.UserID, id.IsAdmin) {
		return
	}

	var body grantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, reqID, pulsarerr.New(pulsarerr.InvalidRequest, "malformed JSON body"))
		return
	}

	if err := h.store.GrantAccess(r.Context(), name, body.Username); err != nil {
		writeError(w, reqID, err)
		return
	}
	h.oracle.InvalidateTopic(name)
	w.WriteHeader(http.StatusOK)
}

// Revoke serves DELETE /api/v1/topics/{name}/permissions/{user_id};
// owner or admin only.
func (h *TopicsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, suffix := topicNameAndSuffix(r.URL.Path)
	userID := strings.TrimPrefix(suffix, "permissions/")
	if !h.mustOwnOrAdmin(w, r, reqID, name, id.UserID, id.IsAdmin) {
		return
	}

	if err := h.store.RevokeAccess(r.Context(), name, userID); err != nil {
		writeError(w, reqID, err)
		return
	}
	h.oracle.InvalidateTopic(name)
	w.WriteHeader(http.StatusNoContent)
}

// ListPermissions serves GET /api/v1/topics/{name}/permissions; owner
// or admin only.
func (h *TopicsHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	name, _ := topicNameAndSuffix(r.URL.Path)
	if !h.mustOwnOrAdmin(w, r, reqID, name, id.UserID, id.IsAdmin) {
		return
	}

	users, err := h.store.ListPermissions(r.Context(), name)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	type grantee struct {
		UserID string `json:"user_id"`
	}
	out := make([]grantee, len(users))
	for i, u := range users {
		out[i] = grantee{UserID: u}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TopicsHandler) mustOwnOrAdmin(w http.ResponseWriter, r *http.Request, reqID, name, callerID string, isAdmin bool) bool {
	topic, ok, err := h.store.GetTopic(r.Context(), name)
	if err != nil {
		writeError(w, reqID, err)
		return false
	}
	if !ok {
		writeError(w, reqID, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found"))
		return false
	}
	if !isAdmin && topic.OwnerUserID != callerID {
		writeError(w, reqID, pulsarerr.New(pulsarerr.Forbidden, "owner or admin required"))
		return false
	}
	return true
}
