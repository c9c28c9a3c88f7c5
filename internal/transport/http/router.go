package http

import (
	"net/http"
	"strings"

	"github.com/mvdbeek/pulsar-relay/internal/authz"
	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/pollmgr"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// NewMux assembles the full HTTP surface named in SPEC_FULL §6, wrapping
// every authenticated route with WithAuth.
func NewMux(auth identity.Authenticator, store authz.TopicStore, oracle *authz.Oracle, pipeline *publish.Pipeline, pollMgr *pollmgr.Manager, backend storage.Backend, maxPayload int) *http.ServeMux {
	mux := http.NewServeMux()

	messages := NewMessagesHandler(pipeline, maxPayload)
	poll := NewPollHandler(pollMgr)
	topics := NewTopicsHandler(store, oracle)
	health := NewHealthHandler(backend)

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /ready", health.Ready)

	mux.HandleFunc("POST /api/v1/messages", WithAuth(auth, messages.Publish))
	mux.HandleFunc("POST /api/v1/messages/bulk", WithAuth(auth, messages.PublishBulk))
	mux.HandleFunc("POST /messages/poll", WithAuth(auth, poll.Poll))

	mux.HandleFunc("POST /api/v1/topics", WithAuth(auth, topics.Create))
	mux.HandleFunc("GET /api/v1/topics", WithAuth(auth, topics.List))
	mux.HandleFunc("/api/v1/topics/", WithAuth(auth, dispatchTopicSubpath(topics)))

	return mux
}

// NewHealthMux builds a standalone mux carrying only /health and /ready,
// for deployments that set PULSAR_HEALTH_ADDR to serve liveness checks
// on a listener separate from the main traffic port.
func NewHealthMux(backend storage.Backend) *http.ServeMux {
	mux := http.NewServeMux()
	health := NewHealthHandler(backend)
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /ready", health.Ready)
	return mux
}

// dispatchTopicSubpath routes the {name}[/permissions[/{user}]] subtree,
// which net/http's pattern-based mux cannot express with a single method
// + wildcard pattern once both GET/PUT/DELETE and a nested permissions
// resource are involved.
func dispatchTopicSubpath(h *TopicsHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, suffix := topicNameAndSuffix(r.URL.Path)

		switch {
		case suffix == "" && r.Method == http.MethodGet:
			h.Get(w, r)
		case suffix == "" && r.Method == http.MethodPut:
			h.Update(w, r)
		case suffix == "" && r.Method == http.MethodDelete:
			h.Delete(w, r)
		case suffix == "permissions" && r.Method == http.MethodPost:
			h.Grant(w, r)
		case suffix == "permissions" && r.Method == http.MethodGet:
			h.ListPermissions(w, r)
		case strings.HasPrefix(suffix, "permissions/") && r.Method == http.MethodDelete:
			h.Revoke(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}
