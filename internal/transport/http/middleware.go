package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/mvdbeek/pulsar-relay/internal/identity"
	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

type identityContextKey struct{}

// WithAuth wraps next with bearer-token authentication, stashing the
// resolved identity.Identity in the request context for handlers to
// retrieve via identityFromContext.
func WithAuth(auth identity.Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		id, err := auth.Authenticate(token)
		if err != nil {
			writeError(w, requestID(r), err)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, id)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func identityFromContext(ctx context.Context) (identity.Identity, error) {
	id, ok := ctx.Value(identityContextKey{}).(identity.Identity)
	if !ok {
		return identity.Identity{}, pulsarerr.New(pulsarerr.Unauthorized, "missing identity in request context")
	}
	return id, nil
}
