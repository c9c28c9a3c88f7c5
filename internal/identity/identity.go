// Package identity defines the boundary crossed from the external JWT
// collaborator: an already-authenticated caller's user id, admin flag,
// and scope set. Nothing in this package performs token issuance or
// verification; that is explicitly out of scope per SPEC_FULL §1.
package identity

import (
	"sync"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// Scope is a capability a caller may hold.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Identity is the opaque value passed from the Authenticator boundary
// into C2-C6. Components never construct one from raw request fields.
type Identity struct {
	UserID  string
	IsAdmin bool
	Scopes  map[Scope]bool
}

// HasScope reports whether the identity carries scope s (admins are not
// implicitly granted read/write scopes here - scope and topic-level admin
// bypass are separate axes per SPEC_FULL §4.2).
func (id Identity) HasScope(s Scope) bool {
	return id.Scopes[s]
}

// Authenticator is the boundary interface: given a bearer token, produce
// an Identity or fail with Unauthorized. Real implementations (JWT
// verification, user-account lookup) live outside this module's scope;
// only a development stand-in is provided here.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// StaticAuthenticator resolves tokens from an in-memory map, the same
// "swap the real thing for a fake in examples" shape the teacher uses in
// examples/with-auth/main.go (PublishToken/ListenToken). Intended for
// local development, tests, and example wiring - never production.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{tokens: make(map[string]Identity)}
}

// Register associates a bearer token with an Identity.
func (a *StaticAuthenticator) Register(token string, id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = id
}

func (a *StaticAuthenticator) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, pulsarerr.New(pulsarerr.Unauthorized, "missing token")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.tokens[token]
	if !ok {
		return Identity{}, pulsarerr.New(pulsarerr.Unauthorized, "unknown token")
	}
	return id, nil
}
