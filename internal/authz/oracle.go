package authz

import (
	"context"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/identity"
)

// Action is the capability being checked.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Decision is the oracle's verdict per SPEC_FULL §4.2.
type Decision string

const (
	Allow         Decision = "ALLOW"
	DenyNoScope   Decision = "DENY_NO_SCOPE"
	DenyNoAccess  Decision = "DENY_NO_ACCESS"
	TopicNotFound Decision = "TOPIC_NOT_FOUND"
)

// Oracle resolves "may user U perform action A on topic T?" against a
// TopicStore, with a bounded TTL cache of resolved decisions in front of
// it so repeated checks (e.g. per-message publish authorization under
// load) don't hit the registry every time.
type Oracle struct {
	store TopicStore
	cache *ttlCache
}

// Option configures an Oracle's cache sizing.
type Option func(*Oracle)

// WithCacheTTL overrides the default 5s decision cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Oracle) { o.cache.ttl = ttl }
}

// WithCacheMaxEntries overrides the default 10,000-entry cache bound.
func WithCacheMaxEntries(n int) Option {
	return func(o *Oracle) { o.cache.maxEntries = n }
}

func NewOracle(store TopicStore, opts ...Option) *Oracle {
	o := &Oracle{store: store, cache: newTTLCache(5*time.Second, 10_000)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Authorize implements the algorithm in SPEC_FULL §4.2: lookup topic; if
// absent, TOPIC_NOT_FOUND. Check scope; if lacking, DENY_NO_SCOPE. For
// read, public OR owner OR granted OR admin allows; for write, public
// does not imply allow - only owner, grantee, or admin.
func (o *Oracle) Authorize(ctx context.Context, id identity.Identity, topic string, action Action) (Decision, error) {
	key := decisionKey(id.UserID, topic, action)
	now := time.Now()
	if d, ok := o.cache.get(key, now); ok {
		return d, nil
	}

	d, err := o.authorizeUncached(ctx, id, topic, action)
	if err != nil {
		return "", err
	}
	o.cache.set(key, d, now)
	return d, nil
}

func (o *Oracle) authorizeUncached(ctx context.Context, id identity.Identity, topic string, action Action) (Decision, error) {
	t, ok, err := o.store.GetTopic(ctx, topic)
	if err != nil {
		return "", err
	}
	if !ok {
		return TopicNotFound, nil
	}

	requiredScope := identity.ScopeRead
	if action == ActionWrite {
		requiredScope = identity.ScopeWrite
	}
	if !id.IsAdmin && !id.HasScope(requiredScope) {
		return DenyNoScope, nil
	}

	if id.IsAdmin {
		return Allow, nil
	}
	if t.OwnerUserID == id.UserID {
		return Allow, nil
	}

	switch action {
	case ActionRead:
		if t.IsPublic {
			return Allow, nil
		}
		granted, err := o.store.HasGrant(ctx, topic, id.UserID)
		if err != nil {
			return "", err
		}
		if granted {
			return Allow, nil
		}
		return DenyNoAccess, nil
	case ActionWrite:
		granted, err := o.store.HasGrant(ctx, topic, id.UserID)
		if err != nil {
			return "", err
		}
		if granted {
			return Allow, nil
		}
		return DenyNoAccess, nil
	default:
		return DenyNoAccess, nil
	}
}

// InvalidateTopic drops every cached decision for topic; call after
// update_topic/grant_access/revoke_access/delete_topic.
func (o *Oracle) InvalidateTopic(topic string) {
	o.cache.invalidateTopic(topic)
}
