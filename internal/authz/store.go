// Package authz implements C2: the authorization oracle and the topic
// registry it consults, per SPEC_FULL §4.2.
package authz

import (
	"context"
	"time"
)

// Topic is the registry record consulted by the oracle and returned by
// the /api/v1/topics* surface.
type Topic struct {
	Name        string
	OwnerUserID string
	IsPublic    bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TopicStore is the registry persistence contract; MemoryTopicStore and
// PostgresTopicStore both satisfy it.
type TopicStore interface {
	CreateTopic(ctx context.Context, ownerUserID, name string, isPublic bool, description string) (Topic, error)
	GetTopic(ctx context.Context, name string) (Topic, bool, error)
	ListOwnedTopics(ctx context.Context, userID string) ([]Topic, error)
	ListAccessibleTopics(ctx context.Context, userID string) ([]Topic, error)
	UpdateTopic(ctx context.Context, name string, isPublic *bool, description *string) (Topic, error)
	DeleteTopic(ctx context.Context, name string) (bool, error)
	GrantAccess(ctx context.Context, name, granteeUserID string) error
	RevokeAccess(ctx context.Context, name, granteeUserID string) error
	ListPermissions(ctx context.Context, name string) ([]string, error)

	// HasGrant is consulted by the oracle directly so it need not pull a
	// full ListPermissions scan just to test one user's access.
	HasGrant(ctx context.Context, name, userID string) (bool, error)
}
