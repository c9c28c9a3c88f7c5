package authz

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// PostgresTopicStore is the durable registry implementation, adapted
// from the teacher's pgx usage: where ssepg.go holds a single dedicated
// pgx.Conn for LISTEN/NOTIFY, the registry instead needs concurrent
// request-serving callers, so it pools connections via pgxpool rather
// than dedicating one.
type PostgresTopicStore struct {
	pool *pgxpool.Pool
}

func NewPostgresTopicStore(ctx context.Context, dsn string) (*PostgresTopicStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, pulsarerr.Wrap(pulsarerr.InternalError, "invalid postgres dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "failed to open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "postgres ping failed", err)
	}

	s := &PostgresTopicStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the registry tables if absent. Production
// deployments are expected to manage schema via migrations; this exists
// so the store is usable standalone in tests and small deployments.
func (s *PostgresTopicStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pulsar_topics (
	name         TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	is_public    BOOLEAN NOT NULL DEFAULT false,
	description  TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pulsar_topic_grants (
	topic_name TEXT NOT NULL REFERENCES pulsar_topics(name) ON DELETE CASCADE,
	grantee_user_id TEXT NOT NULL,
	PRIMARY KEY (topic_name, grantee_user_id)
);
`)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.StorageUnavailable, "failed to ensure registry schema", err)
	}
	return nil
}

func (s *PostgresTopicStore) Close() {
	s.pool.Close()
}

func (s *PostgresTopicStore) CreateTopic(ctx context.Context, ownerUserID, name string, isPublic bool, description string) (Topic, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO pulsar_topics (name, owner_user_id, is_public, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`,
		name, ownerUserID, isPublic, description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Topic{}, pulsarerr.New(pulsarerr.InvalidRequest, "topic already exists")
		}
		return Topic{}, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "create_topic failed", err)
	}
	return Topic{
		Name: name, OwnerUserID: ownerUserID, IsPublic: isPublic,
		Description: description, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *PostgresTopicStore) GetTopic(ctx context.Context, name string) (Topic, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT name, owner_user_id, is_public, description, created_at, updated_at
FROM pulsar_topics WHERE name = $1`, name)

	var t Topic
	if err := row.Scan(&t.Name, &t.OwnerUserID, &t.IsPublic, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Topic{}, false, nil
		}
		return Topic{}, false, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "get_topic failed", err)
	}
	return t, true, nil
}

func (s *PostgresTopicStore) listTopics(ctx context.Context, query string, args ...any) ([]Topic, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "list topics failed", err)
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.Name, &t.OwnerUserID, &t.IsPublic, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "list topics scan failed", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresTopicStore) ListOwnedTopics(ctx context.Context, userID string) ([]Topic, error) {
	return s.listTopics(ctx, `
SELECT name, owner_user_id, is_public, description, created_at, updated_at
FROM pulsar_topics WHERE owner_user_id = $1 ORDER BY name`, userID)
}

func (s *PostgresTopicStore) ListAccessibleTopics(ctx context.Context, userID string) ([]Topic, error) {
	return s.listTopics(ctx, `
SELECT DISTINCT t.name, t.owner_user_id, t.is_public, t.description, t.created_at, t.updated_at
FROM pulsar_topics t
LEFT JOIN pulsar_topic_grants g ON g.topic_name = t.name AND g.grantee_user_id = $1
WHERE t.owner_user_id = $1 OR t.is_public OR g.grantee_user_id IS NOT NULL
ORDER BY t.name`, userID)
}

func (s *PostgresTopicStore) UpdateTopic(ctx context.Context, name string, isPublic *bool, description *string) (Topic, error) {
	existing, ok, err := s.GetTopic(ctx, name)
	if err != nil {
		return Topic{}, err
	}
	if !ok {
		return Topic{}, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	if isPublic != nil {
		existing.IsPublic = *isPublic
	}
	if description != nil {
		existing.Description = *description
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
UPDATE pulsar_topics SET is_public = $2, description = $3, updated_at = $4
WHERE name = $1`, name, existing.IsPublic, existing.Description, existing.UpdatedAt)
	if err != nil {
		return Topic{}, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "update_topic failed", err)
	}
	return existing, nil
}

func (s *PostgresTopicStore) DeleteTopic(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pulsar_topics WHERE name = $1`, name)
	if err != nil {
		return false, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "delete_topic failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresTopicStore) GrantAccess(ctx context.Context, name, granteeUserID string) error {
	_, ok, err := s.GetTopic(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO pulsar_topic_grants (topic_name, grantee_user_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, name, granteeUserID)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.StorageUnavailable, "grant_access failed", err)
	}
	return nil
}

func (s *PostgresTopicStore) RevokeAccess(ctx context.Context, name, granteeUserID string) error {
	_, err := s.pool.Exec(ctx, `
DELETE FROM pulsar_topic_grants WHERE topic_name = $1 AND grantee_user_id = $2`, name, granteeUserID)
	if err != nil {
		return pulsarerr.Wrap(pulsarerr.StorageUnavailable, "revoke_access failed", err)
	}
	return nil
}

func (s *PostgresTopicStore) ListPermissions(ctx context.Context, name string) ([]string, error) {
	_, ok, err := s.GetTopic(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}

	rows, err := s.pool.Query(ctx, `
SELECT grantee_user_id FROM pulsar_topic_grants WHERE topic_name = $1 ORDER BY grantee_user_id`, name)
	if err != nil {
		return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "list_permissions failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "list_permissions scan failed", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (s *PostgresTopicStore) HasGrant(ctx context.Context, name, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM pulsar_topic_grants WHERE topic_name = $1 AND grantee_user_id = $2)`,
		name, userID).Scan(&exists)
	if err != nil {
		return false, pulsarerr.Wrap(pulsarerr.StorageUnavailable, "has_grant failed", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
