package authz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/pulsarerr"
)

// MemoryTopicStore is the in-process registry implementation, mirroring
// the teacher's single-mutex-guarded-map style (the registry is expected
// to hold far fewer entries than the per-topic message logs in C1, so
// sharding is not warranted here).
type MemoryTopicStore struct {
	mu      sync.RWMutex
	topics  map[string]Topic
	grants  map[string]map[string]bool // topic -> grantee user ids
}

func NewMemoryTopicStore() *MemoryTopicStore {
	return &MemoryTopicStore{
		topics: make(map[string]Topic),
		grants: make(map[string]map[string]bool),
	}
}

func (s *MemoryTopicStore) CreateTopic(ctx context.Context, ownerUserID, name string, isPublic bool, description string) (Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.topics[name]; exists {
		return Topic{}, pulsarerr.New(pulsarerr.InvalidRequest, "topic already exists")
	}

	now := time.Now().UTC()
	t := Topic{
		Name:        name,
		OwnerUserID: ownerUserID,
		IsPublic:    isPublic,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.topics[name] = t
	return t, nil
}

func (s *MemoryTopicStore) GetTopic(ctx context.Context, name string) (Topic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[name]
	return t, ok, nil
}

func (s *MemoryTopicStore) ListOwnedTopics(ctx context.Context, userID string) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Topic
	for _, t := range s.topics {
		if t.OwnerUserID == userID {
			out = append(out, t)
		}
	}
	sortTopics(out)
	return out, nil
}

func (s *MemoryTopicStore) ListAccessibleTopics(ctx context.Context, userID string) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Topic
	for name, t := range s.topics {
		if t.OwnerUserID == userID || t.IsPublic || s.grants[name][userID] {
			if !seen[name] {
				seen[name] = true
				out = append(out, t)
			}
		}
	}
	sortTopics(out)
	return out, nil
}

func (s *MemoryTopicStore) UpdateTopic(ctx context.Context, name string, isPublic *bool, description *string) (Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[name]
	if !ok {
		return Topic{}, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	if isPublic != nil {
		t.IsPublic = *isPublic
	}
	if description != nil {
		t.Description = *description
	}
	t.UpdatedAt = time.Now().UTC()
	s.topics[name] = t
	return t, nil
}

func (s *MemoryTopicStore) DeleteTopic(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[name]; !ok {
		return false, nil
	}
	delete(s.topics, name)
	delete(s.grants, name)
	return true, nil
}

func (s *MemoryTopicStore) GrantAccess(ctx context.Context, name, granteeUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[name]; !ok {
		return pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	if s.grants[name] == nil {
		s.grants[name] = make(map[string]bool)
	}
	s.grants[name][granteeUserID] = true
	return nil
}

func (s *MemoryTopicStore) RevokeAccess(ctx context.Context, name, granteeUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[name]; !ok {
		return pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	delete(s.grants[name], granteeUserID)
	return nil
}

func (s *MemoryTopicStore) ListPermissions(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topics[name]; !ok {
		return nil, pulsarerr.New(pulsarerr.TopicNotFound, "topic not found")
	}
	out := make([]string, 0, len(s.grants[name]))
	for userID := range s.grants[name] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryTopicStore) HasGrant(ctx context.Context, name, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[name][userID], nil
}

func sortTopics(topics []Topic) {
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
}
