// Package memory provides an in-memory implementation of
// transport.ConversationStore for testing and lightweight deployments.
// Conversations are stored in memory and lost when the process restarts.
// Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/sessions"
	"github.com/loopedlocal/agentd/pkg/transport"
)

// entry holds a stored conversation and its metadata.
type entry struct {
	conv     transport.Conversation
	tenantID string
	lruElem  *list.Element // position in LRU list
}

// Store is an in-memory ConversationStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order, used for listing
	lruList *list.List
	maxSize int // 0 = unlimited
}

// Ensure Store implements transport.ConversationStore at compile time.
var _ transport.ConversationStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used conversation is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// CreateConversation creates a new conversation with its first message.
func (s *Store) CreateConversation(ctx context.Context, id string, first agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return sessions.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(id)
	s.entries[id] = &entry{
		conv:     transport.Conversation{ID: id, Messages: []agent.Message{first}},
		tenantID: sessions.GetTenant(ctx),
		lruElem:  elem,
	}
	s.order = append(s.order, id)

	return nil
}

// AppendMessages appends messages to an existing conversation.
func (s *Store) AppendMessages(ctx context.Context, id string, messages []agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return sessions.ErrNotFound
	}
	if tenantID := sessions.GetTenant(ctx); tenantID != "" && e.tenantID != tenantID {
		return sessions.ErrNotFound
	}

	e.conv.Messages = append(e.conv.Messages, messages...)
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// GetConversation retrieves a conversation by ID and marks it as the
// most recently used.
func (s *Store) GetConversation(ctx context.Context, id string) (*transport.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	if tenantID := sessions.GetTenant(ctx); tenantID != "" && e.tenantID != tenantID {
		return nil, sessions.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)

	conv := e.conv
	return &conv, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return sessions.ErrNotFound
	}
	if tenantID := sessions.GetTenant(ctx); tenantID != "" && e.tenantID != tenantID {
		return sessions.ErrNotFound
	}

	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListConversations returns a paginated list of stored conversations,
// filtered by tenant, ordered by conversation ID.
func (s *Store) ListConversations(ctx context.Context, opts transport.ListOptions) (*transport.ConversationList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := sessions.GetTenant(ctx)

	var ids []string
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if opts.After != "" {
		idx := -1
		for i, id := range ids {
			if id == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			ids = ids[idx+1:]
		} else {
			ids = nil
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	result := &transport.ConversationList{HasMore: hasMore}
	for _, id := range ids {
		result.Data = append(result.Data, s.entries[id].conv)
	}
	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used conversation.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
