package chatsync

import (
	"sort"
	"sync"
	"time"
)

// Store is the local cache for chats and messages. It lets an application
// render the last known state before the network answers; the session treats
// server data as authoritative and overwrites cached entries on refresh.
//
// Presence is deliberately absent: it is ephemeral and never persisted.
type Store interface {
	PutChats(chats []Chat) error
	Chats() ([]Chat, error)
	PutMessages(msgs []Message) error
	Messages(chatID string, limit int, before time.Time) ([]Message, error)
	DeleteMessage(id string) error
	Close() error
}

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]Chat
	messages map[string]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]Chat),
		messages: make(map[string]Message),
	}
}

// PutChats upserts conversations by id.
func (s *MemoryStore) PutChats(chats []Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return nil
}

// Chats returns all cached conversations, newest-updated first.
func (s *MemoryStore) Chats() ([]Chat, error) {
	s.mu.RLock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// PutMessages upserts messages by id. Optimistic entries are skipped; only
// confirmed messages belong in the cache.
func (s *MemoryStore) PutMessages(msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.Optimistic() || m.ID == "" {
			continue
		}
		s.messages[m.ID] = m
	}
	return nil
}

// Messages returns up to limit messages of chatID strictly older than before,
// oldest-first. A zero before returns the newest page.
func (s *MemoryStore) Messages(chatID string, limit int, before time.Time) ([]Message, error) {
	s.mu.RLock()
	matched := make([]Message, 0)
	for _, m := range s.messages {
		if m.ChatID != chatID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		matched = append(matched, m)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// DeleteMessage removes a message from the cache.
func (s *MemoryStore) DeleteMessage(id string) error {
	s.mu.Lock()
	delete(s.messages, id)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
