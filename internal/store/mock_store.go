// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat
	messages map[string][]*Message // keyed by chat ID, insertion order
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]*Message),
	}
}

// CreateChat stores a new chat.
func (m *MockStore) CreateChat(ctx context.Context, chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[chat.ID]; ok {
		return ErrDuplicateChat
	}
	// Make a copy to avoid external modification
	c := *chat
	m.chats[c.ID] = &c
	return nil
}

// GetChat retrieves a chat by ID.
func (m *MockStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

// ListChats returns chats with the most recently updated first.
func (m *MockStore) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out := *c
		chats = append(chats, &out)
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

// UpdateChatTitle renames a chat.
func (m *MockStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	return nil
}

// DeleteChat removes a chat and its messages.
func (m *MockStore) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	delete(m.messages, id)
	return nil
}

// SaveMessages stores messages, replacing any with the same ID.
func (m *MockStore) SaveMessages(ctx context.Context, msgs ...*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		if _, ok := m.chats[msg.ChatID]; !ok {
			return fmt.Errorf("saving message %s: chat %s: %w", msg.ID, msg.ChatID, ErrNotFound)
		}
	}

	for _, msg := range msgs {
		stored := *msg
		list := m.messages[msg.ChatID]
		if i := slices.IndexFunc(list, func(existing *Message) bool { return existing.ID == msg.ID }); i >= 0 {
			stored.CreatedAt = list[i].CreatedAt
			list[i] = &stored
		} else {
			m.messages[msg.ChatID] = append(list, &stored)
		}
		if c := m.chats[msg.ChatID]; msg.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = msg.CreatedAt
		}
	}
	return nil
}

// GetChatMessages returns a page of messages, oldest first.
func (m *MockStore) GetChatMessages(ctx context.Context, chatID string, limit int, before string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.messages[chatID]
	end := len(list)
	if before != "" {
		end = slices.IndexFunc(list, func(msg *Message) bool { return msg.ID == before })
		if end < 0 {
			return nil, ErrNotFound
		}
	}
	start := 0
	if limit > 0 {
		start = max(0, end-limit)
	}

	var out []*Message
	for _, msg := range list[start:end] {
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

// DeleteMessagesFrom removes messageID and every later message in the chat.
func (m *MockStore) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.messages[chatID]
	i := slices.IndexFunc(list, func(msg *Message) bool { return msg.ID == messageID })
	if i < 0 {
		return 0, ErrNotFound
	}
	m.messages[chatID] = list[:i]
	return len(list) - i, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
