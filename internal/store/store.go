// ABOUTME: Store interface and data types for the local conversation history
// ABOUTME: Defines Chat and Message records and the operations the conversation service needs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateChat is returned when creating a chat whose ID already exists
var ErrDuplicateChat = errors.New("chat already exists")

// DefaultChatTitle is the title of a chat that has not been named yet.
const DefaultChatTitle = "New Chat"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message statuses
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Chat is one conversation.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one stored side of a turn.
type Message struct {
	ID        string
	ChatID    string
	TurnID    string
	Role      string
	Content   string
	Thinking  string
	Status    string // StatusComplete or StatusFailed
	Reason    string // failure reason for failed assistant messages
	Moderated bool
	CreatedAt time.Time
}

// Store persists chats and their messages.
type Store interface {
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, limit int) ([]*Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error

	// SaveMessages stores msgs atomically and bumps the chat's updated_at.
	// Saving a message whose ID already exists replaces it.
	SaveMessages(ctx context.Context, msgs ...*Message) error
	// GetChatMessages returns up to limit messages preceding the message
	// with ID before (the newest ones when before is empty), oldest first.
	// A non-positive limit returns all of them.
	GetChatMessages(ctx context.Context, chatID string, limit int, before string) ([]*Message, error)
	// DeleteMessagesFrom removes messageID and every later message in the
	// chat, returning how many were removed.
	DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int, error)

	Close() error
}
