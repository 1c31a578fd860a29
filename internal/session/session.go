// Package session manages conversation records: title, retrieval flag and
// turn history.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrNotFound = errors.New("conversation not found")

const (
	DefaultTitle  = "New chat"
	titleMaxChars = 60
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is one persisted exchange history. History is populated only
// by Manager.Get; listings carry MessageCount alone.
type Conversation struct {
	ID               string    `json:"session_id"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	RetrievalEnabled bool      `json:"rag_enabled"`
	MessageCount     int       `json:"message_count"`
	History          []Turn    `json:"conversation_history,omitempty"`
}

// Repository persists conversations. Implementations must never move
// updated_at backwards and must apply autoTitle only while the title is still
// DefaultTitle. RecentTurns returns turns oldest first; n <= 0 returns all.
type Repository interface {
	CreateConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
	SetTitle(ctx context.Context, id, title string, at time.Time) error
	SetRetrievalEnabled(ctx context.Context, id string, enabled bool, at time.Time) error
	AppendTurns(ctx context.Context, id string, turns []Turn, autoTitle string, at time.Time) error
	RecentTurns(ctx context.Context, id string, n int) ([]Turn, error)
}

// AutoTitle derives a conversation title from its first user message.
func AutoTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxChars {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(string([]rune(content)[:titleMaxChars])) + "..."
}
