package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Manager struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a conversation with retrieval enabled. An empty title uses
// DefaultTitle.
func (m *Manager) Create(ctx context.Context, title string) (Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := m.now()
	c := Conversation{
		ID:               uuid.NewString(),
		Title:            title,
		CreatedAt:        now,
		UpdatedAt:        now,
		RetrievalEnabled: true,
	}
	if err := m.repo.CreateConversation(ctx, c); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	m.logger.Info("conversation created", "session_id", c.ID)
	return c, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := m.repo.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	c.History, err = m.repo.RecentTurns(ctx, id, 0)
	if err != nil {
		return Conversation{}, fmt.Errorf("load history: %w", err)
	}
	return c, nil
}

// GetOrCreate returns the conversation with id, or a new one when id is
// empty or unknown.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (Conversation, error) {
	if id != "" {
		c, err := m.repo.GetConversation(ctx, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Conversation{}, err
		}
	}
	return m.Create(ctx, "")
}

// List returns conversations, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]Conversation, error) {
	return m.repo.ListConversations(ctx)
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.repo.DeleteConversation(ctx, id)
}

func (m *Manager) Rename(ctx context.Context, id, title string) error {
	return m.repo.SetTitle(ctx, id, title, m.now())
}

func (m *Manager) SetRetrievalEnabled(ctx context.Context, id string, enabled bool) error {
	return m.repo.SetRetrievalEnabled(ctx, id, enabled, m.now())
}

// RetrievalEnabled reports the conversation's retrieval flag. Unknown
// conversations default to enabled.
func (m *Manager) RetrievalEnabled(ctx context.Context, id string) (bool, error) {
	c, err := m.repo.GetConversation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return c.RetrievalEnabled, nil
}

// Append adds one turn to the history.
func (m *Manager) Append(ctx context.Context, id string, role Role, content string) error {
	return m.appendTurns(ctx, id, []Turn{{Role: role, Content: content}})
}

// AppendExchange commits a user turn and its reply together.
func (m *Manager) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	return m.appendTurns(ctx, id, []Turn{
		{Role: RoleUser, Content: userText},
		{Role: RoleAssistant, Content: assistantText},
	})
}

func (m *Manager) appendTurns(ctx context.Context, id string, turns []Turn) error {
	now := m.now()
	autoTitle := ""
	for i := range turns {
		turns[i].CreatedAt = now
		if autoTitle == "" && turns[i].Role == RoleUser {
			autoTitle = AutoTitle(turns[i].Content)
		}
	}
	if err := m.repo.AppendTurns(ctx, id, turns, autoTitle, now); err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	return nil
}

// Recent returns at most maxEntries of the latest turns, oldest first.
func (m *Manager) Recent(ctx context.Context, id string, maxEntries int) ([]Turn, error) {
	turns, err := m.repo.RecentTurns(ctx, id, maxEntries)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return turns, err
}
