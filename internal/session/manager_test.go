package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memRepo struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]*Conversation)}
}

func (r *memRepo) touch(c *Conversation, at time.Time) {
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

func (r *memRepo) CreateConversation(_ context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[c.ID] = &c
	return nil
}

func (r *memRepo) GetConversation(_ context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	out := *c
	out.MessageCount = len(c.History)
	out.History = nil
	return out, nil
}

func (r *memRepo) ListConversations(_ context.Context) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, c := range r.convs {
		cp := *c
		cp.MessageCount = len(c.History)
		cp.History = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memRepo) DeleteConversation(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.convs[id]
	delete(r.convs, id)
	return ok, nil
}

func (r *memRepo) SetTitle(_ context.Context, id, title string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	r.touch(c, at)
	return nil
}

func (r *memRepo) SetRetrievalEnabled(_ context.Context, id string, enabled bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.RetrievalEnabled = enabled
	r.touch(c, at)
	return nil
}

func (r *memRepo) AppendTurns(_ context.Context, id string, turns []Turn, autoTitle string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.History = append(c.History, turns...)
	if autoTitle != "" && c.Title == DefaultTitle {
		c.Title = autoTitle
	}
	r.touch(c, at)
	return nil
}

func (r *memRepo) RecentTurns(_ context.Context, id string, n int) ([]Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	h := c.History
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]Turn(nil), h...), nil
}

func TestCreate_Defaults(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	c, err := m.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Title != DefaultTitle {
		t.Errorf("expected default title, got %q", c.Title)
	}
	if !c.RetrievalEnabled {
		t.Error("expected retrieval enabled by default")
	}
	if c.ID == "" || !c.CreatedAt.Equal(c.UpdatedAt) {
		t.Errorf("unexpected conversation %+v", c)
	}
}

func TestGetOrCreate(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()

	a, _ := m.GetOrCreate(ctx, "")
	b, _ := m.GetOrCreate(ctx, a.ID)
	if a.ID != b.ID {
		t.Errorf("expected existing conversation, got %s vs %s", a.ID, b.ID)
	}
	c, _ := m.GetOrCreate(ctx, "missing")
	if c.ID == "missing" || c.ID == a.ID {
		t.Errorf("expected a fresh conversation for an unknown id, got %s", c.ID)
	}
}

func TestAppendExchange_AutoTitle(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()
	c, _ := m.Create(ctx, "")

	long := strings.Repeat("x", 70)
	if err := m.AppendExchange(ctx, c.ID, long, "reply"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.AppendExchange(ctx, c.ID, "second question", "second reply"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != strings.Repeat("x", 60)+"..." {
		t.Errorf("expected title from the first user message, got %q", got.Title)
	}
	if len(got.History) != 4 || got.History[0].Role != RoleUser || got.History[1].Role != RoleAssistant {
		t.Errorf("unexpected history %+v", got.History)
	}
}

func TestAppend_ExplicitTitleKept(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()
	c, _ := m.Create(ctx, "Lease questions")

	m.Append(ctx, c.ID, RoleUser, "what is the deposit")
	got, _ := m.Get(ctx, c.ID)
	if got.Title != "Lease questions" {
		t.Errorf("expected explicit title kept, got %q", got.Title)
	}
}

func TestAutoTitle(t *testing.T) {
	tests := map[string]string{
		"  short question ":       "short question",
		strings.Repeat("é", 60):   strings.Repeat("é", 60),
		strings.Repeat("é", 61):   strings.Repeat("é", 60) + "...",
		strings.Repeat("a ", 40):  strings.TrimSpace(strings.Repeat("a ", 30)) + "...",
	}
	for in, want := range tests {
		if got := AutoTitle(in); got != want {
			t.Errorf("AutoTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecent_Window(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()
	c, _ := m.Create(ctx, "")
	for i := 0; i < 15; i++ {
		m.AppendExchange(ctx, c.ID, "q", "a")
	}

	turns, err := m.Recent(ctx, c.ID, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 20 {
		t.Errorf("expected 20 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser {
		t.Errorf("expected the window to start on a user turn, got %s", turns[0].Role)
	}

	none, err := m.Recent(ctx, "missing", 20)
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty history for unknown conversation, got %v %v", none, err)
	}
}

func TestUpdatedAt_Monotonic(t *testing.T) {
	repo := newMemRepo()
	m := NewManager(repo, discardLogger())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	c, _ := m.Create(ctx, "")

	m.now = func() time.Time { return base.Add(time.Minute) }
	m.Append(ctx, c.ID, RoleUser, "hello")

	// Clock steps backwards.
	m.now = func() time.Time { return base.Add(-time.Hour) }
	m.SetRetrievalEnabled(ctx, c.ID, false)

	got, _ := m.Get(ctx, c.ID)
	if !got.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("expected updated_at to stay at the latest time, got %s", got.UpdatedAt)
	}
	if got.RetrievalEnabled {
		t.Error("expected retrieval disabled")
	}
}

func TestRetrievalEnabled(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()

	if on, err := m.RetrievalEnabled(ctx, "missing"); err != nil || !on {
		t.Errorf("expected unknown conversations to default to enabled, got %v %v", on, err)
	}
	c, _ := m.Create(ctx, "")
	m.SetRetrievalEnabled(ctx, c.ID, false)
	if on, _ := m.RetrievalEnabled(ctx, c.ID); on {
		t.Error("expected retrieval disabled")
	}
}

func TestList_OrderedByUpdatedAt(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	older, _ := m.Create(ctx, "older")
	m.now = func() time.Time { return base.Add(time.Second) }
	newer, _ := m.Create(ctx, "newer")
	m.now = func() time.Time { return base.Add(time.Minute) }
	m.Append(ctx, older.ID, RoleUser, "bump")

	list, _ := m.List(ctx)
	if len(list) != 2 || list[0].ID != older.ID || list[1].ID != newer.ID {
		t.Errorf("expected most recently updated first, got %+v", list)
	}
	if list[0].MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", list[0].MessageCount)
	}
}

func TestDelete(t *testing.T) {
	m := NewManager(newMemRepo(), discardLogger())
	ctx := context.Background()
	c, _ := m.Create(ctx, "")

	if ok, _ := m.Delete(ctx, c.ID); !ok {
		t.Error("expected delete to report success")
	}
	if _, err := m.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if ok, _ := m.Delete(ctx, c.ID); ok {
		t.Error("expected second delete to report false")
	}
}
