package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/orchestrator"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
	"github.com/lordamdal/voice-rag/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memRepo struct {
	mu    sync.Mutex
	convs map[string]*session.Conversation
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]*session.Conversation)}
}

func (r *memRepo) CreateConversation(_ context.Context, c session.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[c.ID] = &c
	return nil
}

func (r *memRepo) GetConversation(_ context.Context, id string) (session.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return session.Conversation{}, session.ErrNotFound
	}
	out := *c
	out.MessageCount = len(c.History)
	out.History = nil
	return out, nil
}

func (r *memRepo) ListConversations(_ context.Context) ([]session.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Conversation
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
		return session.ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = at
	return nil
}

func (r *memRepo) SetRetrievalEnabled(_ context.Context, id string, enabled bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return session.ErrNotFound
	}
	c.RetrievalEnabled = enabled
	c.UpdatedAt = at
	return nil
}

func (r *memRepo) AppendTurns(_ context.Context, id string, turns []session.Turn, autoTitle string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return session.ErrNotFound
	}
	c.History = append(c.History, turns...)
	if autoTitle != "" && c.Title == session.DefaultTitle {
		c.Title = autoTitle
	}
	c.UpdatedAt = at
	return nil
}

func (r *memRepo) RecentTurns(_ context.Context, id string, n int) ([]session.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	h := c.History
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]session.Turn(nil), h...), nil
}

// fakeDocs backs both the document endpoints and the orchestrator's
// retrieval.
type fakeDocs struct {
	mu        sync.Mutex
	docs      []rag.Document
	pages     map[string]rag.Page
	memories  map[string][]string
	ingestErr error
	ingested  [][]byte
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{pages: make(map[string]rag.Page), memories: make(map[string][]string)}
}

func pageKey(doc string, page int) string {
	return fmt.Sprintf("%s#%d", doc, page)
}

func (f *fakeDocs) addPage(doc, conv, filename string, page int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for i := range f.docs {
		if f.docs[i].ID == doc {
			f.docs[i].PageCount++
			found = true
		}
	}
	if !found {
		f.docs = append(f.docs, rag.Document{ID: doc, ConversationID: conv, Filename: filename, SourceType: "pdf", Chunks: 1, PageCount: 1})
	}
	f.pages[pageKey(doc, page)] = rag.Page{DocumentID: doc, Filename: filename, PageNumber: page, Text: text}
}

func (f *fakeDocs) IngestBytes(_ context.Context, conv, filename string, data []byte) (rag.Document, error) {
	if f.ingestErr != nil {
		return rag.Document{}, f.ingestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, data)
	doc := rag.Document{ID: "doc-new", ConversationID: conv, Filename: filename, SourceType: "text", Chunks: 2}
	f.docs = append(f.docs, doc)
	return doc, nil
}

func (f *fakeDocs) ListDocuments(_ context.Context, conv string) ([]rag.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rag.Document
	for _, d := range f.docs {
		if conv == "" || d.ConversationID == conv {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocs) DeleteDocument(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.docs {
		if d.ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDocs) GetPage(_ context.Context, doc string, page int) (rag.Page, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageKey(doc, page)]
	return p, ok, nil
}

func (f *fakeDocs) DeleteConversationMemory(_ context.Context, conv string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memories, conv)
	return nil
}

func (f *fakeDocs) Stats(context.Context) (rag.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.memories {
		n += len(m)
	}
	return rag.Stats{Documents: len(f.docs), Memories: n}, nil
}

func (f *fakeDocs) RetrievePages(context.Context, string, string, int) ([]rag.Passage, error) {
	return nil, nil
}

func (f *fakeDocs) RetrieveChunks(context.Context, string, string, int) ([]rag.Passage, error) {
	return nil, nil
}

func (f *fakeDocs) RetrieveConversationMemory(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (f *fakeDocs) StoreConversationMemory(_ context.Context, conv, user, assistant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memories[conv] = append(f.memories[conv], user+"\n"+assistant)
	return nil
}

func (f *fakeDocs) memoryCount(conv string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memories[conv])
}

type sliceStream struct {
	tokens []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error { return nil }

// fakeModels serves the model endpoints and generation.
type fakeModels struct {
	mu      sync.Mutex
	model   string
	reply   string
	listErr error
	genErr  error
	models  []ollama.ModelInfo
}

func (f *fakeModels) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	return f.models, f.listErr
}

func (f *fakeModels) Model() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeModels) SetModel(m string) {
	f.mu.Lock()
	f.model = m
	f.mu.Unlock()
}

func (f *fakeModels) Generate(context.Context, ollama.ChatRequest) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.reply, nil
}

func (f *fakeModels) GenerateStream(context.Context, ollama.ChatRequest) (ollama.TokenStream, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &sliceStream{tokens: strings.SplitAfter(f.reply, " ")}, nil
}

type fakeVoices struct {
	mu    sync.Mutex
	voice string
}

func (f *fakeVoices) Voice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice
}

func (f *fakeVoices) SetVoice(id string) error {
	for _, v := range tts.Voices() {
		if v.ID == id {
			f.mu.Lock()
			f.voice = id
			f.mu.Unlock()
			return nil
		}
	}
	return tts.ErrUnknownVoice
}

func (f *fakeVoices) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte("RIFF" + text), nil
}

type fakeTranscriber struct {
	text string
	// block holds every call until its context is cancelled.
	block bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []byte) (string, float64, error) {
	if f.block {
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	return f.text, 1, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	deleted  []hermes.ConversationDeleted
	ingested []hermes.DocumentIngested
}

func (f *fakeEvents) ConversationDeleted(ev hermes.ConversationDeleted) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ev)
	return nil
}

func (f *fakeEvents) DocumentIngested(ev hermes.DocumentIngested) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, ev)
	return nil
}

var errUpstream = errors.New("connection refused")

type harness struct {
	t        *testing.T
	convs    *session.Manager
	docs     *fakeDocs
	models   *fakeModels
	voices   *fakeVoices
	stt      *fakeTranscriber
	events   *fakeEvents
	srv      *Server
	audioDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		convs:  session.NewManager(newMemRepo(), discardLogger()),
		docs:   newFakeDocs(),
		models: &fakeModels{model: "qwen3:8b", reply: "The manual says hello. Anything else you need?"},
		voices: &fakeVoices{voice: "af_heart"},
		stt:    &fakeTranscriber{text: "what does the manual say"},
		events: &fakeEvents{},
	}
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Transcriber: h.stt,
		Generator:   h.models,
		Synthesizer: h.voices,
		Retriever:   h.docs,
		History:     h.convs,
		Logger:      discardLogger(),
	}, orchestrator.Options{TopK: 3, MaxHistoryTurns: 10, Temperature: 0.7, MaxTokens: 512})

	h.audioDir = t.TempDir()
	h.srv = NewServer(0, Deps{
		Conversations: h.convs,
		Documents:     h.docs,
		Models:        h.models,
		Voices:        h.voices,
		Registry:      registry,
		Events:        h.events,
		AudioDir:      h.audioDir,
		OllamaURL:     "http://ollama:11434",
		Logger:        discardLogger(),
	})
	return h
}

func (h *harness) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) json(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return h.do(method, path, r, "application/json")
}
