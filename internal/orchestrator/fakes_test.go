package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, float64, error) {
	return f.text, 1.5, f.err
}

type fakeGenerator struct {
	reply     string
	tokens    []string
	err       error
	streamErr error // returned by Recv after all tokens

	mu       sync.Mutex
	requests []ollama.ChatRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req ollama.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeGenerator) GenerateStream(_ context.Context, req ollama.ChatRequest) (ollama.TokenStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{tokens: append([]string(nil), f.tokens...), err: f.streamErr}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sliceStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// words splits text into word tokens that keep their trailing space.
func words(text string) []string {
	return strings.SplitAfter(text, " ")
}

type fakeSynth struct {
	fail map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.fail[text] {
		return nil, errors.New("synthesis backend down")
	}
	return []byte("wav:" + text), nil
}

type fakeRetriever struct {
	pages    []rag.Passage
	chunks   []rag.Passage
	memories []string
	docs     []rag.Document
	content  map[string]rag.Page // keyed by doc id
	storeErr error

	mu          sync.Mutex
	chunkCalls  int
	stored      []string
	lastChunkK  int
	lastMemoryK int
}

func (f *fakeRetriever) RetrievePages(_ context.Context, _, _ string, _ int) ([]rag.Passage, error) {
	return f.pages, nil
}

func (f *fakeRetriever) RetrieveChunks(_ context.Context, _, _ string, k int) ([]rag.Passage, error) {
	f.mu.Lock()
	f.chunkCalls++
	f.lastChunkK = k
	f.mu.Unlock()
	return f.chunks, nil
}

func (f *fakeRetriever) RetrieveConversationMemory(_ context.Context, _, _ string, k int) ([]string, error) {
	f.mu.Lock()
	f.lastMemoryK = k
	f.mu.Unlock()
	return f.memories, nil
}

func (f *fakeRetriever) ListDocuments(_ context.Context, _ string) ([]rag.Document, error) {
	return f.docs, nil
}

func (f *fakeRetriever) GetPage(_ context.Context, docID string, page int) (rag.Page, bool, error) {
	p, ok := f.content[docID]
	if !ok || p.PageNumber != page {
		return rag.Page{}, false, nil
	}
	return p, true, nil
}

func (f *fakeRetriever) StoreConversationMemory(_ context.Context, _, userText, assistantText string) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.mu.Lock()
	f.stored = append(f.stored, userText+"|"+assistantText)
	f.mu.Unlock()
	return nil
}

type fakeHistory struct {
	disabled bool
	turns    []session.Turn

	mu        sync.Mutex
	asked     int
	exchanges [][2]string
}

func (f *fakeHistory) RetrievalEnabled(_ context.Context, _ string) (bool, error) {
	return !f.disabled, nil
}

func (f *fakeHistory) Recent(_ context.Context, _ string, maxEntries int) ([]session.Turn, error) {
	f.mu.Lock()
	f.asked = maxEntries
	f.mu.Unlock()
	return f.turns, nil
}

func (f *fakeHistory) AppendExchange(_ context.Context, _ string, userText, assistantText string) error {
	f.mu.Lock()
	f.exchanges = append(f.exchanges, [2]string{userText, assistantText})
	f.mu.Unlock()
	return nil
}

func (f *fakeHistory) committed() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]string(nil), f.exchanges...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []hermes.ExchangeCompleted
}

func (f *fakePublisher) ExchangeCompleted(ev hermes.ExchangeCompleted) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	onEmit func(Event)
}

func (r *recordingSink) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onEmit != nil {
		r.onEmit(ev)
	}
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) chunks() []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Type == EventAudioChunk {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingSink) statuses() []Stage {
	var out []Stage
	for _, ev := range r.all() {
		if ev.Type == EventStatus {
			out = append(out, ev.Stage)
		}
	}
	return out
}

type harness struct {
	stt       *fakeTranscriber
	gen       *fakeGenerator
	synth     *fakeSynth
	retriever *fakeRetriever
	history   *fakeHistory
	publisher *fakePublisher
}

func newHarness() *harness {
	return &harness{
		stt:       &fakeTranscriber{text: "What does the manual say?"},
		gen:       &fakeGenerator{},
		synth:     &fakeSynth{},
		retriever: &fakeRetriever{},
		history:   &fakeHistory{},
		publisher: &fakePublisher{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Transcriber: h.stt,
		Generator:   h.gen,
		Synthesizer: h.synth,
		Retriever:   h.retriever,
		History:     h.history,
		Publisher:   h.publisher,
		Logger:      discardLogger(),
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New("conv-1", h.deps(), Options{TopK: 3, MaxHistoryTurns: 10, Temperature: 0.7, MaxTokens: 512})
}

func intp(v int) *int { return &v }

// withManual installs one paged document whose page 1 reads "Hello world".
func (h *harness) withManual() {
	h.retriever.docs = []rag.Document{{ID: "d1", ConversationID: "conv-1", Filename: "manual.pdf", PageCount: 1}}
	h.retriever.content = map[string]rag.Page{
		"d1": {DocumentID: "d1", Filename: "manual.pdf", PageNumber: 1, Text: "Hello world"},
	}
}
