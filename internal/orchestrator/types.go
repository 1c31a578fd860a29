package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (text string, durationSeconds float64, err error)
}

type Generator interface {
	Generate(ctx context.Context, req ollama.ChatRequest) (string, error)
	GenerateStream(ctx context.Context, req ollama.ChatRequest) (ollama.TokenStream, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Retriever is the document and memory store as seen by one conversation.
type Retriever interface {
	RetrievePages(ctx context.Context, query, conversationID string, k int) ([]rag.Passage, error)
	RetrieveChunks(ctx context.Context, query, conversationID string, k int) ([]rag.Passage, error)
	RetrieveConversationMemory(ctx context.Context, query, conversationID string, k int) ([]string, error)
	ListDocuments(ctx context.Context, conversationID string) ([]rag.Document, error)
	GetPage(ctx context.Context, documentID string, page int) (rag.Page, bool, error)
	StoreConversationMemory(ctx context.Context, conversationID, userText, assistantText string) error
}

type History interface {
	RetrievalEnabled(ctx context.Context, id string) (bool, error)
	Recent(ctx context.Context, id string, maxEntries int) ([]session.Turn, error)
	AppendExchange(ctx context.Context, id, userText, assistantText string) error
}

// Publisher receives a notification for every committed exchange.
type Publisher interface {
	ExchangeCompleted(ev hermes.ExchangeCompleted) error
}

// Params are per-request generation settings. Zero values use the
// orchestrator defaults.
type Params struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageRetrieving   Stage = "retrieving"
	StageThinking     Stage = "thinking"
	StageSpeaking     Stage = "speaking"
	StageIdle         Stage = "idle"
)

type EventType string

const (
	EventStatus     EventType = "status"
	EventTranscript EventType = "transcript"
	EventAudioChunk EventType = "audio_chunk"
	EventResponse   EventType = "response"
	EventDone       EventType = "audio_done"
	EventError      EventType = "error"
)

// Event is one notification from a streaming run. Only the fields relevant
// to Type are set.
type Event struct {
	Type   EventType
	Stage  Stage
	Text   string
	Audio  []byte
	Index  int
	Result *Result
	Err    error
}

// Sink receives streaming events in order. Emit is called from the
// goroutine running the pipeline and must not block for long.
type Sink interface {
	Emit(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Source cites the document page a piece of context came from.
type Source struct {
	Filename   string `json:"filename"`
	PageNumber *int   `json:"page_number"`
	DocumentID string `json:"doc_id"`
}

type Result struct {
	Transcript string   `json:"transcript,omitempty"`
	Text       string   `json:"response_text"`
	Timings    *Timings `json:"timings"`
	Sources    []Source `json:"sources"`
	Audio      []byte   `json:"-"`
	Bypass     bool     `json:"-"`
}

// Timing keys in the order they are recorded.
const (
	TimingSTT           = "stt_ms"
	TimingRAG           = "rag_ms"
	TimingLLM           = "llm_ms"
	TimingLLMFirstToken = "llm_first_token_ms"
	TimingTTSFirstChunk = "tts_first_chunk_ms"
	TimingTTS           = "tts_ms"
	TimingTTSChunks     = "tts_chunks"
)

// Timings is an insertion-ordered set of named measurements, mostly
// milliseconds.
type Timings struct {
	keys []string
	vals map[string]int64
}

func NewTimings() *Timings {
	return &Timings{vals: make(map[string]int64)}
}

func (t *Timings) Set(key string, v int64) {
	if _, ok := t.vals[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[key] = v
}

func (t *Timings) Get(key string) (int64, bool) {
	v, ok := t.vals[key]
	return v, ok
}

func (t *Timings) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Map returns a copy of the measurements.
func (t *Timings) Map() map[string]int64 {
	m := make(map[string]int64, len(t.vals))
	for k, v := range t.vals {
		m[k] = v
	}
	return m
}

func (t *Timings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(t.vals[k], 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
