// Package orchestrator sequences transcription, retrieval, generation and
// synthesis for one conversation, in batch and streaming form.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/metrics"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/pageread"
)

const (
	ModeVoice       = "voice"
	ModeVoiceStream = "voice_stream"
	ModeText        = "text"
	ModeTextStream  = "text_stream"
)

type Options struct {
	TopK            int
	MaxHistoryTurns int
	Temperature     float64
	MaxTokens       int
}

// Deps are the collaborators shared by every orchestrator. Publisher and
// Metrics may be nil.
type Deps struct {
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Retriever   Retriever
	History     History
	Publisher   Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Orchestrator runs the pipeline for a single conversation. Calls on one
// Orchestrator are serialized.
type Orchestrator struct {
	id       string
	deps     Deps
	opts     Options
	contexts *ContextBuilder
	logger   *slog.Logger

	mu sync.Mutex
}

func New(conversationID string, deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{
		id:       conversationID,
		deps:     deps,
		opts:     opts,
		contexts: NewContextBuilder(deps.Retriever, opts.TopK),
		logger:   deps.Logger.With("conversation_id", conversationID),
	}
}

func (o *Orchestrator) ConversationID() string {
	return o.id
}

func newResult() Result {
	return Result{Timings: NewTimings(), Sources: []Source{}}
}

// prepared is the outcome of the retrieval stage: either a verbatim page
// answer or grounding context for generation.
type prepared struct {
	bypass  bool
	text    string
	context string
	sources []Source
}

// ProcessOnce runs audio through the whole pipeline and returns the spoken
// reply in Result.Audio. An empty transcript returns early without touching
// history.
func (o *Orchestrator) ProcessOnce(ctx context.Context, audio []byte, p Params) (res Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.record(ModeVoice, err) }()

	res = newResult()
	res.Transcript, err = o.transcribe(ctx, audio, res.Timings)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(res.Transcript) == "" {
		return res, nil
	}

	if err := o.answer(ctx, res.Transcript, p, &res); err != nil {
		return res, err
	}

	start := time.Now()
	res.Audio, err = o.deps.Synthesizer.Synthesize(ctx, res.Text)
	if err != nil {
		return res, fmt.Errorf("synthesize: %w", err)
	}
	o.stage(res.Timings, TimingTTS, "tts", start)
	o.logger.Info("tts", "bytes", len(res.Audio), "ms", res.Timings.vals[TimingTTS])

	o.commit(ctx, ModeVoice, res.Transcript, res)
	return res, nil
}

// ProcessTextOnce answers a text query without transcription or synthesis.
func (o *Orchestrator) ProcessTextOnce(ctx context.Context, message string, p Params) (res Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.record(ModeText, err) }()

	res = newResult()
	if err := o.answer(ctx, message, p, &res); err != nil {
		return res, err
	}
	o.commit(ctx, ModeText, message, res)
	return res, nil
}

// answer fills res.Text and res.Sources, by page bypass or batch generation.
func (o *Orchestrator) answer(ctx context.Context, query string, p Params, res *Result) error {
	prep, err := o.prepare(ctx, query, res.Timings)
	if err != nil {
		return err
	}
	res.Sources = prep.sources
	if prep.bypass {
		res.Text = prep.text
		res.Bypass = true
		return nil
	}

	req, err := o.chatRequest(ctx, query, prep.context, p)
	if err != nil {
		return err
	}
	start := time.Now()
	res.Text, err = o.deps.Generator.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	o.stage(res.Timings, TimingLLM, "llm", start)
	o.logger.Info("llm", "chars", utf8.RuneCountInString(res.Text), "ms", res.Timings.vals[TimingLLM])
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte, t *Timings) (string, error) {
	start := time.Now()
	text, dur, err := o.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	o.stage(t, TimingSTT, "stt", start)
	o.logger.Info("stt", "text", text, "audio_seconds", dur, "ms", t.vals[TimingSTT])
	return text, nil
}

// prepare checks for a direct page read and otherwise builds retrieval
// context. rag_ms covers both.
func (o *Orchestrator) prepare(ctx context.Context, query string, t *Timings) (prepared, error) {
	start := time.Now()

	if req, ok := pageread.Detect(query); ok {
		text, sources, found, err := o.contexts.ReadPage(ctx, o.id, req)
		if err != nil {
			return prepared{}, fmt.Errorf("read page: %w", err)
		}
		if found {
			o.stage(t, TimingRAG, "rag", start)
			t.Set(TimingLLM, 0)
			o.deps.Metrics.RecordPageBypass()
			o.logger.Info("direct page read", "page", req.Page, "chars", utf8.RuneCountInString(text))
			return prepared{bypass: true, text: text, sources: sources}, nil
		}
	}

	enabled, err := o.deps.History.RetrievalEnabled(ctx, o.id)
	if err != nil {
		return prepared{}, fmt.Errorf("load conversation: %w", err)
	}
	contextText, sources, err := o.contexts.Build(ctx, o.id, query, enabled)
	if err != nil {
		return prepared{}, fmt.Errorf("retrieve: %w", err)
	}
	if sources == nil {
		sources = []Source{}
	}
	o.stage(t, TimingRAG, "rag", start)
	return prepared{context: contextText, sources: sources}, nil
}

func (o *Orchestrator) chatRequest(ctx context.Context, message, contextText string, p Params) (ollama.ChatRequest, error) {
	turns, err := o.deps.History.Recent(ctx, o.id, 2*o.opts.MaxHistoryTurns)
	if err != nil {
		return ollama.ChatRequest{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]ollama.Message, len(turns))
	for i, t := range turns {
		history[i] = ollama.Message{Role: string(t.Role), Content: t.Content}
	}

	req := ollama.ChatRequest{
		Message:     message,
		Context:     contextText,
		History:     history,
		Model:       p.Model,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	}
	if p.Temperature != nil {
		req.Temperature = *p.Temperature
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = p.MaxTokens
	}
	return req, nil
}

// commit appends the exchange to history and memory. It runs detached from
// ctx so a cancel arriving after completion cannot interrupt it. Failures are
// logged, never returned.
func (o *Orchestrator) commit(ctx context.Context, mode, userText string, res Result) {
	ctx = context.WithoutCancel(ctx)

	if err := o.deps.History.AppendExchange(ctx, o.id, userText, res.Text); err != nil {
		o.logger.Error("failed to save history", "error", err)
	}
	if err := o.deps.Retriever.StoreConversationMemory(ctx, o.id, userText, res.Text); err != nil {
		o.deps.Metrics.RecordMemoryStoreFailure()
		o.logger.Warn("failed to store conversation memory", "error", err)
	}
	if o.deps.Publisher != nil {
		err := o.deps.Publisher.ExchangeCompleted(hermes.ExchangeCompleted{
			ConversationID: o.id,
			Mode:           mode,
			UserChars:      utf8.RuneCountInString(userText),
			AssistantChars: utf8.RuneCountInString(res.Text),
			Sources:        len(res.Sources),
			Bypass:         res.Bypass,
			Timings:        res.Timings.Map(),
			At:             time.Now().UTC(),
		})
		if err != nil {
			o.logger.Warn("failed to publish exchange", "error", err)
		}
	}
}

func (o *Orchestrator) stage(t *Timings, key, name string, start time.Time) {
	d := time.Since(start)
	t.Set(key, d.Milliseconds())
	o.deps.Metrics.ObserveStage(name, d)
}

func (o *Orchestrator) record(mode string, err error) {
	switch {
	case err == nil:
		o.deps.Metrics.RecordRequest(mode, "ok")
	case errors.Is(err, context.Canceled):
		o.deps.Metrics.RecordRequest(mode, "cancelled")
	default:
		o.deps.Metrics.RecordRequest(mode, "error")
		o.logger.Error("pipeline failed", "mode", mode, "error", err)
	}
}
