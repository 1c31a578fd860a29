package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/sentence"
)

// ProcessStreamed runs audio through the pipeline and delivers the reply as
// ordered audio chunks, one per sentence, while the model is still
// generating. It always ends by emitting an idle status. Cancelling ctx stops
// delivery; the exchange is then committed only if generation finished and
// every sentence had been dispatched before the cancel was observed.
func (o *Orchestrator) ProcessStreamed(ctx context.Context, audio []byte, p Params, sink Sink) (res Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	defer func() {
		o.record(ModeVoiceStream, err)
		if err != nil && ctx.Err() == nil {
			sink.Emit(Event{Type: EventError, Err: err})
		}
		sink.Emit(Event{Type: EventStatus, Stage: StageIdle})
	}()

	res = newResult()

	sink.Emit(Event{Type: EventStatus, Stage: StageTranscribing})
	res.Transcript, err = o.transcribe(ctx, audio, res.Timings)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(res.Transcript) == "" {
		sink.Emit(Event{Type: EventResponse, Result: &res})
		sink.Emit(Event{Type: EventDone})
		return res, nil
	}
	sink.Emit(Event{Type: EventTranscript, Text: res.Transcript})

	sink.Emit(Event{Type: EventStatus, Stage: StageRetrieving})
	prep, err := o.prepare(ctx, res.Transcript, res.Timings)
	if err != nil {
		return res, err
	}
	res.Sources = prep.sources

	var tokens ollama.TokenStream
	if prep.bypass {
		res.Bypass = true
		tokens = newWordStream(prep.text)
	} else {
		req, err := o.chatRequest(ctx, res.Transcript, prep.context, p)
		if err != nil {
			return res, err
		}
		sink.Emit(Event{Type: EventStatus, Stage: StageThinking})
		tokens, err = o.deps.Generator.GenerateStream(ctx, req)
		if err != nil {
			return res, fmt.Errorf("generate: %w", err)
		}
	}

	text, complete, err := o.speak(ctx, tokens, sink, res.Timings, !prep.bypass)
	res.Text = text
	if prep.bypass {
		res.Text = prep.text
	}
	if err != nil {
		return res, err
	}
	if !complete {
		o.logger.Info("stream cancelled", "chars", utf8.RuneCountInString(text))
		if err = ctx.Err(); err == nil {
			err = context.Canceled
		}
		return res, err
	}

	o.commit(ctx, ModeVoiceStream, res.Transcript, res)
	sink.Emit(Event{Type: EventResponse, Result: &res})
	sink.Emit(Event{Type: EventDone})
	return res, nil
}

// speak feeds tokens through a sentence segmenter and synthesizes each
// sentence in order on a separate goroutine. complete reports that the token
// stream ended and every queued sentence was dispatched before ctx was
// cancelled.
func (o *Orchestrator) speak(ctx context.Context, tokens ollama.TokenStream, sink Sink, t *Timings, generated bool) (string, bool, error) {
	defer tokens.Close()

	queue := newSentenceQueue()
	var (
		full       strings.Builder
		exhausted  bool
		drained    bool
		firstToken time.Time
		firstChunk time.Time
		synthTime  time.Duration
		index      int
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer queue.close()
		seg := sentence.New()
		for {
			if gctx.Err() != nil {
				return nil
			}
			tok, err := tokens.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("generate: %w", err)
			}
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			full.WriteString(tok)
			for _, s := range seg.Add(tok) {
				queue.push(s)
			}
		}
		if rest, ok := seg.Flush(); ok {
			queue.push(rest)
		}
		exhausted = true
		return nil
	})

	g.Go(func() error {
		for {
			if gctx.Err() != nil {
				return nil
			}
			s, ok := queue.pop(gctx)
			if !ok {
				drained = gctx.Err() == nil
				return nil
			}
			if gctx.Err() != nil {
				return nil
			}

			t0 := time.Now()
			wav, err := o.deps.Synthesizer.Synthesize(gctx, s)
			synthTime += time.Since(t0)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				o.deps.Metrics.RecordSynthesisFailure()
				o.logger.Error("synthesis failed", "index", index, "error", err)
				index++
				continue
			}

			if firstChunk.IsZero() {
				firstChunk = time.Now()
				sink.Emit(Event{Type: EventStatus, Stage: StageSpeaking})
			}
			sink.Emit(Event{Type: EventAudioChunk, Audio: wav, Index: index, Text: s})
			o.deps.Metrics.RecordAudioChunk()
			index++
		}
	})

	err := g.Wait()

	if generated {
		total := time.Since(start)
		t.Set(TimingLLM, total.Milliseconds())
		o.deps.Metrics.ObserveStage("llm", total)
		if !firstToken.IsZero() {
			t.Set(TimingLLMFirstToken, firstToken.Sub(start).Milliseconds())
		}
	}
	if !firstChunk.IsZero() {
		t.Set(TimingTTSFirstChunk, firstChunk.Sub(start).Milliseconds())
	}
	t.Set(TimingTTS, synthTime.Milliseconds())
	o.deps.Metrics.ObserveStage("tts", synthTime)
	t.Set(TimingTTSChunks, int64(index))

	o.logger.Info("stream",
		"chars", utf8.RuneCountInString(full.String()),
		"chunks", index,
		"first_audio_ms", t.vals[TimingTTSFirstChunk],
		"total_ms", time.Since(start).Milliseconds(),
	)

	if err != nil {
		return full.String(), false, err
	}
	return full.String(), exhausted && drained && ctx.Err() == nil, nil
}

// ProcessTextStreamed answers a text query, passing raw generated tokens to
// onToken as they arrive. A page bypass delivers the page text in a single
// call. History is committed only when the stream completes uncancelled and
// onToken never failed.
func (o *Orchestrator) ProcessTextStreamed(ctx context.Context, message string, p Params, onToken func(token string) error) (res Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.record(ModeTextStream, err) }()

	res = newResult()
	prep, err := o.prepare(ctx, message, res.Timings)
	if err != nil {
		return res, err
	}
	res.Sources = prep.sources

	if prep.bypass {
		res.Bypass = true
		res.Text = prep.text
		if err := onToken(prep.text); err != nil {
			return res, fmt.Errorf("deliver token: %w", err)
		}
		o.commit(ctx, ModeTextStream, message, res)
		return res, nil
	}

	req, err := o.chatRequest(ctx, message, prep.context, p)
	if err != nil {
		return res, err
	}
	start := time.Now()
	tokens, err := o.deps.Generator.GenerateStream(ctx, req)
	if err != nil {
		return res, fmt.Errorf("generate: %w", err)
	}
	defer tokens.Close()

	var full strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			res.Text = full.String()
			return res, err
		}
		tok, err := tokens.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Text = full.String()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("generate: %w", err)
		}
		if full.Len() == 0 {
			res.Timings.Set(TimingLLMFirstToken, time.Since(start).Milliseconds())
		}
		full.WriteString(tok)
		if err := onToken(tok); err != nil {
			res.Text = full.String()
			return res, fmt.Errorf("deliver token: %w", err)
		}
	}
	res.Text = full.String()
	o.stage(res.Timings, TimingLLM, "llm", start)
	o.logger.Info("llm stream", "chars", utf8.RuneCountInString(res.Text), "ms", res.Timings.vals[TimingLLM])

	if err := ctx.Err(); err != nil {
		return res, err
	}
	o.commit(ctx, ModeTextStream, message, res)
	return res, nil
}

// wordStream replays text one word at a time so a page read goes through the
// same segmentation and synthesis path as generated output.
type wordStream struct {
	words []string
}

func newWordStream(text string) *wordStream {
	return &wordStream{words: strings.Fields(text)}
}

func (w *wordStream) Recv() (string, error) {
	if len(w.words) == 0 {
		return "", io.EOF
	}
	tok := w.words[0] + " "
	w.words = w.words[1:]
	return tok, nil
}

func (w *wordStream) Close() error { return nil }
