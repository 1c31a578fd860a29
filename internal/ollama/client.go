// Package ollama is a client for the Ollama chat, embedding and model APIs.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxRetries = 2

	// requestTimeout bounds a whole batch call. Streams are bounded by
	// streamIdleTimeout between reads instead, so long answers are not cut off.
	requestTimeout    = 120 * time.Second
	streamIdleTimeout = 120 * time.Second
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

type Client struct {
	baseURL     string
	embedModel  string
	client      *http.Client
	streaming   *http.Client
	idleTimeout time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	model string
}

func NewClient(baseURL, model, embedModel string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		embedModel:  embedModel,
		client:      &http.Client{Timeout: requestTimeout},
		streaming:   &http.Client{},
		idleTimeout: streamIdleTimeout,
		retryDelay:  time.Second,
		logger:      logger,
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one generation call. An empty Model uses the client default.
type ChatRequest struct {
	Message     string
	Context     string
	History     []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// TokenStream yields generated text fragments. Recv returns io.EOF once the
// model has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// StatusError is a non-200 response from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama error %d: %s", e.Code, e.Body)
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatPayload struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Think    bool        `json:"think"`
	Options  chatOptions `json:"options"`
}

type chatChunk struct {
	Message *Message `json:"message"`
	Done    bool     `json:"done"`
	Error   string   `json:"error"`
}

// Model returns the default chat model.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel changes the default chat model for subsequent requests.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Client) payload(req ChatRequest, stream bool) chatPayload {
	model := req.Model
	if model == "" {
		model = c.Model()
	}
	return chatPayload{
		Model:    model,
		Messages: buildMessages(req),
		Stream:   stream,
		Options: chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

// Generate returns the complete response with any <think> blocks removed.
func (c *Client) Generate(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(c.payload(req, false))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = c.withRetry(ctx, "chat", func() error {
		resp, err := c.post(ctx, "/api/chat", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		var chunk chatChunk
		if err := json.Unmarshal(respBody, &chunk); err != nil {
			return permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		if chunk.Message == nil {
			return permanent(fmt.Errorf("response has no message"))
		}
		text = strings.TrimSpace(thinkBlock.ReplaceAllString(chunk.Message.Content, ""))
		return nil
	})
	return text, err
}

// GenerateStream starts a streaming chat. Transient failures are retried only
// until the first fragment has been received; after that an error ends the
// stream. The stream fails if the server sends nothing for the idle timeout,
// however long the whole answer takes.
func (c *Client) GenerateStream(ctx context.Context, req ChatRequest) (TokenStream, error) {
	body, err := json.Marshal(c.payload(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var s *stream
	err = c.withRetry(ctx, "chat stream", func() error {
		streamCtx, cancel := context.WithCancel(ctx)
		idle := newIdleTimer(c.idleTimeout, cancel)
		resp, err := c.postWith(streamCtx, c.streaming, "/api/chat", body)
		if err != nil {
			idle.stop()
			cancel()
			if idle.expired() {
				return permanent(fmt.Errorf("api call: no response within %s", c.idleTimeout))
			}
			return err
		}
		candidate := &stream{body: resp.Body, scanner: bufio.NewScanner(resp.Body), idle: idle, cancel: cancel}
		candidate.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		first, err := candidate.next()
		if err != nil && !errors.Is(err, io.EOF) {
			candidate.Close()
			return err
		}
		if err == nil {
			candidate.pending = &first
		} else {
			candidate.done = true
		}
		s = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	idle    *idleTimer
	cancel  context.CancelFunc
	pending *string
	done    bool
}

func (s *stream) Recv() (string, error) {
	if s.pending != nil {
		tok := *s.pending
		s.pending = nil
		return tok, nil
	}
	if s.done {
		return "", io.EOF
	}
	tok, err := s.next()
	if err != nil {
		s.done = true
		var pe *permanentError
		if errors.As(err, &pe) {
			err = pe.err
		}
	}
	return tok, err
}

func (s *stream) Close() error {
	s.idle.stop()
	s.cancel()
	return s.body.Close()
}

// next reads lines until one carries content, the server reports done, or
// the body ends. The idle timer only runs while next is reading.
func (s *stream) next() (string, error) {
	s.idle.reset()
	defer s.idle.stop()
	for s.scanner.Scan() {
		s.idle.reset()
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", permanent(fmt.Errorf("decode stream line: %w", err))
		}
		if chunk.Error != "" {
			return "", permanent(fmt.Errorf("stream error: %s", chunk.Error))
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
		if chunk.Done {
			return "", io.EOF
		}
	}
	if err := s.scanner.Err(); err != nil {
		if s.idle.expired() {
			return "", fmt.Errorf("read stream: no data for %s", s.idle.d)
		}
		return "", fmt.Errorf("read stream: %w", err)
	}
	return "", io.EOF
}

// idleTimer cancels a stream's request when no data arrives for d.
type idleTimer struct {
	d     time.Duration
	t     *time.Timer
	fired atomic.Bool
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	it := &idleTimer{d: d}
	it.t = time.AfterFunc(d, func() {
		it.fired.Store(true)
		cancel()
	})
	return it
}

func (it *idleTimer) reset()        { it.t.Reset(it.d) }
func (it *idleTimer) stop()         { it.t.Stop() }
func (it *idleTimer) expired() bool { return it.fired.Load() }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns one embedding per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out [][]float64
	err = c.withRetry(ctx, "embed", func() error {
		resp, err := c.post(ctx, "/api/embed", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var er embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
			return permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		if len(er.Embeddings) != len(texts) {
			return permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(er.Embeddings)))
		}
		out = er.Embeddings
		return nil
	})
	return out, err
}

// ModelInfo describes a locally available model.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// ListModels returns the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	var tags struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return tags.Models, nil
}

// post sends a JSON body and returns the response only on 200. The caller
// closes the body.
func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	return c.postWith(ctx, c.client, path, body)
}

func (c *Client) postWith(ctx context.Context, client *http.Client, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
