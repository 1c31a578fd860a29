// Package tts synthesizes speech through an OpenAI-compatible Kokoro server.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lordamdal/voice-rag/internal/audio"
)

var ErrUnknownVoice = errors.New("unknown voice")

const silenceDuration = 100 * time.Millisecond

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	voice string
}

func NewClient(baseURL, voice string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   voice,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Voice returns the active voice id.
func (c *Client) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice
}

// SetVoice switches the active voice.
func (c *Client) SetVoice(id string) error {
	name, ok := voices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}
	c.mu.Lock()
	c.voice = id
	c.mu.Unlock()
	c.logger.Info("voice changed", "voice", id, "name", name)
	return nil
}

// Synthesize returns a WAV rendering of text. Text that is empty once cleaned
// yields a short silent WAV instead of a server call.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = CleanForSpeech(text)
	if text == "" {
		return audio.Silence(silenceDuration), nil
	}

	body, err := json.Marshal(speechRequest{
		Model:          "kokoro",
		Input:          text,
		Voice:          c.Voice(),
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech error %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return audio.Silence(silenceDuration), nil
	}
	return data, nil
}
