// Package stt transcribes speech through an OpenAI-compatible whisper server.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/lordamdal/voice-rag/internal/audio"
)

type Client struct {
	baseURL  string
	model    string
	language string
	client   *http.Client
}

func NewClient(baseURL, model, language string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		language: language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Transcribe returns the spoken text and the audio duration in seconds.
// Input without a RIFF header is treated as 16-bit mono PCM at 16 kHz.
func (c *Client) Transcribe(ctx context.Context, audioBytes []byte) (string, float64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.EnsureWAV(audioBytes)); err != nil {
		return "", 0, fmt.Errorf("write audio data: %w", err)
	}
	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", 0, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", 0, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("transcription error %d: %s", resp.StatusCode, string(body))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(tr.Text), tr.Duration, nil
}
