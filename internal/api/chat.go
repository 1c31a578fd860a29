package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lordamdal/voice-rag/internal/orchestrator"
)

const maxUploadBytes = 50 << 20

type chatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stream      bool     `json:"stream"`
}

type chatResponse struct {
	Response  string                `json:"response"`
	Timings   *orchestrator.Timings `json:"timings"`
	Sources   []orchestrator.Source `json:"sources"`
	SessionID string                `json:"session_id"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	conv, err := s.deps.Conversations.GetOrCreate(r.Context(), req.SessionID)
	if err != nil {
		s.fail(w, "load session", err)
		return
	}
	orch := s.deps.Registry.GetOrCreate(conv.ID)
	params := orchestrator.Params{Model: req.Model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	if req.Stream {
		s.streamChat(w, r, orch, req.Message, params)
		return
	}

	res, err := orch.ProcessTextOnce(r.Context(), req.Message, params)
	if err != nil {
		s.fail(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  res.Text,
		Timings:   res.Timings,
		Sources:   res.Sources,
		SessionID: conv.ID,
	})
}

// streamChat relays generated tokens as server-sent events, ending with
// "data: [DONE]".
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, message string, params orchestrator.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", orch.ConversationID())
	w.WriteHeader(http.StatusOK)

	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err := orch.ProcessTextStreamed(r.Context(), message, params, func(token string) error {
		return send(map[string]string{"token": token})
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("chat stream failed", "session_id", orch.ConversationID(), "error", err)
		send(map[string]string{"error": err.Error()})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type voiceResponse struct {
	Transcript string                `json:"transcript"`
	Text       string                `json:"response_text"`
	AudioURL   *string               `json:"audio_url"`
	Timings    *orchestrator.Timings `json:"timings"`
	Sources    []orchestrator.Source `json:"sources"`
	SessionID  string                `json:"session_id"`
}

// voice runs one recorded utterance through the batch pipeline and stores
// the spoken reply under the audio directory.
func (s *Server) voice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read audio: "+err.Error())
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio file")
		return
	}

	conv, err := s.deps.Conversations.GetOrCreate(r.Context(), r.FormValue("session_id"))
	if err != nil {
		s.fail(w, "load session", err)
		return
	}
	res, err := s.deps.Registry.GetOrCreate(conv.ID).ProcessOnce(r.Context(), audio, orchestrator.Params{})
	if err != nil {
		s.fail(w, "voice", err)
		return
	}

	resp := voiceResponse{
		Transcript: res.Transcript,
		Text:       res.Text,
		Timings:    res.Timings,
		Sources:    res.Sources,
		SessionID:  conv.ID,
	}
	if len(res.Audio) > 0 {
		url, err := s.saveAudio(res.Audio)
		if err != nil {
			s.fail(w, "save audio", err)
			return
		}
		resp.AudioURL = &url
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveAudio(wav []byte) (string, error) {
	if err := os.MkdirAll(s.deps.AudioDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + ".wav"
	if err := os.WriteFile(filepath.Join(s.deps.AudioDir, name), wav, 0o644); err != nil {
		return "", err
	}
	return "/audio/" + name, nil
}
