package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lordamdal/voice-rag/internal/orchestrator"
)

const wsWriteTimeout = 5 * time.Second

// controlMessage is a text frame from the client. Binary frames carry
// PCM16 audio and are buffered until an "end" message arrives.
type controlMessage struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"session_id"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

type wsFrame struct {
	Type      string                `json:"type"`
	Stage     string                `json:"stage,omitempty"`
	Text      string                `json:"text,omitempty"`
	Data      []byte                `json:"data,omitempty"`
	Index     *int                  `json:"index,omitempty"`
	Timings   *orchestrator.Timings `json:"timings,omitempty"`
	Sources   []orchestrator.Source `json:"sources,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// socketWriter serializes writes from the read loop and the pipeline
// goroutine.
type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *socketWriter) send(f wsFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(f)
}

// voiceSocket runs the streaming voice protocol: binary audio frames, then
// {"type":"end"} to start a run or {"type":"cancel"} to stop one.
func (s *Server) voiceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("voice socket opened", "remote", r.RemoteAddr)

	out := &socketWriter{conn: conn}
	var (
		buffer []byte
		cancel context.CancelFunc = func() {}
		wg     sync.WaitGroup
		// closed once the latest run has emitted its final idle status
		running chan struct{}
	)
	defer func() {
		cancel()
		wg.Wait()
		s.logger.Info("voice socket closed", "remote", r.RemoteAddr)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("voice socket read failed", "error", err)
			}
			return
		}
		if kind == websocket.BinaryMessage {
			buffer = append(buffer, data...)
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			out.send(wsFrame{Type: string(orchestrator.EventError), Message: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case "end":
			if len(buffer) == 0 {
				continue
			}
			audio := buffer
			buffer = nil

			conv, err := s.deps.Conversations.GetOrCreate(r.Context(), msg.SessionID)
			if err != nil {
				s.logger.Error("load session failed", "session_id", msg.SessionID, "error", err)
				out.send(wsFrame{Type: string(orchestrator.EventError), Message: err.Error()})
				continue
			}

			cancel()
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			orch := s.deps.Registry.GetOrCreate(conv.ID)
			params := orchestrator.Params{Model: msg.Model, Temperature: msg.Temperature, MaxTokens: msg.MaxTokens}

			done := make(chan struct{})
			running = done
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(done)
				sink := &socketSink{out: out, sessionID: conv.ID}
				if _, err := orch.ProcessStreamed(runCtx, audio, params, sink); err != nil && runCtx.Err() == nil {
					s.logger.Error("voice stream failed", "session_id", conv.ID, "error", err)
				}
			}()

		case "cancel":
			buffer = nil
			cancel()
			// A run in flight reports idle itself when it unwinds.
			if !inFlight(running) {
				out.send(wsFrame{Type: string(orchestrator.EventStatus), Stage: string(orchestrator.StageIdle)})
			}

		default:
			s.logger.Debug("ignoring socket message", "type", msg.Type)
		}
	}
}

func inFlight(done chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// socketSink turns pipeline events into JSON frames.
type socketSink struct {
	out       *socketWriter
	sessionID string
}

func (k *socketSink) Emit(ev orchestrator.Event) {
	f := wsFrame{Type: string(ev.Type)}
	switch ev.Type {
	case orchestrator.EventStatus:
		f.Stage = string(ev.Stage)
	case orchestrator.EventTranscript:
		f.Text = ev.Text
	case orchestrator.EventAudioChunk:
		index := ev.Index
		f.Data = ev.Audio
		f.Index = &index
	case orchestrator.EventResponse:
		if ev.Result == nil || ev.Result.Text == "" {
			return
		}
		f.Text = ev.Result.Text
		f.Timings = ev.Result.Timings
		f.Sources = ev.Result.Sources
		f.SessionID = k.sessionID
	case orchestrator.EventError:
		if ev.Err != nil {
			f.Message = ev.Err.Error()
		}
	}
	// A write failure means the client is gone; the read loop will notice.
	k.out.send(f)
}
