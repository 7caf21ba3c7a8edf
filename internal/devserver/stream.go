// ABOUTME: SSE reply stream handler for the development chat server
// ABOUTME: Plays a Responder script as data frames and records the exchange as it goes

package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/sse"
)

// parseStreamRequest parses and validates a StreamRequest from the given
// reader.
func parseStreamRequest(r io.Reader) (*StreamRequest, error) {
	var req StreamRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.ChatID == "" {
		return nil, errors.New("chat_id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	if req.Role == "" {
		req.Role = "user"
	}
	return &req, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := parseStreamRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	reply := s.cfg.Responder(*req)
	if reply.Status != 0 {
		detail := reply.Detail
		if detail == "" {
			detail = http.StatusText(reply.Status)
		}
		s.sendJSONError(w, reply.Status, detail)
		return
	}

	// Check streaming support before writing anything (fail fast)
	if _, ok := w.(http.Flusher); !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	chatID := req.ChatID
	userMsg := Message{ID: uuid.New().String(), Role: "user", Content: req.Content, Timestamp: time.Now().UTC()}
	assistantID := uuid.New().String()
	// the user message is kept even if the reply never finishes
	s.appendMessage(chatID, userMsg)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With("chat_id", chatID, "message_id", assistantID)
	completed := s.playSteps(r.Context(), w, reply.Steps, chatID, userMsg.ID, assistantID)
	logger.Debug("stream finished", "completed", completed)
}

// playSteps writes the script. The exchange is recorded as it is written:
// a moderated start marks the user message and a done event stores the reply
// before it reaches the client. It reports whether a done event was sent.
func (s *Server) playSteps(ctx context.Context, w http.ResponseWriter, steps []Step, chatID, userID, assistantID string) bool {
	moderated, finished := false, false
	for _, step := range steps {
		if step.Pause > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(step.Pause):
			}
		}
		if ctx.Err() != nil {
			return false
		}

		var err error
		if step.Event == nil {
			err = writeRaw(w, step.Raw)
		} else {
			ev := withIDs(step.Event, userID, assistantID)
			switch e := ev.(type) {
			case event.Started:
				if e.Moderated {
					moderated = true
					s.markModerated(chatID, userID)
				}
			case event.Done:
				if !moderated {
					s.appendMessage(chatID, Message{ID: e.AssistantMessageID, Role: "assistant", Content: e.FinalContent, Timestamp: time.Now().UTC()})
				}
				finished = true
			}
			data, encErr := event.Encode(ev)
			if encErr != nil {
				s.logger.Error("failed to encode event", "error", encErr)
				return false
			}
			err = sse.WriteFrame(w, sse.Frame{Event: ev.Type(), Data: string(data)})
		}
		if err != nil {
			s.logger.Debug("client went away", "error", err)
			return false
		}
	}
	return finished
}

// withIDs fills in the message IDs a script left empty.
func withIDs(ev event.Event, userID, assistantID string) event.Event {
	switch e := ev.(type) {
	case event.Started:
		if e.AssistantMessageID == "" {
			e.AssistantMessageID = assistantID
		}
		if e.UserMessageID == "" {
			e.UserMessageID = userID
		}
		return e
	case event.Done:
		if e.AssistantMessageID == "" {
			e.AssistantMessageID = assistantID
		}
		return e
	default:
		return ev
	}
}

func writeRaw(w http.ResponseWriter, raw string) error {
	if _, err := io.WriteString(w, raw); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
