package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/canopybank/llm-gateway/internal/orchestrator"
)

// streamFrame is one SSE payload. Frames are written as "data: <json>\n\n";
// clients consume until a done or error frame.
type streamFrame struct {
	Type          string           `json:"type"`
	Content       string           `json:"content,omitempty"`
	FunctionCalls []toolCallReport `json:"function_calls,omitempty"`
	Error         string           `json:"error,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, oreq orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported", "internal_error")
		return
	}

	events, err := s.orch.RunStream(r.Context(), oreq)
	if err != nil {
		status, body := mapError(r, err)
		s.logger.Error("chat stream setup failed", "error", err, "request_id", body.RequestID)
		writeJSON(w, status, body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(frame streamFrame) {
		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for event := range events {
		switch event.Type {
		case orchestrator.EventContent:
			writeFrame(streamFrame{Type: "content", Content: event.Text})
		case orchestrator.EventFunctionCalls:
			calls := reportToolCalls(event.Calls)
			observeToolCalls(calls)
			writeFrame(streamFrame{Type: "function_calls", FunctionCalls: calls})
		case orchestrator.EventDone:
			chatTurnsTotal.WithLabelValues(oreq.Resolution.Provider, oreq.Resolution.FriendlyName).Inc()
			writeFrame(streamFrame{Type: "done", SessionID: event.Result.ThreadID})
			return
		case orchestrator.EventError:
			_, body := mapError(r, event.Err)
			s.logger.Error("chat stream failed", "error", event.Err, "request_id", body.RequestID)
			writeFrame(streamFrame{Type: "error", Error: body.Error})
			return
		}
	}
}
