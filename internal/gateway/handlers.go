package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/executor"
	"github.com/canopybank/llm-gateway/internal/orchestrator"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), "input_invalid")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "input_invalid")
		return
	}
	if err := executor.ValidateDescriptors(req.Functions); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "input_invalid")
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	oreq := orchestrator.Request{
		Resolution:      s.selector.Current(),
		Principal:       principal,
		ThreadID:        req.SessionID,
		Messages:        req.toMessages(),
		UseRAG:          req.UseRAG,
		UseFunctions:    req.UseFunctions,
		ClientTools:     req.Functions,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}

	if req.Stream {
		s.streamChat(w, r, oreq)
		return
	}

	result, err := s.orch.Run(r.Context(), oreq)
	if err != nil {
		status, body := mapError(r, err)
		s.logger.Error("chat failed", "error", err, "request_id", body.RequestID)
		writeJSON(w, status, body)
		return
	}

	calls := reportToolCalls(result.ToolCalls)
	observeToolCalls(calls)
	chatTurnsTotal.WithLabelValues(oreq.Resolution.Provider, oreq.Resolution.FriendlyName).Inc()
	writeJSON(w, http.StatusOK, chatResponse{
		Response:      result.Text,
		FunctionCalls: calls,
		SessionID:     result.ThreadID,
		RequestID:     requestIDFrom(r.Context()),
		SessionEnded:  result.EndSession,
	})
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required", "auth_invalid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         principal.UserID,
		"permitted_tools": principal.PermittedTools,
		"tools":           s.resolver.Describe(principal.PermittedTools),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.registry.Providers(),
		"models":    s.registry.List(),
	})
}

func (s *Server) handleCurrentModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.selector.Current())
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), "input_invalid")
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, r, http.StatusBadRequest, "provider and model are required", "input_invalid")
		return
	}
	if !s.registry.Validate(req.Provider, req.Model) {
		writeError(w, r, http.StatusNotFound, "unknown provider/model combination", "provider_model_not_found")
		return
	}

	resolution, err := s.selector.Switch(r.Context(), req.Provider, req.Model, req.Validate)
	if err != nil {
		status, body := mapError(r, err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "switched",
		"active": resolution,
	})
}

func (s *Server) handleCloseThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if threadID == "" {
		writeError(w, r, http.StatusBadRequest, "thread id is required", "input_invalid")
		return
	}
	if err := s.store.Close(r.Context(), threadID); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed", "thread_id": threadID})
}
