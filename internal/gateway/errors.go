package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/canopybank/llm-gateway/internal/provider"
)

// errorBody is the uniform error surface.
type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, errType string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		ErrorType: errType,
		RequestID: requestIDFrom(r.Context()),
	})
}

// mapError translates an orchestration failure into an HTTP status, error
// type, and body. Provider failures carry the provider and model for operator
// triage.
func mapError(r *http.Request, err error) (int, errorBody) {
	body := errorBody{
		Error:     err.Error(),
		ErrorType: "internal_error",
		RequestID: requestIDFrom(r.Context()),
	}
	status := http.StatusInternalServerError

	if pe, ok := provider.AsProviderError(err); ok {
		body.Provider = pe.Provider
		body.Model = pe.Model
		switch pe.Reason {
		case provider.ReasonAuth:
			status = http.StatusUnauthorized
			body.ErrorType = "provider_auth"
		case provider.ReasonRateLimit:
			status = http.StatusTooManyRequests
			body.ErrorType = "provider_rate_limit"
		case provider.ReasonModelNotFound:
			status = http.StatusNotFound
			body.ErrorType = "provider_model_not_found"
		case provider.ReasonConnection:
			status = http.StatusBadGateway
			body.ErrorType = "provider_connection"
		default:
			body.ErrorType = "provider_error"
		}
		providerErrorsTotal.WithLabelValues(pe.Provider, string(pe.Reason)).Inc()
	}
	return status, body
}
