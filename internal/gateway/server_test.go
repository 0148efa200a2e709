package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canopybank/llm-gateway/internal/audit"
	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/config"
	"github.com/canopybank/llm-gateway/internal/executor"
	"github.com/canopybank/llm-gateway/internal/memory"
	"github.com/canopybank/llm-gateway/internal/orchestrator"
	"github.com/canopybank/llm-gateway/internal/provider"
	"github.com/canopybank/llm-gateway/internal/registry"
)

const testSecret = "test-secret"

// echoAdapter answers every turn with fixed text and never requests tools.
type echoAdapter struct{ text string }

func (a *echoAdapter) Name() string                        { return "echo" }
func (a *echoAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (a *echoAdapter) Chat(context.Context, []provider.Message, provider.ChatParams) (string, error) {
	return a.text, nil
}
func (a *echoAdapter) ChatWithTools(context.Context, []provider.Message, []provider.ToolDescriptor, provider.ChatParams) (*provider.TurnResult, error) {
	return &provider.TurnResult{Text: a.text}, nil
}
func (a *echoAdapter) ChatStream(context.Context, []provider.Message, provider.ChatParams) (<-chan provider.StreamChunk, error) {
	out := make(chan provider.StreamChunk, 2)
	out <- provider.StreamChunk{Text: a.text}
	out <- provider.StreamChunk{Done: true}
	close(out)
	return out, nil
}
func (a *echoAdapter) Test(context.Context) (*provider.ProbeResult, error) {
	return &provider.ProbeResult{OK: true}, nil
}

type stubSource struct{ adapter provider.Adapter }

func (s stubSource) Get(context.Context, string, string, provider.Capabilities) (provider.Adapter, error) {
	return s.adapter, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registryPath := filepath.Join(t.TempDir(), "registry.yaml")
	doc := "model_registry:\n  openai:\n    one_shot:\n      gpt-4o: gpt-4o\n"
	if err := os.WriteFile(registryPath, []byte(doc), 0644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg, err := registry.Load(registryPath, nil)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	store, err := memory.NewSQLiteStore(memory.Config{Path: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.CloseDB() })

	auditor, err := audit.NewLogger(audit.Config{Enabled: false})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	catalog := auth.DefaultCatalog()
	resolver := auth.NewResolver(catalog)
	validator := auth.NewValidator(testSecret, "", resolver, nil)
	exec := executor.New(executor.Config{}, auditor, nil)
	orch := orchestrator.New(stubSource{&echoAdapter{text: "echo reply"}}, store, exec, catalog, auditor, "", nil)

	factory := provider.NewFactory(provider.Credentials{})
	selector, err := NewModelSelector(reg, factory, "openai", "gpt-4o", nil)
	if err != nil {
		t.Fatalf("selector: %v", err)
	}

	return New(config.ServerConfig{}, orch, selector, reg, validator, resolver, store, nil)
}

func signTestToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		Scope:          "banking:read banking:write transfers:create",
		Roles:          []string{"customer"},
		MembershipTier: "premium",
		Region:         "domestic",
		Verified:       true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatRequiresExactlyOneInput(t *testing.T) {
	handler := newTestServer(t).Routes()

	both := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{
		"prompt":   "hi",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if both.Code != http.StatusBadRequest {
		t.Errorf("both inputs: status = %d, want 400", both.Code)
	}

	neither := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{})
	if neither.Code != http.StatusBadRequest {
		t.Errorf("no inputs: status = %d, want 400", neither.Code)
	}

	var body errorBody
	json.Unmarshal(neither.Body.Bytes(), &body)
	if body.ErrorType != "input_invalid" {
		t.Errorf("error_type = %q, want input_invalid", body.ErrorType)
	}
}

func TestChatParameterBounds(t *testing.T) {
	handler := newTestServer(t).Routes()

	badTemp := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{
		"prompt": "hi", "temperature": 3.5,
	})
	if badTemp.Code != http.StatusBadRequest {
		t.Errorf("temperature 3.5: status = %d, want 400", badTemp.Code)
	}

	badTokens := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{
		"prompt": "hi", "max_tokens": 10000,
	})
	if badTokens.Code != http.StatusBadRequest {
		t.Errorf("max_tokens 10000: status = %d, want 400", badTokens.Code)
	}
}

func TestChatUnauthenticatedPrompt(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{"prompt": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "echo reply" {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.SessionID == "" {
		t.Error("session_id missing")
	}
}

func TestAuthChatRequiresToken(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/auth/chat", "", map[string]any{"prompt": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	expired := doJSON(t, handler, http.MethodPost, "/auth/chat", signTestToken(t, -time.Minute), map[string]any{"prompt": "hi"})
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status = %d, want 401", expired.Code)
	}
	var body map[string]string
	json.Unmarshal(expired.Body.Bytes(), &body)
	if body["error_type"] != "auth_expired" {
		t.Errorf("error_type = %q, want auth_expired", body["error_type"])
	}
}

func TestChatInvalidTokenRejectedEvenWhenOptional(t *testing.T) {
	handler := newTestServer(t).Routes()
	rec := doJSON(t, handler, http.MethodPost, "/chat", "not-a-token", map[string]any{"prompt": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for present-but-invalid credential", rec.Code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/permissions", signTestToken(t, time.Hour), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		UserID         string   `json:"user_id"`
		PermittedTools []string `json:"permitted_tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "user-1" {
		t.Errorf("user_id = %q", resp.UserID)
	}
	found := false
	for _, tool := range resp.PermittedTools {
		if tool == "transfer_funds" {
			found = true
		}
	}
	if !found {
		t.Errorf("transfer_funds missing from %v", resp.PermittedTools)
	}
}

func TestModelsEndpoints(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodGet, "/models", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("models: status = %d", rec.Code)
	}
	current := doJSON(t, handler, http.MethodGet, "/models/current", "", nil)
	if current.Code != http.StatusOK {
		t.Fatalf("models/current: status = %d", current.Code)
	}
	var resolution registry.Resolution
	if err := json.Unmarshal(current.Body.Bytes(), &resolution); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resolution.Provider != "openai" || resolution.FriendlyName != "gpt-4o" {
		t.Errorf("current = %+v", resolution)
	}
}

func TestSwitchModelUnknown(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/switch-model", signTestToken(t, time.Hour), map[string]any{
		"provider": "openai", "model": "gpt-99",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCloseThread(t *testing.T) {
	server := newTestServer(t)
	handler := server.Routes()

	if err := server.store.(*memory.SQLiteStore).Append(context.Background(), "t1", "user-1",
		[]memory.Record{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/threads/t1/close", signTestToken(t, time.Hour), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	records, _ := server.store.Load(context.Background(), "t1")
	if records != nil {
		t.Error("thread still active after close")
	}
}

func TestChatStreamingFrames(t *testing.T) {
	handler := newTestServer(t).Routes()

	rec := doJSON(t, handler, http.MethodPost, "/chat", "", map[string]any{
		"prompt": "hello", "stream": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	var frames []streamFrame
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	if len(frames) < 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Type != "content" || frames[0].Content != "echo reply" {
		t.Errorf("first frame = %+v", frames[0])
	}
	last := frames[len(frames)-1]
	if last.Type != "done" || last.SessionID == "" {
		t.Errorf("last frame = %+v", last)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	tests := []struct {
		reason provider.Reason
		status int
	}{
		{provider.ReasonAuth, http.StatusUnauthorized},
		{provider.ReasonRateLimit, http.StatusTooManyRequests},
		{provider.ReasonModelNotFound, http.StatusNotFound},
		{provider.ReasonConnection, http.StatusBadGateway},
		{provider.ReasonGeneric, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := &provider.Error{Reason: tt.reason, Provider: "openai", Model: "gpt-4o"}
		status, body := mapError(req, err)
		if status != tt.status {
			t.Errorf("reason %s: status = %d, want %d", tt.reason, status, tt.status)
		}
		if body.Provider != "openai" {
			t.Errorf("reason %s: provider missing from body", tt.reason)
		}
	}
}
