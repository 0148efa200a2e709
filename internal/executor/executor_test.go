package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/canopybank/llm-gateway/internal/audit"
	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/provider"
)

const accountID = "11111111-2222-3333-4444-555555555555"

func testPrincipal() *auth.Principal {
	return &auth.Principal{
		UserID:     "user-1",
		Attributes: map[string]any{"finance_user_id": "fin-1"},
	}
}

func noopAuditor(t *testing.T) *audit.Logger {
	t.Helper()
	auditor, err := audit.NewLogger(audit.Config{Enabled: false})
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	return auditor
}

func newTestExecutor(t *testing.T, finance, users, retrieval http.Handler, timeout time.Duration) *Executor {
	t.Helper()
	cfg := Config{CallTimeout: timeout}
	if finance != nil {
		s := httptest.NewServer(finance)
		t.Cleanup(s.Close)
		cfg.FinanceURL = s.URL
	}
	if users != nil {
		s := httptest.NewServer(users)
		t.Cleanup(s.Close)
		cfg.UserURL = s.URL
	}
	if retrieval != nil {
		s := httptest.NewServer(retrieval)
		t.Cleanup(s.Close)
		cfg.RetrievalURL = s.URL
	}
	return New(cfg, noopAuditor(t), nil)
}

func financeHandler(t *testing.T, transfers *[]TransferRequest) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("userId"); got != "fin-1" {
			t.Errorf("accounts userId = %q, want fin-1", got)
		}
		json.NewEncoder(w).Encode([]Account{
			{ID: accountID, Type: "checking", Balance: 120},
			{ID: "99999999-8888-7777-6666-555555555555", Type: "savings", Balance: 900},
		})
	})
	mux.HandleFunc("POST /transfers", func(w http.ResponseWriter, r *http.Request) {
		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode transfer: %v", err)
		}
		if transfers != nil {
			*transfers = append(*transfers, req)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "id": "tx-1"})
	})
	return mux
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor(t, nil, nil, nil, 0)
	res := e.Execute(context.Background(), provider.ToolCall{ID: "c1", Name: "fly_to_moon"}, testPrincipal(), CallOptions{})
	if !strings.Contains(res.Error, string(ErrUnknownTool)) {
		t.Fatalf("error = %q, want unknown_tool", res.Error)
	}
}

func TestTransferResolvesAccountType(t *testing.T) {
	var transfers []TransferRequest
	e := newTestExecutor(t, financeHandler(t, &transfers), nil, nil, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "transfer_funds",
		Args: map[string]any{"from_account": "checking", "to_account_id": "dest-1", "amount": float64(25)},
	}, testPrincipal(), CallOptions{})

	if res.Error != "" {
		t.Fatalf("transfer failed: %s", res.Error)
	}
	if len(transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(transfers))
	}
	if transfers[0].FromAccountID != accountID {
		t.Errorf("fromAccountId = %q, want resolved checking account", transfers[0].FromAccountID)
	}
	if transfers[0].Description != defaultTransferDescription {
		t.Errorf("description = %q, want default", transfers[0].Description)
	}
}

func TestTransferVerbatimAccountID(t *testing.T) {
	var transfers []TransferRequest
	e := newTestExecutor(t, financeHandler(t, &transfers), nil, nil, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "transfer_funds",
		Args: map[string]any{"from_account": accountID, "to_account_id": "dest-1", "amount": float64(10)},
	}, testPrincipal(), CallOptions{})

	if res.Error != "" {
		t.Fatalf("transfer failed: %s", res.Error)
	}
	// A 36-character hyphenated identifier skips the accounts lookup.
	if transfers[0].FromAccountID != accountID {
		t.Errorf("fromAccountId = %q, want verbatim id", transfers[0].FromAccountID)
	}
}

func TestTransferRejectsUnknownType(t *testing.T) {
	e := newTestExecutor(t, financeHandler(t, nil), nil, nil, 0)
	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "transfer_funds",
		Args: map[string]any{"from_account": "offshore", "to_account_id": "dest-1", "amount": float64(10)},
	}, testPrincipal(), CallOptions{})
	if !strings.Contains(res.Error, string(ErrInvalidArgs)) {
		t.Fatalf("error = %q, want invalid_arguments", res.Error)
	}
}

func usersHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"users": []User{
				{ID: "u-alice", Name: "Alice", Accounts: []Account{
					{ID: "a-check", Type: "checking"},
					{ID: "a-save", Type: "savings"},
				}},
				{ID: "u-alina", Name: "Alina", Accounts: []Account{
					{ID: "b-check", Type: "checking"},
				}},
				{ID: "u-empty", Name: "Aline"},
			},
		})
	})
	return mux
}

func TestListRecipientsSelection(t *testing.T) {
	e := newTestExecutor(t, nil, usersHandler(), nil, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "list_recipients",
		Args: map[string]any{"name": "Ali", "account_type": "savings"},
	}, testPrincipal(), CallOptions{})
	if res.Error != "" {
		t.Fatalf("list_recipients failed: %s", res.Error)
	}

	var payload struct {
		Recipients []recipient `json:"recipients"`
		Count      int         `json:"count"`
	}
	if err := json.Unmarshal(res.Result, &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if payload.Count != 2 {
		t.Fatalf("count = %d, want 2 (accountless user skipped)", payload.Count)
	}
	// Matching account type wins; otherwise the first account.
	if payload.Recipients[0].AccountID != "a-save" || payload.Recipients[0].AccountType != "savings" {
		t.Errorf("alice selection = %+v", payload.Recipients[0])
	}
	if payload.Recipients[1].AccountID != "b-check" {
		t.Errorf("alina selection = %+v", payload.Recipients[1])
	}
}

func TestListRecipientsNameTooShort(t *testing.T) {
	e := newTestExecutor(t, nil, usersHandler(), nil, 0)
	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "list_recipients",
		Args: map[string]any{"name": "Al"},
	}, testPrincipal(), CallOptions{})
	if !strings.Contains(res.Error, "at least 3 characters") {
		t.Fatalf("error = %q, want minimum-length rejection", res.Error)
	}
}

func TestRAGContextQueryFallbackAndTruncation(t *testing.T) {
	var gotQuery string
	retrieval := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery, _ = body["query"].(string)
		json.NewEncoder(w).Encode(RetrievalResult{Context: strings.Repeat("x", 100), ResultsCount: 3})
	})
	e := newTestExecutor(t, nil, nil, retrieval, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: RAGContextTool,
		Args: map[string]any{},
	}, nil, CallOptions{Query: "what are the fees", RAGMaxContextChars: 40})
	if res.Error != "" {
		t.Fatalf("rag failed: %s", res.Error)
	}
	if gotQuery != "what are the fees" {
		t.Errorf("query = %q, want fallback to last user message", gotQuery)
	}
	var payload struct {
		Context      string `json:"context"`
		ResultsCount int    `json:"results_count"`
	}
	if err := json.Unmarshal(res.Result, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Context) != 40 {
		t.Errorf("context length = %d, want truncated to 40", len(payload.Context))
	}
	if payload.ResultsCount != 3 {
		t.Errorf("results_count = %d, want 3", payload.ResultsCount)
	}
}

func TestRAGContextTruncationIsRuneSafe(t *testing.T) {
	retrieval := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RetrievalResult{Context: strings.Repeat("é", 30), ResultsCount: 1})
	})
	e := newTestExecutor(t, nil, nil, retrieval, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: RAGContextTool,
		Args: map[string]any{"query": "fees"},
	}, nil, CallOptions{RAGMaxContextChars: 7})
	if res.Error != "" {
		t.Fatalf("rag failed: %s", res.Error)
	}
	var payload struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(res.Result, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !utf8.ValidString(payload.Context) {
		t.Fatalf("context is not valid UTF-8: %q", payload.Context)
	}
	if got := utf8.RuneCountInString(payload.Context); got != 7 {
		t.Errorf("rune count = %d, want 7", got)
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	e := newTestExecutor(t, slow, nil, nil, 50*time.Millisecond)

	start := time.Now()
	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "get_account_balance",
		Args: map[string]any{},
	}, testPrincipal(), CallOptions{})
	if !strings.Contains(res.Error, string(ErrTimeout)) {
		t.Fatalf("error = %q, want timeout", res.Error)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestExecuteBackendError(t *testing.T) {
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
	})
	e := newTestExecutor(t, failing, nil, nil, 0)

	res := e.Execute(context.Background(), provider.ToolCall{
		ID:   "c1",
		Name: "get_account_balance",
		Args: map[string]any{},
	}, testPrincipal(), CallOptions{})
	if !strings.Contains(res.Error, string(ErrBackend)) || !strings.Contains(res.Error, "503") {
		t.Fatalf("error = %q, want backend_error with status", res.Error)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	e := newTestExecutor(t, financeHandler(t, nil), usersHandler(), nil, 0)

	calls := []provider.ToolCall{
		{ID: "c1", Name: "get_account_balance", Args: map[string]any{}},
		{ID: "c2", Name: "list_recipients", Args: map[string]any{"name": "Alice"}},
		{ID: "c3", Name: "fly_to_moon", Args: map[string]any{}},
		{ID: "c4", Name: EndSessionTool, Args: map[string]any{}},
	}
	results := e.ExecuteAll(context.Background(), calls, testPrincipal(), CallOptions{})
	if len(results) != len(calls) {
		t.Fatalf("results = %d, want %d", len(results), len(calls))
	}
	for i, res := range results {
		if res.Call.ID != calls[i].ID {
			t.Fatalf("result %d is for call %s, order not preserved", i, res.Call.ID)
		}
	}
	if results[2].Error == "" {
		t.Error("unknown tool should carry an error")
	}
	if results[3].Error != "" {
		t.Errorf("end session errored: %s", results[3].Error)
	}
}

func TestValidateDescriptor(t *testing.T) {
	good := provider.ToolDescriptor{
		Name:       "lookup_rates",
		Parameters: json.RawMessage(`{"type":"object","properties":{"currency":{"type":"string"}},"required":["currency"]}`),
	}
	if err := ValidateDescriptor(good); err != nil {
		t.Errorf("valid descriptor rejected: %v", err)
	}

	badName := provider.ToolDescriptor{Name: "bad name!"}
	if err := ValidateDescriptor(badName); err == nil {
		t.Error("expected rejection for invalid name")
	}

	badSchema := provider.ToolDescriptor{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type":"object","properties":"nope"}`),
	}
	if err := ValidateDescriptor(badSchema); err == nil {
		t.Error("expected rejection for invalid schema")
	}
}
