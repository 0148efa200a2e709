// Package executor dispatches named tool calls to backend microservices and
// returns structured results or errors. It never panics on bad input; every
// failure becomes a tool error fed back to the model.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/canopybank/llm-gateway/internal/audit"
	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/provider"
)

// RAGContextTool is the retrieval-context tool. It is whitelisted at dispatch
// regardless of the principal's permitted set.
const RAGContextTool = "get_rag_context"

// EndSessionTool signals that the user wants to close the thread. It has no
// backend; the orchestrator consumes the marker.
const EndSessionTool = "trigger_end_session"

// maxParallelTools bounds concurrent tool execution within one model turn.
const maxParallelTools = 4

// Default retrieval parameters when the model registry has no override.
const (
	defaultRAGTopK            = 5
	defaultRAGMaxContextChars = 4000
)

// ErrorKind classifies tool execution failures.
type ErrorKind string

const (
	ErrUnknownTool ErrorKind = "unknown_tool"
	ErrTimeout     ErrorKind = "timeout"
	ErrBackend     ErrorKind = "backend_error"
	ErrInvalidArgs ErrorKind = "invalid_arguments"
)

// ToolError is a structured tool execution failure.
type ToolError struct {
	Kind    ErrorKind
	Message string
	Status  int
}

func (e *ToolError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsToolError extracts a ToolError from an error chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CallOptions carry per-request context the handlers need beyond their
// arguments: the retrieval fallback query and the model's retrieval defaults.
type CallOptions struct {
	// Query is the fallback retrieval query, normally the last user message.
	Query string
	// RAGTopK overrides the retrieval result count.
	RAGTopK int
	// RAGMaxContextChars caps the returned context length.
	RAGMaxContextChars int
}

// handler executes one tool against its backend.
type handler func(ctx context.Context, args map[string]any, principal *auth.Principal, opts CallOptions) (json.RawMessage, error)

// Executor holds the static tool registry and its backend clients.
type Executor struct {
	finance   *FinanceClient
	users     *UserClient
	retrieval *RetrievalClient
	auditor   *audit.Logger
	logger    *slog.Logger
	timeout   time.Duration
	handlers  map[string]handler
}

// Config holds backend endpoints for the executor.
type Config struct {
	FinanceURL   string
	UserURL      string
	RetrievalURL string
	// CallTimeout overrides the per-call deadline. Defaults to the slowest
	// backend timeout; the per-service HTTP clients enforce the tighter
	// limits.
	CallTimeout time.Duration
}

// New creates an executor wired to the backend services.
func New(cfg Config, auditor *audit.Logger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = RetrievalTimeout
	}
	e := &Executor{
		finance:   NewFinanceClient(cfg.FinanceURL),
		users:     NewUserClient(cfg.UserURL),
		retrieval: NewRetrievalClient(cfg.RetrievalURL),
		auditor:   auditor,
		logger:    logger.With("component", "executor"),
		timeout:   timeout,
	}
	e.handlers = map[string]handler{
		"get_account_balance":       e.getAccountBalance,
		"get_transaction_history":   e.getTransactionHistory,
		"transfer_funds":            e.transferFunds,
		"list_recipients":           e.listRecipients,
		"get_user_profile":          e.getUserProfile,
		"get_portfolio_balance":     e.getPortfolioBalance,
		"place_trade_order":         e.placeTradeOrder,
		"check_credit_score":        e.checkCreditScore,
		"apply_for_loan":            e.applyForLoan,
		"get_all_customer_accounts": e.getAllCustomerAccounts,
		RAGContextTool:              e.getRAGContext,
		EndSessionTool:              e.triggerEndSession,
	}
	return e
}

// Known reports whether the executor has a handler for the named tool.
func (e *Executor) Known(name string) bool {
	_, ok := e.handlers[name]
	return ok
}

// Execute runs one tool call and returns its result record. Unknown tools,
// backend failures, and timeouts all come back as tool errors, never as a
// request failure.
func (e *Executor) Execute(ctx context.Context, call provider.ToolCall, principal *auth.Principal, opts CallOptions) provider.ToolCallResult {
	start := time.Now()
	result := provider.ToolCallResult{Call: call}

	h, ok := e.handlers[call.Name]
	if !ok {
		result.Error = (&ToolError{Kind: ErrUnknownTool, Message: fmt.Sprintf("tool %q is not registered", call.Name)}).Error()
		result.Elapsed = time.Since(start)
		return result
	}

	userID := ""
	threadID := ""
	if principal != nil {
		userID = principal.UserID
	}
	e.auditor.LogToolInvocation(ctx, threadID, userID, call.Name, call.ID, provider.MarshalArgs(call.Args))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		raw json.RawMessage
		err error
	}
	// Buffered so a late handler return never leaks a goroutine.
	done := make(chan outcome, 1)
	go func() {
		raw, err := h(callCtx, call.Args, principal, opts)
		done <- outcome{raw, err}
	}()

	select {
	case out := <-done:
		result.Elapsed = time.Since(start)
		if out.err != nil {
			result.Error = normalizeToolError(out.err).Error()
		} else {
			result.Result = out.raw
		}
	case <-callCtx.Done():
		result.Elapsed = time.Since(start)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.Error = (&ToolError{Kind: ErrTimeout, Message: fmt.Sprintf("tool %q timed out after %s", call.Name, e.timeout)}).Error()
		} else {
			result.Error = (&ToolError{Kind: ErrBackend, Message: "request cancelled"}).Error()
		}
	}

	e.auditor.LogToolCompletion(ctx, threadID, userID, call.Name, call.ID, result.Error == "", string(result.Result), result.Elapsed)
	if result.Error != "" {
		e.logger.Warn("tool call failed", "tool", call.Name, "error", result.Error, "elapsed", result.Elapsed)
	} else {
		e.logger.Debug("tool call completed", "tool", call.Name, "elapsed", result.Elapsed)
	}
	return result
}

// ExecuteAll runs one turn's tool calls in parallel behind a bounded
// semaphore. Results come back in the order the calls were given.
func (e *Executor) ExecuteAll(ctx context.Context, calls []provider.ToolCall, principal *auth.Principal, opts CallOptions) []provider.ToolCallResult {
	results := make([]provider.ToolCallResult, len(calls))
	if len(calls) == 0 {
		return results
	}
	if len(calls) == 1 {
		results[0] = e.Execute(ctx, calls[0], principal, opts)
		return results
	}

	sem := make(chan struct{}, maxParallelTools)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call provider.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, call, principal, opts)
		}(i, call)
	}
	wg.Wait()
	return results
}

// normalizeToolError folds backend and argument errors into the tool error
// taxonomy.
func normalizeToolError(err error) *ToolError {
	if te, ok := AsToolError(err); ok {
		return te
	}
	var be *BackendError
	if errors.As(err, &be) {
		return &ToolError{Kind: ErrBackend, Message: be.Body, Status: be.Status}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{Kind: ErrTimeout, Message: err.Error()}
	}
	return &ToolError{Kind: ErrBackend, Message: err.Error()}
}
