// Package orchestrator runs the multi-turn tool loop: it assembles the
// transcript from conversation memory, alternates model turns with tool
// execution, and writes the outcome back to memory.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canopybank/llm-gateway/internal/audit"
	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/executor"
	"github.com/canopybank/llm-gateway/internal/memory"
	"github.com/canopybank/llm-gateway/internal/observability"
	"github.com/canopybank/llm-gateway/internal/provider"
	"github.com/canopybank/llm-gateway/internal/registry"
)

// DefaultMaxIterations bounds the tool loop. Each iteration is one vendor
// turn that may request tools; a final tool-free turn runs when the bound is
// reached with the model still requesting tools.
const DefaultMaxIterations = 4

// functionResultMarker prefixes the synthesized assistant records persisted
// in place of raw provider-specific tool messages.
const functionResultMarker = "[function_result]"

// Request is one orchestrated chat exchange.
type Request struct {
	Resolution registry.Resolution
	Principal  *auth.Principal
	ThreadID   string
	// Messages are the new user messages for this exchange.
	Messages []provider.Message

	UseRAG       bool
	UseFunctions bool
	// ClientTools are caller-supplied descriptors, already validated. Only
	// names in the principal's permitted set are offered to the model.
	ClientTools []provider.ToolDescriptor

	Temperature     *float32
	MaxTokens       int
	ReasoningEffort string
}

// Result is the outcome of one orchestrated exchange.
type Result struct {
	Text       string
	ToolCalls  []provider.ToolCallResult
	EndSession bool
	ThreadID   string
}

// AdapterSource resolves the adapter for a model resolution. *provider.Factory
// is the production implementation.
type AdapterSource interface {
	Get(ctx context.Context, providerName, model string, caps provider.Capabilities) (provider.Adapter, error)
}

// Orchestrator drives the tool loop for one gateway process.
type Orchestrator struct {
	factory       AdapterSource
	store         memory.Store
	exec          *executor.Executor
	catalog       *auth.Catalog
	auditor       *audit.Logger
	logger        *slog.Logger
	systemPrompt  string
	maxIterations int
}

// New creates an orchestrator.
func New(factory AdapterSource, store memory.Store, exec *executor.Executor, catalog *auth.Catalog, auditor *audit.Logger, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if systemPrompt == "" {
		systemPrompt = LoadSystemPrompt("")
	}
	return &Orchestrator{
		factory:       factory,
		store:         store,
		exec:          exec,
		catalog:       catalog,
		auditor:       auditor,
		logger:        logger.With("component", "orchestrator"),
		systemPrompt:  systemPrompt,
		maxIterations: DefaultMaxIterations,
	}
}

// Run executes one exchange and returns the final answer plus the executed
// tool calls.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.run")
	defer span.End()

	adapter, err := o.factory.Get(ctx, req.Resolution.Provider, req.Resolution.APIName, req.Resolution.Capabilities)
	if err != nil {
		return nil, err
	}

	state, err := o.assemble(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result{ThreadID: state.threadID}
	params := o.params(req)

	tools := o.toolSet(req)
	if len(tools) > 0 {
		answer, done, err := o.toolLoop(ctx, adapter, state, req, tools, params)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = state.executed
		result.EndSession = state.endSession
		if done {
			result.Text = answer
			o.writeBack(ctx, state, req, result)
			return result, nil
		}
	}

	// Tool-free final turn: either tools were never in play or the iteration
	// bound was reached with the model still requesting them.
	finalParams := params
	finalParams.ToolCallTurn = false
	text, err := adapter.Chat(ctx, Sanitize(state.transcript, req.Resolution.Capabilities.Schema), finalParams)
	if err != nil {
		return nil, err
	}
	result.Text = text
	result.ToolCalls = state.executed
	result.EndSession = state.endSession
	o.writeBack(ctx, state, req, result)
	return result, nil
}

// loopState carries the per-exchange mutable state.
type loopState struct {
	threadID   string
	transcript []provider.Message
	executed   []provider.ToolCallResult
	summaries  []memory.Record
	endSession bool
	userID     string
}

// assemble loads history, prepends the banking system prompt, appends the new
// user messages, and persists them.
func (o *Orchestrator) assemble(ctx context.Context, req Request) (*loopState, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	userID := ""
	if req.Principal != nil {
		userID = req.Principal.UserID
	}

	history, err := o.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	transcript := make([]provider.Message, 0, len(history)+len(req.Messages)+1)
	transcript = append(transcript, provider.Message{Role: provider.RoleSystem, Content: o.systemPrompt})
	for _, rec := range history {
		// The banking prompt is always first; stored or client-supplied
		// system messages are dropped.
		if rec.Role == provider.RoleSystem {
			continue
		}
		transcript = append(transcript, provider.Message{Role: rec.Role, Content: rec.Content})
	}

	var newRecords []memory.Record
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			continue
		}
		transcript = append(transcript, msg)
		newRecords = append(newRecords, memory.Record{Role: msg.Role, Content: msg.Content})
	}
	if err := o.store.Append(ctx, threadID, userID, newRecords); err != nil {
		return nil, fmt.Errorf("persist user messages: %w", err)
	}

	return &loopState{threadID: threadID, transcript: transcript, userID: userID}, nil
}

// toolSet compiles the descriptor list for the exchange. Empty when tool use
// is disabled or unsupported by the model.
func (o *Orchestrator) toolSet(req Request) []provider.ToolDescriptor {
	caps := req.Resolution.Capabilities
	var tools []provider.ToolDescriptor

	if req.UseFunctions && caps.SupportsToolCalls && req.Principal != nil {
		tools = executor.Descriptors(req.Principal.PermittedTools, o.catalog)
		for _, ct := range req.ClientTools {
			if !req.Principal.HasTool(ct.Name) {
				continue
			}
			tools = replaceOrAppend(tools, ct)
		}
	}

	if req.UseRAG && caps.SupportsToolCalls {
		present := false
		for _, t := range tools {
			if t.Name == executor.RAGContextTool {
				present = true
				break
			}
		}
		if !present {
			tools = append(tools, executor.RAGDescriptor())
		}
	}
	return tools
}

func replaceOrAppend(tools []provider.ToolDescriptor, t provider.ToolDescriptor) []provider.ToolDescriptor {
	for i := range tools {
		if tools[i].Name == t.Name {
			tools[i] = t
			return tools
		}
	}
	return append(tools, t)
}

// params merges request parameters with registry defaults. Capability-based
// filtering happens at the adapter edge.
func (o *Orchestrator) params(req Request) provider.ChatParams {
	p := provider.ChatParams{
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = req.Resolution.Defaults.MaxTokens
	}
	return p
}

// toolLoop alternates model turns and tool execution. It returns the answer
// text with done=true when the model finished without requesting tools, or
// done=false when the iteration bound was reached and a final tool-free turn
// is still needed.
func (o *Orchestrator) toolLoop(ctx context.Context, adapter provider.Adapter, state *loopState, req Request, tools []provider.ToolDescriptor, params provider.ChatParams) (string, bool, error) {
	schema := req.Resolution.Capabilities.Schema
	turnParams := params
	turnParams.ToolCallTurn = true

	for iteration := 0; iteration < o.maxIterations; iteration++ {
		turn, err := adapter.ChatWithTools(ctx, Sanitize(state.transcript, schema), tools, turnParams)
		if err != nil {
			return "", false, err
		}
		if len(turn.ToolCalls) == 0 {
			return turn.Text, true, nil
		}

		o.logger.Debug("model requested tools",
			"thread_id", state.threadID,
			"iteration", iteration,
			"calls", len(turn.ToolCalls))

		results := o.dispatch(ctx, state, req, turn.ToolCalls)
		o.appendTurn(state, turn, results)
	}
	return "", false, nil
}

// dispatch gates each call against the principal's permitted set and executes
// the allowed ones in parallel, preserving model order in the results.
func (o *Orchestrator) dispatch(ctx context.Context, state *loopState, req Request, calls []provider.ToolCall) []provider.ToolCallResult {
	results := make([]provider.ToolCallResult, len(calls))
	var allowed []provider.ToolCall
	var allowedIdx []int

	for i, call := range calls {
		if call.Name == executor.RAGContextTool || (req.Principal != nil && req.Principal.HasTool(call.Name)) {
			allowed = append(allowed, call)
			allowedIdx = append(allowedIdx, i)
			continue
		}
		results[i] = provider.ToolCallResult{
			Call:   call,
			Error:  fmt.Sprintf("Function %s is not permitted", call.Name),
			Denied: true,
		}
		o.auditor.LogToolDenied(ctx, state.threadID, state.userID, call.Name, call.ID, "not in permitted tool set")
		o.auditor.LogPermissionDecision(ctx, state.userID, false, call.Name, "not in permitted tool set")
	}

	if len(allowed) > 0 {
		opts := executor.CallOptions{
			Query:              provider.LastUserContent(state.transcript),
			RAGTopK:            req.Resolution.Defaults.RAGTopK,
			RAGMaxContextChars: req.Resolution.Defaults.RAGMaxContextChars,
		}
		executed := o.exec.ExecuteAll(ctx, allowed, req.Principal, opts)
		for j, idx := range allowedIdx {
			results[idx] = executed[j]
		}
	}

	for _, res := range results {
		if res.Call.Name == executor.EndSessionTool && res.Error == "" {
			state.endSession = true
		}
	}
	return results
}

// appendTurn extends the transcript with the assistant tool-call turn and one
// tool-result record per call, and queues the memory summaries. Raw tool
// messages never reach memory; each executed call persists as one synthesized
// assistant record instead.
func (o *Orchestrator) appendTurn(state *loopState, turn *provider.TurnResult, results []provider.ToolCallResult) {
	calls := make([]provider.ToolCall, len(results))
	for i, res := range results {
		calls[i] = res.Call
	}
	state.transcript = append(state.transcript, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   turn.Text,
		ToolCalls: calls,
	})

	for _, res := range results {
		state.transcript = append(state.transcript, provider.Message{
			Role:       provider.RoleTool,
			Content:    toolResultContent(res),
			ToolCallID: res.Call.ID,
			Name:       res.Call.Name,
		})
		state.executed = append(state.executed, res)
		// Denied calls reach the model through the tool-result turn but were
		// never executed, so they leave no memory summary.
		if res.Denied {
			continue
		}
		state.summaries = append(state.summaries, memory.Record{
			Role:         provider.RoleAssistant,
			Content:      fmt.Sprintf("%s %s: %s", functionResultMarker, res.Call.Name, toolResultContent(res)),
			FunctionCall: res.Call.Name,
		})
	}
}

// toolResultContent renders a result record as JSON text for the transcript.
func toolResultContent(res provider.ToolCallResult) string {
	if res.Error != "" {
		b, _ := json.Marshal(map[string]string{"error": res.Error})
		return string(b)
	}
	if len(res.Result) == 0 {
		return "{}"
	}
	return string(res.Result)
}

// writeBack persists the tool summaries and the final answer, then closes the
// thread when an end-session was requested. Persistence failures are logged;
// the answer still goes to the client.
func (o *Orchestrator) writeBack(ctx context.Context, state *loopState, req Request, result *Result) {
	records := make([]memory.Record, 0, len(state.summaries)+1)
	records = append(records, state.summaries...)
	if result.Text != "" {
		records = append(records, memory.Record{Role: provider.RoleAssistant, Content: result.Text})
	}
	if err := o.store.Append(ctx, state.threadID, state.userID, records); err != nil {
		o.logger.Error("conversation write-back failed", "thread_id", state.threadID, "error", err)
	}

	if state.endSession {
		if err := o.store.Close(ctx, state.threadID); err != nil {
			o.logger.Error("thread close failed", "thread_id", state.threadID, "error", err)
		} else {
			o.auditor.LogThreadClosed(ctx, state.threadID, state.userID)
		}
	}
}
