package orchestrator

import (
	"context"

	"github.com/canopybank/llm-gateway/internal/provider"
)

// Stream event types mirror the wire frames emitted by the HTTP surface.
const (
	EventContent       = "content"
	EventFunctionCalls = "function_calls"
	EventDone          = "done"
	EventError         = "error"
)

// StreamEvent is one element of a streamed exchange.
type StreamEvent struct {
	Type   string
	Text   string
	Calls  []provider.ToolCallResult
	Result *Result
	Err    error
}

// RunStream executes one exchange, emitting tool-call batches as they
// complete and the final answer as incremental content events. Setup errors
// (unknown provider, memory failures) return synchronously; errors after the
// stream starts arrive as an error event. The channel closes after a done or
// error event.
func (o *Orchestrator) RunStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := o.factory.Get(ctx, req.Resolution.Provider, req.Resolution.APIName, req.Resolution.Capabilities)
	if err != nil {
		return nil, err
	}
	state, err := o.assemble(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 8)
	go func() {
		defer close(events)

		result := &Result{ThreadID: state.threadID}
		params := o.params(req)
		schema := req.Resolution.Capabilities.Schema

		tools := o.toolSet(req)
		if len(tools) > 0 {
			turnParams := params
			turnParams.ToolCallTurn = true
			for iteration := 0; iteration < o.maxIterations; iteration++ {
				turn, err := adapter.ChatWithTools(ctx, Sanitize(state.transcript, schema), tools, turnParams)
				if err != nil {
					events <- StreamEvent{Type: EventError, Err: err}
					return
				}
				if len(turn.ToolCalls) == 0 {
					// The model answered without tools; the text is already
					// complete, so it goes out as one content event.
					result.Text = turn.Text
					result.ToolCalls = state.executed
					result.EndSession = state.endSession
					if turn.Text != "" {
						events <- StreamEvent{Type: EventContent, Text: turn.Text}
					}
					o.writeBack(ctx, state, req, result)
					events <- StreamEvent{Type: EventDone, Result: result}
					return
				}

				results := o.dispatch(ctx, state, req, turn.ToolCalls)
				o.appendTurn(state, turn, results)
				events <- StreamEvent{Type: EventFunctionCalls, Calls: results}
			}
		}

		// Final tool-free turn, streamed natively where the vendor supports
		// it.
		finalParams := params
		finalParams.ToolCallTurn = false
		chunks, err := adapter.ChatStream(ctx, Sanitize(state.transcript, schema), finalParams)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}
		var text string
		for chunk := range chunks {
			if chunk.Err != nil {
				events <- StreamEvent{Type: EventError, Err: chunk.Err}
				return
			}
			if chunk.Text != "" {
				text += chunk.Text
				events <- StreamEvent{Type: EventContent, Text: chunk.Text}
			}
			if chunk.Done {
				break
			}
		}

		result.Text = text
		result.ToolCalls = state.executed
		result.EndSession = state.endSession
		o.writeBack(ctx, state, req, result)
		events <- StreamEvent{Type: EventDone, Result: result}
	}()
	return events, nil
}
