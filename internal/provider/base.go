package provider

import (
	"context"
	"time"
)

// base carries the retry behavior shared by all adapters. Transport failures
// are retried at most once; every other failure surfaces immediately.
type base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBase(name string) base {
	return base{
		name:       name,
		maxRetries: 1,
		retryDelay: 500 * time.Millisecond,
	}
}

// retry runs op, retrying once on a retryable provider error. The delay
// between attempts is linear in the attempt count.
func (b base) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * b.retryDelay):
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		pe, ok := AsProviderError(lastErr)
		if !ok || !pe.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

// effectiveTemperature applies the parameter-filtering rules for sampling
// temperature: nil when the model is reasoning-class, clamped toward
// determinism on tool-selection turns.
func effectiveTemperature(params ChatParams, caps Capabilities) *float32 {
	if caps.SupportsReasoning {
		return nil
	}
	t := params.Temperature
	if params.ToolCallTurn {
		clamped := float32(0.1)
		if t == nil || *t > clamped {
			return &clamped
		}
	}
	return t
}

// simulateStream slices a completed response into fixed-size chunks for
// vendors without native streaming.
const simulatedChunkSize = 50

func simulateStream(text string) <-chan StreamChunk {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		runes := []rune(text)
		for i := 0; i < len(runes); i += simulatedChunkSize {
			end := i + simulatedChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			out <- StreamChunk{Text: string(runes[i:end])}
		}
		out <- StreamChunk{Done: true}
	}()
	return out
}
