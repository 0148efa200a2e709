package orchestrator

import (
	"testing"

	"github.com/canopybank/llm-gateway/internal/provider"
)

func roles(messages []provider.Message) []string {
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.Role
	}
	return out
}

func TestSanitizeFunctionsDropsOrphans(t *testing.T) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "hi"},
		// Orphan: no preceding assistant tool-call turn.
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "stale-1"},
		{Role: provider.RoleAssistant, Content: "", ToolCalls: []provider.ToolCall{{ID: "c1", Name: "t"}}},
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c1"},
		// Mismatched id after the declaring turn.
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c9"},
		{Role: provider.RoleAssistant, Content: "done"},
		// Orphan after a plain assistant turn.
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c1"},
	}

	got := Sanitize(messages, provider.ToolSchemaFunctions)
	want := []string{"system", "user", "assistant", "tool", "assistant"}
	gotRoles := roles(got)
	if len(gotRoles) != len(want) {
		t.Fatalf("roles = %v, want %v", gotRoles, want)
	}
	for i := range want {
		if gotRoles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", gotRoles, want)
		}
	}
	if got[3].ToolCallID != "c1" {
		t.Errorf("kept tool message id = %s, want c1", got[3].ToolCallID)
	}
}

func TestSanitizeBlocksKeepsPairedResults(t *testing.T) {
	messages := []provider.Message{
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "stale"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1"}, {ID: "c2"}}},
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c1"},
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c2"},
	}

	got := Sanitize(messages, provider.ToolSchemaBlocks)
	want := []string{"user", "assistant", "tool", "tool"}
	gotRoles := roles(got)
	if len(gotRoles) != len(want) {
		t.Fatalf("roles = %v, want %v", gotRoles, want)
	}
}

func TestSanitizeTextPassesThrough(t *testing.T) {
	messages := []provider.Message{
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleTool, Content: "{}", ToolCallID: "c1"},
	}
	got := Sanitize(messages, provider.ToolSchemaText)
	if len(got) != 2 {
		t.Fatalf("text schema should leave the transcript to the adapter, got %v", roles(got))
	}
}
