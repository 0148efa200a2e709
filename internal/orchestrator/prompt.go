package orchestrator

import (
	_ "embed"
	"os"
	"strings"
)

//go:embed system_prompt.txt
var defaultSystemPrompt string

// LoadSystemPrompt reads the banking system prompt from path, falling back to
// the embedded default when path is empty or unreadable.
func LoadSystemPrompt(path string) string {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if prompt := strings.TrimSpace(string(data)); prompt != "" {
				return prompt
			}
		}
	}
	return strings.TrimSpace(defaultSystemPrompt)
}
