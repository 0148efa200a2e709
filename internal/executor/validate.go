package executor

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/canopybank/llm-gateway/internal/provider"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateDescriptor checks a client-supplied tool descriptor: the name must
// be a short identifier and the parameters must compile as a JSON Schema.
func ValidateDescriptor(d provider.ToolDescriptor) error {
	if !toolNamePattern.MatchString(d.Name) {
		return fmt.Errorf("tool name %q must match %s", d.Name, toolNamePattern)
	}
	params := d.Parameters
	if len(params) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(params)); err != nil {
		return fmt.Errorf("tool %q parameters are not valid JSON: %w", d.Name, err)
	}
	if _, err := compiler.Compile("tool.json"); err != nil {
		return fmt.Errorf("tool %q parameters are not a valid JSON schema: %w", d.Name, err)
	}
	return nil
}

// ValidateDescriptors checks every client-supplied descriptor.
func ValidateDescriptors(descriptors []provider.ToolDescriptor) error {
	for _, d := range descriptors {
		if err := ValidateDescriptor(d); err != nil {
			return err
		}
	}
	return nil
}
