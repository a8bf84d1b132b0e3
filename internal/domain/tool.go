package domain

import (
	"context"
	"strings"
)

// InputValidator checks tool-call arguments against a compiled schema.
// Validate returns the argument map with schema defaults applied, or a
// *ValidationError describing every rejected field.
type InputValidator interface {
	Validate(input map[string]any) (map[string]any, error)
	Schema() map[string]any
}

// ExecuteFunc submits validated arguments to a model's invocation endpoint.
type ExecuteFunc func(ctx context.Context, input map[string]any) (ExecutionResult, error)

// ToolDefinition is the unit exposed to the agent runtime: a plain data
// record binding a derived name, a description, a compiled input validator
// and an execution function. It carries no mutable state.
type ToolDefinition struct {
	Name        string
	EndpointID  string
	Description string
	Validator   InputValidator
	Execute     ExecuteFunc
}

// DeriveToolName maps an endpoint identifier to its tool name by replacing
// every rune outside [A-Za-z0-9] with an underscore. The mapping is a pure
// function of the identifier: the same id always yields the same name, which
// registry idempotence depends on. Distinct ids differing only in
// non-alphanumeric runes may collide; callers own disambiguation if they
// ever mix such ids.
func DeriveToolName(endpointID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, endpointID)
}
