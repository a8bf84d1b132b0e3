package domain

import (
	"fmt"
	"strings"
)

// FieldViolation names one rejected input field and why it was rejected.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every field of a tool invocation that failed the
// compiled validator. Inputs are never silently coerced; callers receive
// the full violation list.
type ValidationError struct {
	ToolName   string
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Violations) == 0 {
		return fmt.Sprintf("invalid input for %s", e.ToolName)
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Reason))
	}
	return fmt.Sprintf("invalid input for %s: %s", e.ToolName, strings.Join(parts, "; "))
}
