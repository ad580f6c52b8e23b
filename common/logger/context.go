package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where task context
// (instance_id, phase, tool, ...) is automatically included in all log statements.
type LogFields struct {
	InstanceID        *string // SWE-bench instance ID
	Phase             *string // Current workflow phase
	Tool              *string // Tool name being validated/executed
	ToolCallID        *string
	ConsecutiveDiffs  *int    // Running consecutive apply_diff streak, for jinnang diagnostics
	Component         string  // Component name (OTel semantic convention style, e.g. "policy.interceptor")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.InstanceID != nil {
		result.InstanceID = new.InstanceID
	}
	if new.Phase != nil {
		result.Phase = new.Phase
	}
	if new.Tool != nil {
		result.Tool = new.Tool
	}
	if new.ToolCallID != nil {
		result.ToolCallID = new.ToolCallID
	}
	if new.ConsecutiveDiffs != nil {
		result.ConsecutiveDiffs = new.ConsecutiveDiffs
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Tool: logger.Ptr("apply_diff")})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like tool outputs or command strings.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
