package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (platform, conversation_id, etc.) is automatically included in all log statements.
type LogFields struct {
	Platform       *string // source platform (telegram, gmail, ...)
	MessageID      *int64  // UnifiedMessage ID
	ConversationID *int64  // resolved conversation ID
	NativeID       *string // platform's own message identifier
	SubscriberID   *string // fan-out subscriber session ID
	StreamID       *string // Redis stream entry ID
	Component      string  // component name (e.g., "ingest.pipeline")
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

func mergeFields(existing, incoming LogFields) LogFields {
	result := existing

	if incoming.Platform != nil {
		result.Platform = incoming.Platform
	}
	if incoming.MessageID != nil {
		result.MessageID = incoming.MessageID
	}
	if incoming.ConversationID != nil {
		result.ConversationID = incoming.ConversationID
	}
	if incoming.NativeID != nil {
		result.NativeID = incoming.NativeID
	}
	if incoming.SubscriberID != nil {
		result.SubscriberID = incoming.SubscriberID
	}
	if incoming.StreamID != nil {
		result.StreamID = incoming.StreamID
	}
	if incoming.Component != "" {
		result.Component = incoming.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like payloads or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
