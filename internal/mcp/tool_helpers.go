package mcp

import (
	"github.com/InfraWhisperer/focal/internal/envelope"
)

// ToolResponse is a convenience builder for MCP tool responses.
type ToolResponse struct {
	builder *envelope.Builder
}

// NewToolResponse creates a new tool response builder.
func NewToolResponse() *ToolResponse {
	return &ToolResponse{
		builder: envelope.New(),
	}
}

// Data sets the payload.
func (t *ToolResponse) Data(data interface{}) *ToolResponse {
	t.builder.Data(data)
	return t
}

// WithTruncation adds truncation info.
func (t *ToolResponse) WithTruncation(truncated bool, shown, total int, reason string) *ToolResponse {
	t.builder.WithTruncation(truncated, shown, total, reason)
	return t
}

// SuggestCall adds one recommended follow-up tool call.
func (t *ToolResponse) SuggestCall(tool string, params map[string]interface{}, reason string) *ToolResponse {
	t.builder.SuggestCall(tool, params, reason)
	return t
}

// Warning adds a warning message.
func (t *ToolResponse) Warning(msg string) *ToolResponse {
	t.builder.Warning(msg)
	return t
}

// Build returns the envelope response.
func (t *ToolResponse) Build() *envelope.Response {
	return t.builder.Build()
}

// OperationalResponse creates a simple envelope for operational tools that
// return factual state with no truncation or follow-up concerns, such as
// get_health or save_memory.
func OperationalResponse(data interface{}) *envelope.Response {
	return envelope.Operational(data)
}
