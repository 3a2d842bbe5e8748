package domain

import "context"

// Tool is the interface for named capabilities the LLM may invoke
// (catalog lookups, order queries, MCP-discovered tools).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolDefinition is the serializable description of a tool, rendered into
// the LLM system prompt.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
