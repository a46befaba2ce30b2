package core

import (
	"context"
	"encoding/json"
)

// RawClient is implemented by provider adapters.
type RawClient interface {
	Call(ctx context.Context, params CallParams) (RawResponse, error)
}

type CallParams struct {
	Model        string
	System       string
	Messages     []Message
	ToolDefs     []ToolDef
	OutputSchema string
	MaxTokens    int
	Temperature  float32
	TopP         float32
}

// Message is one entry of the conversation as adapters see it.
// An assistant message may carry ToolCalls; a tool message carries ToolResults.
type Message struct {
	Role        string
	Content     string
	Images      []string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDef describes a tool in a provider-agnostic form.
// JSONSchema is the reflected parameter schema of the tool.
type ToolDef struct {
	Name        string
	Description string
	JSONSchema  string
}

type RawResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

type ToolCall struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

// ToolResult answers one ToolCall. IsError marks a retry prompt.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ObjectSchema decodes a tool's JSON schema and makes sure it is an object
// schema with a properties map, which every provider requires for function
// parameters.
func ObjectSchema(schema string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(schema), &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if m["type"] != "object" {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// ResultPayload turns tool result content into the object form Gemini
// expects in a functionResponse.
func ResultPayload(tr ToolResult) map[string]any {
	if tr.IsError {
		return map[string]any{"error": tr.Content}
	}
	var v any
	if err := json.Unmarshal([]byte(tr.Content), &v); err != nil {
		return map[string]any{"result": tr.Content}
	}
	return map[string]any{"result": v}
}
