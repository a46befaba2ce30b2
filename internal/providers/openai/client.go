package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
	"github.com/lizzyg/weatheragent/internal/providers/retry"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	model      string
}

// New returns a Chat Completions client. BaseURL lets it target any
// OpenAI-compatible server.
func New(mc config.ModelConfig, hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(mc.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		apiKey:     mc.APIKey,
		baseURL:    base,
		httpClient: hc,
		logger:     logger,
		model:      mc.Model,
	}
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	Tools          []map[string]any `json:"tools,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float32          `json:"temperature,omitempty"`
	TopP           float32          `json:"top_p,omitempty"`
	ResponseFormat map[string]any   `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   any `json:"content"`
			ToolCalls []struct {
				Type     string `json:"type"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Call(ctx context.Context, params core.CallParams) (core.RawResponse, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	payload := chatRequest{
		Model:       model,
		Messages:    mapChatMessages(params.System, params.Messages),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}
	if len(params.ToolDefs) > 0 {
		payload.Tools = mapTools(params.ToolDefs)
	} else if params.OutputSchema != "" {
		// Chat Completions supports json_object enforcement (not full schema). Use it when schema requested.
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.RawResponse{}, fmt.Errorf("openai marshal payload: %w", err)
	}

	var rr chatResponse
	err = retry.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := retry.CheckResponse(resp, "openai"); err != nil {
			return err
		}
		rr = chatResponse{}
		return json.NewDecoder(resp.Body).Decode(&rr)
	})
	if err != nil {
		return core.RawResponse{}, err
	}

	out := core.RawResponse{}
	if len(rr.Choices) > 0 {
		msg := rr.Choices[0].Message
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{CallID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(args)})
		}
		out.Content = contentText(msg.Content)
	}
	out.Usage = core.Usage{PromptTokens: rr.Usage.PromptTokens, CompletionTokens: rr.Usage.CompletionTokens, TotalTokens: rr.Usage.TotalTokens}
	return out, nil
}

// contentText flattens string or text-part array content.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, p := range v {
			if m, ok := p.(map[string]any); ok && m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func mapChatMessages(system string, msgs []core.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs)+1)
	if system != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	for _, m := range msgs {
		if len(m.ToolResults) > 0 {
			for _, tr := range m.ToolResults {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": tr.CallID,
					"content":      tr.Content,
				})
			}
			continue
		}
		if len(m.ToolCalls) > 0 {
			tc := make([]map[string]any, 0, len(m.ToolCalls))
			for _, it := range m.ToolCalls {
				argsStr := "{}"
				if len(it.Args) > 0 {
					argsStr = string(it.Args)
				}
				tc = append(tc, map[string]any{
					"type": "function",
					"id":   it.CallID,
					"function": map[string]any{
						"name":      it.Name,
						"arguments": argsStr,
					},
				})
			}
			out = append(out, map[string]any{
				"role":       "assistant",
				"content":    m.Content,
				"tool_calls": tc,
			})
			continue
		}
		if len(m.Images) == 0 {
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
			continue
		}
		content := []any{}
		if m.Content != "" {
			content = append(content, map[string]any{"type": "text", "text": m.Content})
		}
		for _, img := range m.Images {
			content = append(content, map[string]any{"type": "image_url", "image_url": map[string]any{"url": img}})
		}
		out = append(out, map[string]any{
			"role":    m.Role,
			"content": content,
		})
	}
	return out
}

func mapTools(defs []core.ToolDef) []map[string]any {
	out := make([]map[string]any, len(defs))
	for i, d := range defs {
		out[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  core.ObjectSchema(d.JSONSchema),
			},
		}
	}
	return out
}
