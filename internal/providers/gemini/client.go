package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
	"github.com/lizzyg/weatheragent/internal/providers/retry"
	"github.com/lizzyg/weatheragent/internal/util"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client talks to the Gemini generateContent REST endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	model      string
}

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
	return &Client{apiKey: mc.APIKey, baseURL: base, httpClient: hc, logger: logger, model: mc.Model}
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	FileData         *fileData         `json:"fileData,omitempty"`
}

type functionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generateRequest struct {
	SystemInstruction *content       `json:"systemInstruction,omitempty"`
	Contents          []content      `json:"contents"`
	Tools             []tool         `json:"tools,omitempty"`
	GenerationConfig  map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Usage struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (c *Client) Call(ctx context.Context, params core.CallParams) (core.RawResponse, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	payload := buildRequest(params)
	body, err := json.Marshal(payload)
	if err != nil {
		return core.RawResponse{}, fmt.Errorf("gemini marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))

	var gr generateResponse
	err = retry.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := retry.CheckResponse(resp, "gemini"); err != nil {
			return err
		}
		gr = generateResponse{}
		return json.NewDecoder(resp.Body).Decode(&gr)
	})
	if err != nil {
		return core.RawResponse{}, err
	}
	return parseResponse(gr)
}

func buildRequest(params core.CallParams) generateRequest {
	payload := generateRequest{
		Contents:         mapMessages(params.Messages),
		GenerationConfig: map[string]any{},
	}
	system := params.System
	for _, m := range params.Messages {
		if m.Role == "system" && m.Content != "" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		}
	}
	if system != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	if params.MaxTokens > 0 {
		payload.GenerationConfig["maxOutputTokens"] = params.MaxTokens
	}
	if params.Temperature > 0 {
		payload.GenerationConfig["temperature"] = params.Temperature
	}
	if params.TopP > 0 {
		payload.GenerationConfig["topP"] = params.TopP
	}
	if len(params.ToolDefs) > 0 {
		payload.Tools = mapTools(params.ToolDefs)
	} else if params.OutputSchema != "" {
		// JSON mode cannot be combined with function calling.
		payload.GenerationConfig["responseMimeType"] = "application/json"
		payload.GenerationConfig["responseSchema"] = util.GeminiSchema(params.OutputSchema)
	}
	if len(payload.GenerationConfig) == 0 {
		payload.GenerationConfig = nil
	}
	return payload
}

func parseResponse(gr generateResponse) (core.RawResponse, error) {
	out := core.RawResponse{Usage: core.Usage{
		PromptTokens:     gr.Usage.PromptTokenCount,
		CompletionTokens: gr.Usage.CandidatesTokenCount,
		TotalTokens:      gr.Usage.TotalTokenCount,
	}}
	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback.BlockReason != "" {
			return out, fmt.Errorf("gemini: prompt blocked: %s", gr.PromptFeedback.BlockReason)
		}
		return out, fmt.Errorf("gemini: response has no candidates")
	}
	var texts []string
	for _, p := range gr.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			id := p.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			args := p.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{CallID: id, Name: p.FunctionCall.Name, Args: args})
			continue
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	out.Content = strings.Join(texts, "")
	return out, nil
}

// mapMessages converts the conversation to Gemini contents. Assistant turns
// become "model"; tool results are sent back as functionResponse parts in a
// user turn. System messages are folded into the system instruction.
func mapMessages(msgs []core.Message) []content {
	out := make([]content, 0, len(msgs))
	for _, m := range msgs {
		var c content
		switch m.Role {
		case "system":
			continue
		case "assistant":
			c.Role = "model"
			if m.Content != "" {
				c.Parts = append(c.Parts, part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: tc.Name, Args: args}})
			}
		case "tool":
			c.Role = "user"
			for _, tr := range m.ToolResults {
				c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{Name: tr.Name, Response: core.ResultPayload(tr)}})
			}
		default:
			c.Role = "user"
			if m.Content != "" {
				c.Parts = append(c.Parts, part{Text: m.Content})
			}
			for _, img := range m.Images {
				c.Parts = append(c.Parts, part{FileData: &fileData{FileURI: img}})
			}
			if len(c.Parts) == 0 {
				// an empty prompt is still a turn; Gemini rejects parts without data
				c.Parts = append(c.Parts, part{Text: " "})
			}
		}
		if len(c.Parts) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

func mapTools(defs []core.ToolDef) []tool {
	decls := make([]functionDeclaration, len(defs))
	for i, d := range defs {
		decls[i] = functionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  util.GeminiSchema(d.JSONSchema),
		}
	}
	return []tool{{FunctionDeclarations: decls}}
}
