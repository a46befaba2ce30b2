// Package genai adapts the Google Gen AI SDK to the router's RawClient.
// It serves both the Gemini API and Vertex AI backends.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
	"github.com/lizzyg/weatheragent/internal/providers/retry"
	"github.com/lizzyg/weatheragent/internal/util"
)

type Client struct {
	models *genai.Models
	logger *slog.Logger
	model  string
}

// New builds an SDK client. Backend "vertex" uses Project and Location with
// application default credentials; anything else uses the Gemini API key.
func New(mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cc := &genai.ClientConfig{HTTPClient: hc}
	switch mc.Backend {
	case "vertex", "vertexai":
		cc.Backend = genai.BackendVertexAI
		cc.Project = mc.Project
		cc.Location = mc.Location
	default:
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = mc.APIKey
	}
	if mc.BaseURL != "" {
		cc.HTTPOptions.BaseURL = mc.BaseURL
	}
	gc, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Client{models: gc.Models, logger: logger, model: mc.Model}, nil
}

func (c *Client) Call(ctx context.Context, params core.CallParams) (core.RawResponse, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	contents, err := mapMessages(params.Messages)
	if err != nil {
		return core.RawResponse{}, err
	}
	cfg := buildConfig(params)

	var resp *genai.GenerateContentResponse
	err = retry.WithRetry(ctx, func() error {
		var err error
		resp, err = c.models.GenerateContent(ctx, model, contents, cfg)
		return statusError(err)
	})
	if err != nil {
		return core.RawResponse{}, err
	}
	return parseResponse(resp)
}

// statusError turns SDK API errors into retry.HTTPStatusError so the shared
// retry policy can classify them.
func statusError(err error) error {
	if err == nil {
		return nil
	}
	var ae genai.APIError
	if errors.As(err, &ae) {
		return retry.NewHTTPStatusError(ae.Code, ae.Message, "genai")
	}
	var aep *genai.APIError
	if errors.As(err, &aep) {
		return retry.NewHTTPStatusError(aep.Code, aep.Message, "genai")
	}
	return err
}

func buildConfig(params core.CallParams) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if params.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(params.System, genai.RoleUser)
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.Temperature > 0 {
		cfg.Temperature = genai.Ptr(params.Temperature)
	}
	if params.TopP > 0 {
		cfg.TopP = genai.Ptr(params.TopP)
	}
	if len(params.ToolDefs) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(params.ToolDefs))
		for i, d := range params.ToolDefs {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 d.Name,
				Description:          d.Description,
				ParametersJsonSchema: util.GeminiSchema(d.JSONSchema),
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}}
	} else if params.OutputSchema != "" {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = util.GeminiSchema(params.OutputSchema)
	}
	return cfg
}

func mapMessages(msgs []core.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var parts []*genai.Part
		role := genai.Role(genai.RoleUser)
		switch m.Role {
		case "system":
			continue
		case "assistant":
			role = genai.RoleModel
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &args); err != nil {
						return nil, fmt.Errorf("genai: tool call %s args: %w", tc.Name, err)
					}
				}
				p := genai.NewPartFromFunctionCall(tc.Name, args)
				p.FunctionCall.ID = tc.CallID
				parts = append(parts, p)
			}
		case "tool":
			for _, tr := range m.ToolResults {
				p := genai.NewPartFromFunctionResponse(tr.Name, core.ResultPayload(tr))
				p.FunctionResponse.ID = tr.CallID
				parts = append(parts, p)
			}
		default:
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, img := range m.Images {
				parts = append(parts, genai.NewPartFromURI(img, ""))
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(" "))
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out, nil
}

func parseResponse(resp *genai.GenerateContentResponse) (core.RawResponse, error) {
	var out core.RawResponse
	if resp == nil {
		return out, fmt.Errorf("genai: empty response")
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = core.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
			return out, fmt.Errorf("genai: prompt blocked: %s", pf.BlockReason)
		}
		return out, fmt.Errorf("genai: response has no candidates")
	}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return out, fmt.Errorf("genai: encode args for %s: %w", fc.Name, err)
		}
		if fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{CallID: id, Name: fc.Name, Args: args})
	}
	out.Content = textOf(resp)
	return out, nil
}

// textOf concatenates the text parts of the first candidate, skipping thoughts.
// resp.Text() logs a warning when function calls are present, so it is avoided.
func textOf(resp *genai.GenerateContentResponse) string {
	c := resp.Candidates[0].Content
	if c == nil {
		return ""
	}
	var s string
	for _, p := range c.Parts {
		if p == nil || p.Thought {
			continue
		}
		s += p.Text
	}
	return s
}
