package weatheragent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	moderr "github.com/lizzyg/weatheragent/errors"
	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
	provfactory "github.com/lizzyg/weatheragent/internal/providers"
	"github.com/lizzyg/weatheragent/internal/util"
)

// RawClient is implemented by provider adapters.
type RawClient = core.RawClient
type CallParams = core.CallParams
type ToolDef = core.ToolDef
type RawResponse = core.RawResponse
type Usage = core.Usage
type ToolCall = core.ToolCall
type ToolResult = core.ToolResult

const (
	// FinalResultTool is the output tool offered to the model when a typed
	// result is requested.
	FinalResultTool = "final_result"

	defaultMaxRetries  = 2
	defaultMaxRequests = 50

	retrySuffix      = "\n\nFix the errors and try again."
	plainTextRefusal = "Plain text responses are not permitted, please include your response in a tool call"
)

type router struct {
	models      map[string]config.ModelConfig
	clients     map[string]RawClient // provider -> singleton client
	logger      *slog.Logger
	httpClient  *http.Client
	maxRequests int
	maxRetries  int
}

// Option allows functional configuration.
type Option func(*router)

// WithLogger sets a custom slog logger.
func WithLogger(l *slog.Logger) Option { return func(r *router) { r.logger = l } }

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) Option { return func(r *router) { r.httpClient = c } }

// WithMaxToolTurns sets the maximum number of model calls in one run.
func WithMaxToolTurns(n int) Option { return func(r *router) { r.maxRequests = n } }

// WithMaxRetries sets the default retry budget per tool and for the final output.
func WithMaxRetries(n int) Option { return func(r *router) { r.maxRetries = n } }

// WithProviderClient installs c as the client for provider instead of the
// built-in adapter. Used for offline runs and tests.
func WithProviderClient(provider string, c RawClient) Option {
	return func(r *router) { r.clients[provider] = c }
}

// NewFromFile loads config via internal/config.Load and returns a Client
// using the configured retry and request limits. opts are applied after
// those limits, so they win.
func NewFromFile(opts ...Option) (Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	base := []Option{WithMaxRetries(cfg.Agent.Retries), WithMaxToolTurns(cfg.Agent.MaxRequests)}
	return NewRouter(cfg.LLM, append(base, opts...)...), nil
}

// NewRouter builds a router from config and options.
func NewRouter(cfg config.LLMConfig, opts ...Option) Client {
	r := &router{
		models:      cfg.Models,
		clients:     make(map[string]RawClient),
		logger:      slog.Default(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRequests: defaultMaxRequests,
		maxRetries:  defaultMaxRetries,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ExecuteRaw runs the tool loop and returns the final text of the model.
func (r *router) ExecuteRaw(ctx context.Context, req Request) (string, error) {
	st, err := r.run(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return st.text, nil
}

// runState is what a finished run hands back to Run.
type runState struct {
	text     string
	messages []Message
	usage    Usage
	requests int
}

// run is the orchestrator: it calls the model, dispatches tool calls,
// feeds retry prompts back and stops on final output or on a fatal error.
func (r *router) run(ctx context.Context, req Request, out *outputSpec) (runState, error) {
	var st runState

	mc, modelKey, err := r.selectModel(req)
	if err != nil {
		return st, err
	}
	if mc.APIKey == "" && !usesCloudCredentials(mc) {
		return st, fmt.Errorf("%w: model %q", moderr.ErrMissingAPIKey, modelKey)
	}

	rc, err := r.getClient(mc)
	if err != nil {
		return st, err
	}

	// Prepare tool definitions for the API
	defs := make([]ToolDef, 0, len(req.Tools)+1)
	for _, t := range req.Tools {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			JSONSchema:  util.GenerateJSONSchema(t.Parameters()),
		})
	}

	var outputSchema string
	if out != nil {
		defs = append(defs, ToolDef{
			Name:        FinalResultTool,
			Description: "The final response which ends this conversation",
			JSONSchema:  util.WrapSchema("response", out.schema),
		})
		// Only pass schema through if provider supports it; otherwise we parse/repair after.
		if mc.SupportsStructuredOutput {
			outputSchema = out.schema
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.maxRetries
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	maxRequests := r.maxRequests
	if maxRequests <= 0 {
		maxRequests = defaultMaxRequests
	}

	toolCtx := WithDeps(ctx, req.Deps)
	retries := make(map[string]int) // consecutive retryable failures per tool
	outputRetries := 0

	st.messages = append([]Message(nil), req.Messages...)
	for st.requests < maxRequests {
		// Respect per-request timeout if provided
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if req.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		}
		start := time.Now()
		resp, callErr := rc.Call(callCtx, CallParams{
			Model:        mc.Model,
			System:       req.SystemPrompt,
			Messages:     mapMessages(st.messages),
			ToolDefs:     defs,
			OutputSchema: outputSchema,
			MaxTokens:    boundedInt(req.MaxTokens, mc.MaxOutputTokens),
			Temperature:  req.Temperature,
			TopP:         req.TopP,
		})
		cancel()
		duration := time.Since(start)
		st.requests++
		st.usage.Add(resp.Usage)

		r.logger.Info("llm call",
			slog.String("provider", mc.Provider),
			slog.String("model", mc.Model),
			slog.String("model_key", modelKey),
			slog.Int("prompt_tokens", resp.Usage.PromptTokens),
			slog.Int("completion_tokens", resp.Usage.CompletionTokens),
			slog.Int("total_tokens", resp.Usage.TotalTokens),
			slog.Duration("latency_ms", duration),
			slog.Int("tool_calls", len(resp.ToolCalls)),
			slog.Bool("error", callErr != nil),
		)

		if callErr != nil {
			return st, callErr
		}

		st.messages = append(st.messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// STOP: No tool call → Final answer
		if len(resp.ToolCalls) == 0 {
			if out == nil {
				st.text = resp.Content
				return st, nil
			}
			verr := out.validate([]byte(resp.Content))
			if verr == nil {
				st.text = resp.Content
				return st, nil
			}
			outputRetries++
			if outputRetries > maxRetries {
				return st, &moderr.OutputError{Text: resp.Content, Err: fmt.Errorf("%w: output exceeded max retries count of %d", moderr.ErrRetriesExhausted, maxRetries)}
			}
			st.messages = append(st.messages, Message{Role: RoleUser, Content: plainTextRefusal + retrySuffix})
			continue
		}

		// EXECUTE TOOLS sequentially
		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			if out != nil && tc.Name == FinalResultTool {
				raw, verr := finalResultArgs(tc.Args)
				if verr == nil {
					verr = out.validate(raw)
				}
				if verr == nil {
					st.text = string(raw)
					return st, nil
				}
				outputRetries++
				if outputRetries > maxRetries {
					return st, fmt.Errorf("%w: output exceeded max retries count of %d: %w", moderr.ErrRetriesExhausted, maxRetries, verr)
				}
				results = append(results, retryResult(tc, verr.Error()))
				continue
			}

			res, terr := r.callTool(toolCtx, req.Tools, tc)
			if terr == nil {
				retries[tc.Name] = 0
				results = append(results, res)
				continue
			}
			if !moderr.IsRetryable(terr) {
				return st, fmt.Errorf("%s: %w", tc.Name, terr)
			}
			retries[tc.Name]++
			if retries[tc.Name] > maxRetries {
				return st, fmt.Errorf("%w: tool %q exceeded max retries count of %d: %w", moderr.ErrRetriesExhausted, tc.Name, maxRetries, terr)
			}
			results = append(results, retryResult(tc, terr.Error()))
		}
		st.messages = append(st.messages, Message{Role: RoleTool, ToolResults: results})
	}
	return st, moderr.ErrMaxToolTurns
}

// callTool resolves, decodes and runs one tool call. Problems the model can
// fix (unknown name, bad arguments) come back as retryable errors.
func (r *router) callTool(ctx context.Context, tools []Tool, tc ToolCall) (ToolResult, error) {
	tool := findTool(tools, tc.Name)
	if tool == nil {
		return ToolResult{}, moderr.RetryWith(fmt.Errorf("%w: %q, available tools: %s", moderr.ErrUnknownTool, tc.Name, toolNames(tools)))
	}
	argStruct := tool.Parameters()
	if len(tc.Args) > 0 {
		if err := json.Unmarshal(tc.Args, argStruct); err != nil {
			return ToolResult{}, moderr.Retryf("invalid arguments for %s: %v", tc.Name, err)
		}
	}
	start := time.Now()
	output, err := tool.Execute(ctx, argStruct)
	r.logger.Debug("tool call",
		slog.String("tool", tc.Name),
		slog.String("args", string(tc.Args)),
		slog.Duration("latency_ms", time.Since(start)),
		slog.String("outcome", outcome(err)),
	)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{CallID: tc.CallID, Name: tc.Name, Content: formatToolResult(output)}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return moderr.KindOf(err).String()
}

func retryResult(tc ToolCall, msg string) ToolResult {
	return ToolResult{CallID: tc.CallID, Name: tc.Name, Content: msg + retrySuffix, IsError: true}
}

// finalResultArgs extracts the wrapped output from final_result arguments.
func finalResultArgs(args json.RawMessage) ([]byte, error) {
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(args, &wrapper); err != nil {
		return nil, fmt.Errorf("invalid final_result arguments: %w", err)
	}
	if len(wrapper.Response) == 0 {
		return nil, fmt.Errorf("final_result requires a \"response\" field")
	}
	return wrapper.Response, nil
}

func (r *router) getClient(mc config.ModelConfig) (RawClient, error) {
	key := mc.Provider
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := provfactory.NewProviderClient(mc, r.httpClient, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

func (r *router) selectModel(req Request) (config.ModelConfig, string, error) {
	// If user specified a model, use it.
	if req.Model != "" {
		mc, ok := r.models[req.Model]
		if !ok {
			return config.ModelConfig{}, "", moderr.ErrNoMatchingModel
		}
		if len(req.Tools) > 0 && !mc.SupportsTools {
			return config.ModelConfig{}, "", moderr.ErrNoMatchingModel
		}
		return mc, req.Model, nil
	}

	// Auto select, in key order so the choice is stable
	keys := make([]string, 0, len(r.models))
	for key := range r.models {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		mc := r.models[key]
		if len(req.Tools) > 0 && !mc.SupportsTools {
			continue
		}
		return mc, key, nil
	}
	return config.ModelConfig{}, "", moderr.ErrNoMatchingModel
}

// usesCloudCredentials reports whether the model authenticates with
// application default credentials instead of an API key.
func usesCloudCredentials(mc config.ModelConfig) bool {
	return mc.Provider == "genai" && (mc.Backend == "vertex" || mc.Backend == "vertexai")
}

func formatToolResult(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(b)
}

func findTool(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func toolNames(tools []Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return strings.Join(names, ", ")
}

func boundedInt(req, max int) int {
	if max <= 0 {
		return req
	}
	if req <= 0 {
		return max
	}
	if req > max {
		return max
	}
	return req
}

func mapMessages(msgs []Message) []core.Message {
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = core.Message{
			Role:        string(m.Role),
			Content:     m.Content,
			Images:      append([]string(nil), m.Images...),
			ToolCalls:   append([]core.ToolCall(nil), m.ToolCalls...),
			ToolResults: append([]core.ToolResult(nil), m.ToolResults...),
		}
	}
	return out
}

// decodeOutput parses s into T, repairing common wrapping (code fences,
// surrounding prose) and running T's Validate method when it has one.
func decodeOutput[T any](s string) (T, error) {
	var out T
	if util.IsStringType[T]() {
		return any(s).(T), nil
	}
	err := json.Unmarshal([]byte(s), &out)
	if err != nil {
		if repaired, ok := util.RepairJSON(s); ok {
			out = *new(T)
			err = json.Unmarshal([]byte(repaired), &out)
		}
	}
	if err != nil {
		return out, fmt.Errorf("%w: %v", moderr.ErrStructuredOutput, err)
	}
	if v, ok := any(&out).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("%w: %v", moderr.ErrStructuredOutput, err)
		}
	}
	return out, nil
}
