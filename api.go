package weatheragent

import (
	"context"
	"time"

	"github.com/lizzyg/weatheragent/internal/util"
)

// Tool is implemented by any callable function the model can invoke.
// Parameters must return a pointer to a zero-value struct for JSON schema generation and unmarshalling.
//
// Execute may return an error built with errors.Retry to ask the model to call
// the tool again with different arguments; any other error aborts the run.
type Tool interface {
	Name() string
	Description() string
	Parameters() any
	Execute(ctx context.Context, args any) (any, error)
}

// Client is the only type applications use.
// ExecuteRaw returns the final model content as a string after the tool loop.
type Client interface {
	ExecuteRaw(ctx context.Context, req Request) (string, error)
}

// Result is the outcome of a typed run.
type Result[T any] struct {
	Output   T
	Messages []Message
	Usage    Usage
	// Requests counts model calls made during the run.
	Requests int
}

// outputSpec tells the tool loop how to finish a run.
// A nil outputSpec means plain text is the answer.
type outputSpec struct {
	schema   string
	validate func(raw []byte) error
}

type runner interface {
	run(ctx context.Context, req Request, out *outputSpec) (runState, error)
}

// Run executes the request through the tool loop and decodes the final output into T.
// When T is not string, the model is offered a final_result tool whose
// arguments must match T's JSON schema; invalid output is sent back to the
// model as a retry prompt.
func Run[T any](ctx context.Context, c Client, req Request) (*Result[T], error) {
	r, ok := c.(runner)
	if !ok {
		// Foreign Client implementations only expose raw text.
		s, err := c.ExecuteRaw(ctx, req)
		if err != nil {
			return nil, err
		}
		out, err := decodeOutput[T](s)
		if err != nil {
			return nil, err
		}
		return &Result[T]{Output: out}, nil
	}

	if util.IsStringType[T]() {
		st, err := r.run(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return &Result[T]{Output: any(st.text).(T), Messages: st.messages, Usage: st.usage, Requests: st.requests}, nil
	}

	var out T
	var zeroPtr *T
	want := &outputSpec{
		schema: util.GenerateJSONSchema(zeroPtr),
		validate: func(raw []byte) error {
			v, err := decodeOutput[T](string(raw))
			if err != nil {
				return err
			}
			out = v
			return nil
		},
	}
	st, err := r.run(ctx, req, want)
	if err != nil {
		return nil, err
	}
	return &Result[T]{Output: out, Messages: st.messages, Usage: st.usage, Requests: st.requests}, nil
}

// Execute is Run without the run metadata.
// If T is string, the raw text is returned.
func Execute[T any](ctx context.Context, c Client, req Request) (T, error) {
	var zero T
	res, err := Run[T](ctx, c, req)
	if err != nil {
		return zero, err
	}
	return res.Output, nil
}

// Request describes a single agent run.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	MaxTokens    int
	Temperature  float32
	TopP         float32

	// Deps is handed to every tool invocation through the context; see DepsFrom.
	Deps any
	// MaxRetries bounds consecutive retryable failures per tool and for the
	// final output. Zero uses the client default.
	MaxRetries int

	// Optional overrides
	Timeout time.Duration
}

// Message is one conversational message.
type Message struct {
	Role        MessageRole
	Content     string
	Images      []string // image URLs supported in v1
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// MessageRole defines who authored a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)
