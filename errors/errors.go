package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoMatchingModel  = errors.New("no matching model found")
	ErrUnknownTool      = errors.New("unknown tool requested")
	ErrMaxToolTurns     = errors.New("max tool turns exceeded")
	ErrStructuredOutput = errors.New("structured output required but invalid")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrRetriesExhausted = errors.New("tool exceeded max retries")
	ErrMissingAPIKey    = errors.New("model api key not configured")
	ErrMissingDeps      = errors.New("tool dependencies missing from context")
	ErrLocationNotFound = errors.New("Could not find the location")
)

// Kind tells the agent loop what to do with a failed tool call.
type Kind int

const (
	// Fatal aborts the whole run.
	Fatal Kind = iota
	// Retryable is fed back to the model so it can call the tool again
	// with different arguments.
	Retryable
)

func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// ToolError tags a tool failure with its Kind.
type ToolError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ToolError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " tool error"
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retry returns a Retryable error whose message is shown to the model.
func Retry(msg string) error {
	return &ToolError{Kind: Retryable, Msg: msg}
}

// Retryf is Retry with formatting.
func Retryf(format string, args ...any) error {
	return &ToolError{Kind: Retryable, Msg: fmt.Sprintf(format, args...)}
}

// RetryWith wraps err as Retryable, using err's text as the model-facing message.
func RetryWith(err error) error {
	if err == nil {
		return nil
	}
	return &ToolError{Kind: Retryable, Err: err}
}

// FatalErr marks err as fatal. Untagged errors are already treated as fatal;
// this is for call sites that want to say so explicitly.
func FatalErr(err error) error {
	if err == nil {
		return nil
	}
	return &ToolError{Kind: Fatal, Err: err}
}

// KindOf reports the Kind of err. Anything that is not a *ToolError is Fatal.
func KindOf(err error) Kind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return Fatal
}

// IsRetryable reports whether err asks the model to retry the tool call.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == Retryable
}

// OutputError is returned when the model never produced output matching the
// requested schema. Text holds the last plain-text answer, which is often a
// refusal.
type OutputError struct {
	Text string
	Err  error
}

func (e *OutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrStructuredOutput, e.Err)
	}
	return ErrStructuredOutput.Error()
}

func (e *OutputError) Is(target error) bool { return target == ErrStructuredOutput }

func (e *OutputError) Unwrap() error { return e.Err }
