// Package tool implements the function-calling manifest offered to the
// completion provider: schema-validated tools, an ordered registry and the
// built-in play_media, open_panel and remember_preference actions.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/internal/util"
	"github.com/hupe1980/neurallink/logging"
)

// Tool is a locally executed capability the model may invoke instead of
// answering in text.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is shown to the model to guide tool choice.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with validated arguments.
	Call(tc *Context, args map[string]any) (any, error)
}

// Error codes carried by ToolError.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
	CodeUnknownTool  = "UNKNOWN_TOOL"
	CodeBadArguments = "BAD_ARGUMENTS"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Is maps validation-class codes onto core.ErrValidation.
func (e *ToolError) Is(target error) bool {
	if target != core.ErrValidation {
		return false
	}
	return e.Code == CodeValidation || e.Code == CodeBadArguments
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Context carries the per-call environment handed to a tool.
type Context struct {
	ctx     context.Context
	callID  string
	speaker string
	room    string
	store   core.PreferenceStore
	logger  logging.Logger
}

// NewContext builds a tool Context. store may be nil.
func NewContext(ctx context.Context, speaker, room string, store core.PreferenceStore, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{ctx: ctx, speaker: speaker, room: room, store: store, logger: logger}
}

// Context returns the underlying context.Context.
func (tc *Context) Context() context.Context { return tc.ctx }

// FunctionCallID returns the provider-assigned id of the call being executed.
func (tc *Context) FunctionCallID() string { return tc.callID }

// Speaker returns the user whose message triggered the call.
func (tc *Context) Speaker() string { return tc.speaker }

// Room returns the room active when the call was made.
func (tc *Context) Room() string { return tc.room }

// Store returns the preference store, or nil when none is configured.
func (tc *Context) Store() core.PreferenceStore { return tc.store }

// Logger returns the logger for the call.
func (tc *Context) Logger() logging.Logger { return tc.logger }

func (tc *Context) withCallID(id string) *Context {
	cp := *tc
	cp.callID = id
	return &cp
}
