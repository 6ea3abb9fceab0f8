package plugin

import (
	"context"
	"fmt"

	"github.com/hupe1980/neurallink/core"
)

// Built-in triggers fired by the router.
const (
	TriggerUserJoin   = "user_join"
	TriggerMessage    = "message"
	TriggerRoomSwitch = "room_switch"
	TriggerAIResponse = "ai_response"
)

// ActionSendMessage asks the host to publish Message as a chat message.
const ActionSendMessage = "send_message"

// Effect describes what a plugin wants the host to do. The host decides
// whether and how to apply it.
type Effect struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Target  string `json:"target,omitempty"`
}

// Handler runs a plugin for one trigger. A nil Effect means "nothing to do".
type Handler interface {
	Handle(ctx context.Context, trigger string, data map[string]any) (*Effect, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, trigger string, data map[string]any) (*Effect, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, trigger string, data map[string]any) (*Effect, error) {
	return f(ctx, trigger, data)
}

// Compiler turns plugin source into a Handler.
type Compiler interface {
	Compile(name, source string) (Handler, error)
}

// CompileError reports plugin source that failed to compile or lacks the
// required entry point.
type CompileError struct {
	Plugin string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("plugin %q: compile: %v", e.Plugin, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Is reports core.ErrPluginCompile.
func (e *CompileError) Is(target error) bool { return target == core.ErrPluginCompile }

// RuntimeError reports a plugin failure while firing a trigger.
type RuntimeError struct {
	Plugin  string
	Trigger string
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("plugin %q on %q: %v", e.Plugin, e.Trigger, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Is reports core.ErrPluginRuntime.
func (e *RuntimeError) Is(target error) bool { return target == core.ErrPluginRuntime }

// decodeEffect converts a plugin's map result into an Effect.
func decodeEffect(m map[string]any) (*Effect, error) {
	if m == nil {
		return nil, nil
	}
	action, ok := m["action"].(string)
	if !ok || action == "" {
		return nil, fmt.Errorf("result has no string \"action\"")
	}
	eff := &Effect{Action: action}
	if v, ok := m["message"]; ok && v != nil {
		eff.Message = fmt.Sprint(v)
	}
	if v, ok := m["target"]; ok && v != nil {
		eff.Target = fmt.Sprint(v)
	}
	return eff, nil
}
