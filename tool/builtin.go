package tool

import (
	"errors"
	"strings"
)

// Panels that open_panel may open.
var Panels = []string{"music", "notes", "devtools", "tasks", "settings"}

// MediaSources that play_media accepts.
var MediaSources = []string{"youtube", "spotify", "radio"}

// NewPlayMediaTool asks the client to play media matching a query.
func NewPlayMediaTool() *FunctionTool {
	return NewFunctionTool(
		"play_media",
		"Play music or video for the user. Use when the user asks to hear or watch something.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":  map[string]any{"type": "string", "description": "What to play"},
				"source": map[string]any{"type": "string", "enum": MediaSources, "description": "Preferred source"},
			},
			"required": []string{"query"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			query := strings.TrimSpace(args["query"].(string))
			if query == "" {
				return nil, NewToolError("play_media", "query must not be empty", CodeValidation)
			}
			source, _ := args["source"].(string)
			if source == "" {
				source = MediaSources[0]
			}
			return map[string]any{"query": query, "source": source}, nil
		},
	)
}

type openPanelArgs struct {
	Panel string `json:"panel" description:"Panel to open" enum:"music,notes,devtools,tasks,settings"`
}

// NewOpenPanelTool asks the client to open one of the UI panels.
func NewOpenPanelTool() *FunctionTool {
	return NewFunctionToolFromStruct(
		"open_panel",
		"Open a panel in the user's terminal UI.",
		openPanelArgs{},
		func(tc *Context, args map[string]any) (any, error) {
			return map[string]any{"panel": args["panel"]}, nil
		},
	)
}

// NewRememberPreferenceTool stores a key/value preference for the speaker.
func NewRememberPreferenceTool() *FunctionTool {
	return NewFunctionTool(
		"remember_preference",
		"Remember a preference of the current user for later conversations.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":   map[string]any{"type": "string", "description": "Preference name"},
				"value": map[string]any{"type": "string", "description": "Preference value"},
			},
			"required": []string{"key", "value"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			store := tc.Store()
			if store == nil {
				return nil, errors.New("no preference store configured")
			}
			key := strings.TrimSpace(args["key"].(string))
			if key == "" {
				return nil, NewToolError("remember_preference", "key must not be empty", CodeValidation)
			}
			if err := store.Put(tc.Speaker(), map[string]any{key: args["value"]}); err != nil {
				return nil, err
			}
			return map[string]any{"user": tc.Speaker(), "key": key, "value": args["value"], "stored": true}, nil
		},
	)
}

// Builtins returns the default manifest in its canonical order.
func Builtins() []Tool {
	return []Tool{NewPlayMediaTool(), NewOpenPanelTool(), NewRememberPreferenceTool()}
}
