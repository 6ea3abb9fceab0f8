package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/memory"
)

func newTestContext(store core.PreferenceStore) *Context {
	return NewContext(context.Background(), "alice", "living", store, logging.NoOpLogger{})
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newTestContext(nil), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ *Context, _ map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(newTestContext(nil), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params, func(_ *Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(newTestContext(nil), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.NotErrorIs(t, err, core.ErrValidation)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Name string `json:"name"`
	}
	ft := NewFunctionToolFromStruct("greet", "Greet", args{}, func(_ *Context, a map[string]any) (any, error) {
		return "hi " + a["name"].(string), nil
	})
	assert.Equal(t, []string{"name"}, ft.Parameters()["required"])
	out, err := ft.Call(newTestContext(nil), map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "hi bob", out)
}

// -------------------- Registry Tests --------------------

func TestRegistry_DefinitionsInOrder(t *testing.T) {
	r := NewRegistry(Builtins()...)
	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "play_media", defs[0].Function.Name)
	assert.Equal(t, "open_panel", defs[1].Function.Name)
	assert.Equal(t, "remember_preference", defs[2].Function.Name)
	assert.Equal(t, "function", defs[0].Type)

	// replacing keeps the slot
	r.Register(NewFunctionTool("play_media", "replaced", map[string]any{}, func(*Context, map[string]any) (any, error) { return nil, nil }))
	assert.Equal(t, []string{"play_media", "open_panel", "remember_preference"}, r.Names())
	assert.Equal(t, "replaced", r.Definitions()[0].Function.Description)
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(Builtins()...)
	tc := newTestContext(nil)

	out, err := r.Execute(tc, core.FunctionCall{ID: "c1", Name: "open_panel", Arguments: `{"panel":"music"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"panel": "music"}, out)

	_, err = r.Execute(tc, core.FunctionCall{Name: "open_panel", Arguments: `{"panel":"radio"}`})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = r.Execute(tc, core.FunctionCall{Name: "open_panel", Arguments: `not json`})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeBadArguments, toolErr.Code)

	_, err = r.Execute(tc, core.FunctionCall{Name: "launch_rocket"})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeUnknownTool, toolErr.Code)
}

func TestRegistry_ExecuteSetsCallID(t *testing.T) {
	var seen string
	r := NewRegistry(NewFunctionTool("ping", "", map[string]any{}, func(tc *Context, _ map[string]any) (any, error) {
		seen = tc.FunctionCallID()
		return nil, nil
	}))
	tc := newTestContext(nil)
	_, err := r.Execute(tc, core.FunctionCall{ID: "call-7", Name: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "call-7", seen)
	assert.Empty(t, tc.FunctionCallID())
}

// -------------------- Built-in Tests --------------------

func TestPlayMedia(t *testing.T) {
	r := NewRegistry(Builtins()...)
	out, err := r.Execute(newTestContext(nil), core.FunctionCall{Name: "play_media", Arguments: `{"query":"lofi beats"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "lofi beats", "source": "youtube"}, out)

	_, err = r.Execute(newTestContext(nil), core.FunctionCall{Name: "play_media", Arguments: `{"query":"  "}`})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRememberPreference(t *testing.T) {
	store := memory.NewInMemoryStore()
	r := NewRegistry(Builtins()...)

	out, err := r.Execute(newTestContext(store), core.FunctionCall{Name: "remember_preference", Arguments: `{"key":"music","value":"jazz"}`})
	require.NoError(t, err)
	raw, _ := json.Marshal(out)
	assert.JSONEq(t, `{"user":"alice","key":"music","value":"jazz","stored":true}`, string(raw))

	prefs, err := store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "jazz", prefs["music"])
}

func TestRememberPreference_NoStore(t *testing.T) {
	r := NewRegistry(Builtins()...)
	_, err := r.Execute(newTestContext(nil), core.FunctionCall{Name: "remember_preference", Arguments: `{"key":"a","value":"b"}`})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
}

// -------------------- ToolError Formatting --------------------

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
	assert.Equal(t, "tool error in demo: x", (&ToolError{Tool: "demo", Message: "x"}).Error())
}

func TestOpenPanel_SchemaListsPanels(t *testing.T) {
	props := NewOpenPanelTool().Parameters()["properties"].(map[string]any)
	panel := props["panel"].(map[string]any)
	assert.Equal(t, Panels, panel["enum"])
	assert.Equal(t, "string", panel["type"])
}
