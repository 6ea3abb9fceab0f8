package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/memory"
	"github.com/hupe1980/neurallink/model"
	"github.com/hupe1980/neurallink/room"
	"github.com/hupe1980/neurallink/tool"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func roomByID(t *testing.T, id string) room.Room {
	t.Helper()
	for _, r := range room.DefaultRooms() {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no room %s", id)
	return room.Room{}
}

func history(texts ...string) []core.Turn {
	turns := []core.Turn{core.NewSystemTurn("ignored", t0)}
	for i, text := range texts {
		if i%2 == 0 {
			turns = append(turns, core.NewUserTurn("alice", text, t0))
		} else {
			turns = append(turns, core.NewAssistantTurn(text, t0))
		}
	}
	return turns
}

func TestRespond_Provider(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("alice: labas", "Sveika, Alice!")
	d := New(func(o *Options) { o.Model = m })

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living), Speaker: "alice"}, history("labas"))
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, "Sveika, Alice!", res.Text)
	assert.NoError(t, res.Cause)

	req := m.LastRequest()
	assert.True(t, strings.HasPrefix(req.Instructions, "You are TERMAI,"))
	assert.NotContains(t, req.Instructions, room.JSONInstruction)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Empty(t, req.Tools)
}

func TestRespond_JSONRoomAppendsInstruction(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	d := New(func(o *Options) {
		o.Model = m
		o.AIName = "NOVA"
	})

	d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Studio), Speaker: "alice"}, history("draw a cat"))
	instr := m.LastRequest().Instructions
	assert.True(t, strings.HasPrefix(instr, "You are NOVA,"))
	assert.True(t, strings.HasSuffix(instr, room.JSONInstruction))
}

func TestRespond_Unavailable(t *testing.T) {
	d := New()
	assert.False(t, d.Available())

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("labas"))
	assert.Equal(t, SourceFallback, res.Source)
	assert.ErrorIs(t, res.Cause, core.ErrProviderUnavailable)
	assert.NotEmpty(t, res.Text)
}

func TestRespond_TimeoutFallsBack(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetDelay(time.Second)
	d := New(func(o *Options) {
		o.Model = m
		o.Timeout = 20 * time.Millisecond
		o.MaxOutput = 30
	})

	start := time.Now()
	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("hello"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, SourceFallback, res.Source)
	assert.ErrorIs(t, res.Cause, core.ErrProviderTimeout)
	assert.NotEmpty(t, res.Text)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 30)
}

func TestRespond_ProviderErrorFallsBack(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.FailWith(errors.New("503"))
	d := New(func(o *Options) { o.Model = m })

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("kas tu?"))
	assert.Equal(t, SourceFallback, res.Source)
	assert.ErrorIs(t, res.Cause, core.ErrProvider)
	assert.Contains(t, res.Text, "TERMAI")
}

func TestRespond_EmptyCompletionFallsBack(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("alice: x", "   ")
	d := New(func(o *Options) { o.Model = m })

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("x"))
	assert.Equal(t, SourceFallback, res.Source)
	assert.ErrorIs(t, res.Cause, core.ErrProvider)
}

func TestRespond_OutputCapped(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("alice: long", strings.Repeat("ž", 2500))
	d := New(func(o *Options) { o.Model = m })

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("long"))
	assert.Equal(t, DefaultMaxOutput, utf8.RuneCountInString(res.Text))
}

func TestRespond_ZeroCapStillAnswers(t *testing.T) {
	d := New(func(o *Options) {
		o.MaxOutput = 0
		o.Timeout = 0
	})

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("labas"))
	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Text)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), DefaultMaxOutput)
}

func TestRespond_ToolCall(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.QueueToolCall("open_panel", `{"panel":"music"}`)
	d := New(func(o *Options) {
		o.Model = m
		o.Tools = tool.NewRegistry(tool.Builtins()...)
	})

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living), Speaker: "alice"}, history("open music"))
	assert.Equal(t, SourceTool, res.Source)
	require.NotNil(t, res.Action)
	assert.Equal(t, "open_panel", res.Action.Tool)
	assert.Empty(t, res.Action.Error)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Text), &decoded))
	assert.Equal(t, "tool_result", decoded["action"])
	assert.Equal(t, map[string]any{"panel": "music"}, decoded["result"])

	assert.Len(t, m.LastRequest().Tools, 3)
}

func TestRespond_ToolErrorIsReported(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.QueueToolCall("launch_rocket", `{}`)
	d := New(func(o *Options) {
		o.Model = m
		o.Tools = tool.NewRegistry(tool.Builtins()...)
	})

	res := d.Respond(context.Background(), Prompt{Room: roomByID(t, room.Living)}, history("go"))
	assert.Equal(t, SourceTool, res.Source)
	assert.Contains(t, res.Action.Error, "UNKNOWN_TOOL")
	assert.Contains(t, res.Text, "UNKNOWN_TOOL")
}

func TestRespond_RememberPreferenceFeedsPrompt(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := model.NewMockModel("mock", "mock")
	m.QueueToolCall("remember_preference", `{"key":"music","value":"jazz"}`)
	d := New(func(o *Options) {
		o.Model = m
		o.Tools = tool.NewRegistry(tool.Builtins()...)
		o.Store = store
	})
	p := Prompt{Room: roomByID(t, room.Living), Speaker: "alice"}

	res := d.Respond(context.Background(), p, history("I like jazz"))
	require.Equal(t, SourceTool, res.Source)
	assert.Empty(t, res.Action.Error)

	d.Respond(context.Background(), p, history("play something"))
	assert.Contains(t, m.LastRequest().Instructions, "Known preferences of alice: music=jazz")
}
