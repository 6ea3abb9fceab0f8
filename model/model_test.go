package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
)

func userContent(text string) core.Content {
	return core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: text}}}
}

func TestComplete_CannedAndDefault(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("labas", "Sveiki!")

	resp, err := Complete(context.Background(), m, Request{Contents: []core.Content{userContent("labas")}})
	require.NoError(t, err)
	assert.Equal(t, "Sveiki!", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = Complete(context.Background(), m, Request{Contents: []core.Content{userContent("x")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: x", resp.Content.Text())
	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, "x", m.LastRequest().Contents[0].Text())
}

func TestComplete_ToolCall(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.QueueToolCall("open_panel", `{"panel":"music"}`)

	resp, err := Complete(context.Background(), m, Request{Contents: []core.Content{userContent("x")}})
	require.NoError(t, err)
	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "open_panel", calls[0].Name)

	// queue drained
	resp, err = Complete(context.Background(), m, Request{Contents: []core.Content{userContent("x")}})
	require.NoError(t, err)
	assert.Empty(t, resp.Content.FunctionCalls())
}

func TestComplete_Error(t *testing.T) {
	m := NewMockModel("mock", "mock")
	boom := errors.New("boom")
	m.FailWith(boom)
	_, err := Complete(context.Background(), m, Request{Contents: []core.Content{userContent("x")}})
	assert.ErrorIs(t, err, boom)

	m.FailWith(nil)
	_, err = Complete(context.Background(), m, Request{})
	assert.Error(t, err)
}

func TestComplete_DeadlineExceeded(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Complete(ctx, m, Request{Contents: []core.Content{userContent("x")}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type silentModel struct{}

func (silentModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	r := make(chan Response)
	e := make(chan error)
	close(r)
	close(e)
	return r, e
}

func (silentModel) Info() Info { return Info{Name: "silent"} }

func TestComplete_NoResponse(t *testing.T) {
	_, err := Complete(context.Background(), silentModel{}, Request{})
	assert.ErrorIs(t, err, ErrNoResponse)
}
