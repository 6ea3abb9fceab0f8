package plugin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
)

func countingHandler(n *int32, eff *Effect) Handler {
	return HandlerFunc(func(context.Context, string, map[string]any) (*Effect, error) {
		atomic.AddInt32(n, 1)
		return eff, nil
	})
}

func TestRegistry_FireInvokesSubscribersOnce(t *testing.T) {
	r := NewRegistry()
	var joins, msgs int32
	r.RegisterHandler("greeter", countingHandler(&joins, nil), []string{TriggerUserJoin}, "")
	r.RegisterHandler("echo", countingHandler(&msgs, nil), []string{TriggerMessage}, "")

	results := r.Fire(context.Background(), TriggerUserJoin, map[string]any{"user": "alice"})
	require.Len(t, results, 1)
	assert.Equal(t, "greeter", results[0].Plugin)
	assert.EqualValues(t, 1, joins)
	assert.EqualValues(t, 0, msgs)

	assert.Empty(t, r.Fire(context.Background(), "nobody_listens", nil))
}

func TestRegistry_RegisterCompilesSource(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("auto_greeter", greeterSource, []string{TriggerUserJoin, TriggerMessage}))

	results := r.Fire(context.Background(), TriggerUserJoin, map[string]any{"user": "bob"})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "Sveiki, bob!", results[0].Effect.Message)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, []string{TriggerMessage, TriggerUserJoin}, list[0].Triggers)
	assert.Equal(t, Digest(greeterSource), list[0].Digest)
	assert.Len(t, list[0].Digest, 16)
	assert.True(t, list[0].Active)
}

func TestRegistry_RegisterFailureLeavesStateUntouched(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("auto_greeter", greeterSource, []string{TriggerUserJoin}))

	err := r.Register("auto_greeter", "package main func {", []string{TriggerMessage})
	assert.ErrorIs(t, err, core.ErrPluginCompile)
	assert.Equal(t, []string{"auto_greeter"}, r.Subscribers(TriggerUserJoin))
	assert.Empty(t, r.Subscribers(TriggerMessage))

	assert.ErrorIs(t, r.Register("bad name!", greeterSource, nil), core.ErrPluginRejected)
	assert.ErrorIs(t, r.Register("empty", "  ", nil), core.ErrPluginRejected)

	small := NewRegistry(func(o *Options) { o.MaxSourceBytes = 10 })
	assert.ErrorIs(t, small.Register("big", greeterSource, nil), core.ErrPluginRejected)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_FailureIsolationAndOrder(t *testing.T) {
	r := NewRegistry()
	var after int32
	r.RegisterHandler("a_fails", HandlerFunc(func(context.Context, string, map[string]any) (*Effect, error) {
		return nil, errors.New("broken")
	}), []string{TriggerMessage}, "")
	r.RegisterHandler("b_panics", HandlerFunc(func(context.Context, string, map[string]any) (*Effect, error) {
		panic("kaboom")
	}), []string{TriggerMessage}, "")
	r.RegisterHandler("c_ok", countingHandler(&after, &Effect{Action: ActionSendMessage, Message: "hi"}), []string{TriggerMessage}, "")

	results := r.Fire(context.Background(), TriggerMessage, nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a_fails", "b_panics", "c_ok"}, []string{results[0].Plugin, results[1].Plugin, results[2].Plugin})

	assert.ErrorIs(t, results[0].Err, core.ErrPluginRuntime)
	var rtErr *RuntimeError
	require.ErrorAs(t, results[1].Err, &rtErr)
	assert.Equal(t, "b_panics", rtErr.Plugin)
	assert.Contains(t, rtErr.Error(), "kaboom")

	require.NoError(t, results[2].Err)
	assert.Equal(t, "hi", results[2].Effect.Message)
	assert.EqualValues(t, 1, after)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(func(o *Options) { o.Timeout = 20 * time.Millisecond })
	r.RegisterHandler("slow", HandlerFunc(func(ctx context.Context, _ string, _ map[string]any) (*Effect, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), []string{TriggerMessage}, "")

	start := time.Now()
	results := r.Fire(context.Background(), TriggerMessage, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegistry_LoopingInitIsBounded(t *testing.T) {
	r := NewRegistry(func(o *Options) {
		o.Compiler = NewYaegiCompiler(func(o *YaegiOptions) { o.CompileTimeout = 50 * time.Millisecond })
	})

	src := `package main

func init() {
	for {
	}
}

func HandleTrigger(trigger string, data map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}
`
	done := make(chan error, 1)
	go func() { done <- r.Register("spin", src, []string{TriggerUserJoin}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrPluginCompile)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("Register did not return")
	}
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Subscribers(TriggerUserJoin))
}

func TestRegistry_ReRegisterKeepsSlot(t *testing.T) {
	r := NewRegistry()
	var n int32
	r.RegisterHandler("first", countingHandler(&n, nil), []string{TriggerMessage}, "")
	r.RegisterHandler("second", countingHandler(&n, nil), []string{TriggerMessage}, "")
	r.RegisterHandler("first", countingHandler(&n, nil), []string{TriggerMessage, TriggerUserJoin}, "")

	assert.Equal(t, []string{"first", "second"}, r.Subscribers(TriggerMessage))
	assert.Equal(t, []string{"first"}, r.Subscribers(TriggerUserJoin))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SetActiveAndRemove(t *testing.T) {
	r := NewRegistry()
	var n int32
	r.RegisterHandler("greeter", countingHandler(&n, nil), []string{TriggerUserJoin}, "")

	require.NoError(t, r.SetActive("greeter", false))
	assert.Empty(t, r.Fire(context.Background(), TriggerUserJoin, nil))
	assert.False(t, r.List()[0].Active)

	require.NoError(t, r.SetActive("greeter", true))
	assert.Len(t, r.Fire(context.Background(), TriggerUserJoin, nil), 1)

	require.NoError(t, r.Remove("greeter"))
	assert.ErrorIs(t, r.Remove("greeter"), core.ErrPluginNotFound)
	assert.ErrorIs(t, r.SetActive("greeter", true), core.ErrPluginNotFound)
	assert.Empty(t, r.Subscribers(TriggerUserJoin))
}

func TestRegistry_DataIsCopiedPerPlugin(t *testing.T) {
	r := NewRegistry()
	var seen []string
	mutate := HandlerFunc(func(_ context.Context, _ string, data map[string]any) (*Effect, error) {
		seen = append(seen, data["user"].(string))
		data["user"] = "mallory"
		return nil, nil
	})
	r.RegisterHandler("one", mutate, []string{TriggerMessage}, "")
	r.RegisterHandler("two", mutate, []string{TriggerMessage}, "")

	data := map[string]any{"user": "alice"}
	r.Fire(context.Background(), TriggerMessage, data)
	assert.Equal(t, []string{"alice", "alice"}, seen)
	assert.Equal(t, "alice", data["user"])
}

func TestNormalizeTriggers(t *testing.T) {
	assert.Equal(t, []string{"message", "user_join"}, normalizeTriggers([]string{" user_join", "message", "", "message"}))
	assert.NotEqual(t, Digest("x"), Digest("y"))
}
