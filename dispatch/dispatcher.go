package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/internal/util"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/model"
	"github.com/hupe1980/neurallink/room"
	"github.com/hupe1980/neurallink/tool"
)

const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxOutput caps reply length in runes.
	DefaultMaxOutput = 1000
)

// Source tells where a reply came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceTool     Source = "tool"
	SourceFallback Source = "fallback"
)

// ActionResult is the serialized reply when the model chose a tool.
type ActionResult struct {
	Action string `json:"action"`
	Tool   string `json:"tool"`
	CallID string `json:"call_id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of Respond.
type Result struct {
	Text   string
	Source Source
	Action *ActionResult
	// Cause is the provider failure that led to a fallback reply.
	Cause error
}

// Prompt identifies who is being answered where.
type Prompt struct {
	Room    room.Room
	Speaker string
}

// Options configures a Dispatcher.
type Options struct {
	// Model may be nil, in which case every reply is a fallback.
	Model     model.Model
	Tools     *tool.Registry
	Store     core.PreferenceStore
	AIName    string
	Timeout   time.Duration
	MaxOutput int
	Fallback  *Fallback
	Logger    logging.Logger
}

// Dispatcher calls the completion provider for the router.
type Dispatcher struct {
	opts Options
}

// New creates a Dispatcher.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		AIName:    "TERMAI",
		Timeout:   DefaultTimeout,
		MaxOutput: DefaultMaxOutput,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxOutput < 1 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Fallback == nil {
		opts.Fallback = NewFallback(opts.AIName, nil)
	}
	return &Dispatcher{opts: opts}
}

// Available reports whether a provider is configured.
func (d *Dispatcher) Available() bool { return d.opts.Model != nil }

// Respond answers the last user turn of turns. It never fails.
func (d *Dispatcher) Respond(ctx context.Context, p Prompt, turns []core.Turn) Result {
	if d.opts.Model == nil {
		return d.fallback(turns, core.ErrProviderUnavailable)
	}

	req := model.Request{
		Instructions: d.instructions(p),
		Contents:     contents(turns),
	}
	if d.opts.Tools != nil && d.opts.Tools.Len() > 0 && d.opts.Model.Info().SupportsTools {
		req.Tools = d.opts.Tools.Definitions()
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := model.Complete(callCtx, d.opts.Model, req)
	err = classify(callCtx, err)
	logging.LogProviderCall(d.opts.Logger, d.opts.Model.Info().Provider, time.Since(start), err)
	if err != nil {
		return d.fallback(turns, err)
	}

	if calls := resp.Content.FunctionCalls(); len(calls) > 0 && d.opts.Tools != nil {
		return d.runTool(ctx, p, calls[0])
	}

	text := strings.TrimSpace(resp.Content.Text())
	if text == "" {
		return d.fallback(turns, fmt.Errorf("%w: empty completion", core.ErrProvider))
	}
	return Result{Text: core.TruncateRunes(text, d.opts.MaxOutput), Source: SourceProvider}
}

func (d *Dispatcher) runTool(ctx context.Context, p Prompt, call core.FunctionCall) Result {
	tc := tool.NewContext(ctx, p.Speaker, p.Room.ID, d.opts.Store, d.opts.Logger)
	out, err := d.opts.Tools.Execute(tc, call)

	action := &ActionResult{Action: "tool_result", Tool: call.Name, CallID: call.ID, Result: out}
	if err != nil {
		action.Error = err.Error()
		action.Result = nil
	}

	raw, mErr := json.Marshal(action)
	if mErr != nil {
		// results are built from JSON-decoded args and plain maps
		raw, _ = json.Marshal(ActionResult{Action: action.Action, Tool: action.Tool, CallID: action.CallID, Error: mErr.Error()})
	}

	return Result{Text: core.TruncateRunes(string(raw), d.opts.MaxOutput), Source: SourceTool, Action: action}
}

func (d *Dispatcher) fallback(turns []core.Turn, cause error) Result {
	reply, rule := d.opts.Fallback.Reply(lastUserText(turns))
	d.opts.Logger.Warn("dispatch.fallback", "rule", rule, "cause", cause.Error())
	return Result{Text: core.TruncateRunes(reply, d.opts.MaxOutput), Source: SourceFallback, Cause: cause}
}

// instructions renders the room prompt and appends the JSON instruction and
// any stored preferences of the speaker.
func (d *Dispatcher) instructions(p Prompt) string {
	prompt, err := util.RenderPrompt(p.Room.Prompt, map[string]any{
		"ai_id":   d.opts.AIName,
		"room":    p.Room.ID,
		"speaker": p.Speaker,
	})
	if err != nil {
		d.opts.Logger.Warn("dispatch.prompt.render_failed", "room", p.Room.ID, "error", err.Error())
		prompt = p.Room.Prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	if p.Room.RequiresJSON {
		b.WriteString("\n\n")
		b.WriteString(room.JSONInstruction)
	}
	if prefs := d.preferences(p.Speaker); prefs != "" {
		b.WriteString("\n\nKnown preferences of ")
		b.WriteString(p.Speaker)
		b.WriteString(": ")
		b.WriteString(prefs)
	}
	return b.String()
}

func (d *Dispatcher) preferences(speaker string) string {
	if d.opts.Store == nil || speaker == "" {
		return ""
	}
	prefs, err := d.opts.Store.Get(speaker)
	if err != nil {
		d.opts.Logger.Warn("dispatch.preferences.failed", "user", speaker, "error", err.Error())
		return ""
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, prefs[k]))
	}
	return strings.Join(parts, ", ")
}

// classify maps provider errors onto the taxonomy.
func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", core.ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrProvider, err)
	}
}

func contents(turns []core.Turn) []core.Content {
	out := make([]core.Content, 0, len(turns))
	for _, t := range turns {
		if t.Role == core.RoleSystem {
			continue
		}
		out = append(out, t.Content())
	}
	return out
}

func lastUserText(turns []core.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == core.RoleUser {
			return turns[i].Text
		}
	}
	return ""
}
