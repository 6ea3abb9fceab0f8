package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/neurallink/activity"
	"github.com/hupe1980/neurallink/admin"
	"github.com/hupe1980/neurallink/conversation"
	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/dispatch"
	"github.com/hupe1980/neurallink/internal/util"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/plugin"
	"github.com/hupe1980/neurallink/room"
	"github.com/hupe1980/neurallink/transport"
)

const (
	// DefaultAIName is the sender id of AI replies.
	DefaultAIName = "TERMAI"
	// DefaultPublishMaxRunes caps published chat text.
	DefaultPublishMaxRunes = 500
	// PluginSenderPrefix prefixes the sender id of plugin messages.
	PluginSenderPrefix = "plugin:"
)

// DefaultTriggers are the keywords that make the AI answer, in match order.
var DefaultTriggers = []string{"termai", "ai", "?", "labas", "hello", "kas tu"}

// Topics names the topics the router consumes and produces.
type Topics struct {
	Input  string `mapstructure:"input"`
	Admin  string `mapstructure:"admin"`
	Output string `mapstructure:"output"`
	Compat string `mapstructure:"compat"`

	// PassThrough holds topic prefixes that bypass the router logic.
	PassThrough []string `mapstructure:"pass_through"`
}

// DefaultTopics returns the topics the chat clients use.
func DefaultTopics() Topics {
	return Topics{
		Input:       "termchat/input",
		Admin:       "termchat/admin",
		Output:      "termchat/output",
		Compat:      "termchat/messages",
		PassThrough: []string{"termchat/signal/", "termchat/tunnel/"},
	}
}

// Components are the collaborators the router drives. Plugins and Admin
// are optional.
type Components struct {
	Tracker    *activity.Tracker
	Rooms      *room.Registry
	Window     *conversation.Window
	Dispatcher *dispatch.Dispatcher
	Plugins    *plugin.Registry
	Admin      *admin.Authority
}

// Options configures a Router.
type Options struct {
	Topics          Topics
	AIName          string
	Triggers        []string
	PublishMaxRunes int

	// Locker serializes chat-path state. Share it with the admin authority.
	Locker sync.Locker
	// Store receives creations as notes of the requesting user.
	Store core.PreferenceStore
	// PassThrough, when set, receives pass-through messages untouched.
	PassThrough transport.Handler
	// Announce publishes a join envelope from AIName when Start completes.
	Announce bool

	Now    func() time.Time
	Logger logging.Logger
}

// Router is the inbound message state machine.
type Router struct {
	tr      transport.Transport
	c       Components
	opts    Options
	started time.Time
	stats   stats
}

type stats struct {
	received  atomic.Int64
	dropped   atomic.Int64
	replies   atomic.Int64
	fallbacks atomic.Int64
	passed    atomic.Int64
}

// New creates a router publishing on tr.
func New(tr transport.Transport, c Components, optFns ...func(o *Options)) (*Router, error) {
	if tr == nil {
		return nil, errors.New("router: transport is required")
	}
	if c.Tracker == nil || c.Rooms == nil || c.Window == nil || c.Dispatcher == nil {
		return nil, errors.New("router: tracker, rooms, window and dispatcher are required")
	}

	opts := Options{
		Topics:          DefaultTopics(),
		AIName:          DefaultAIName,
		Triggers:        DefaultTriggers,
		PublishMaxRunes: DefaultPublishMaxRunes,
		Now:             time.Now,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Locker == nil {
		opts.Locker = &sync.Mutex{}
	}
	if opts.Topics.Input == "" || opts.Topics.Output == "" {
		return nil, errors.New("router: input and output topics are required")
	}

	return &Router{tr: tr, c: c, opts: opts, started: opts.Now()}, nil
}

// Start subscribes to the input, admin and pass-through topics. Handlers run
// with ctx until it is canceled.
func (r *Router) Start(ctx context.Context) error {
	filters := []string{r.opts.Topics.Input}
	if r.opts.Topics.Admin != "" {
		filters = append(filters, r.opts.Topics.Admin)
	}
	for _, prefix := range r.opts.Topics.PassThrough {
		filters = append(filters, strings.TrimSuffix(prefix, "/")+"/#")
	}

	for _, f := range filters {
		if err := r.tr.Subscribe(f, func(m transport.Message) { r.HandleMessage(ctx, m) }); err != nil {
			return fmt.Errorf("router: subscribe %s: %w", f, err)
		}
	}
	r.opts.Logger.Info("router.started", "topics", filters, "ai_id", r.opts.AIName)
	if r.opts.Announce {
		return r.Announce(ctx)
	}
	return nil
}

// Announce publishes the AI's presence as a join envelope on the output
// topic. Clients use it to list the AI as online.
func (r *Router) Announce(ctx context.Context) error {
	payload, err := core.Envelope{Type: core.TypeJoin, ID: r.opts.AIName}.Encode(r.opts.PublishMaxRunes)
	if err != nil {
		return err
	}
	if err := r.tr.Publish(ctx, r.opts.Topics.Output, payload); err != nil {
		return fmt.Errorf("router: announce: %w", err)
	}
	r.opts.Logger.Info("router.announced", "ai_id", r.opts.AIName)
	return nil
}

type route int

const (
	routeIgnore route = iota
	routeChat
	routeAdmin
	routePassThrough
)

func (r *Router) classify(topic string) route {
	switch topic {
	case r.opts.Topics.Input:
		return routeChat
	case r.opts.Topics.Admin:
		if r.opts.Topics.Admin != "" {
			return routeAdmin
		}
	}
	for _, prefix := range r.opts.Topics.PassThrough {
		if strings.HasPrefix(topic, prefix) {
			return routePassThrough
		}
	}
	return routeIgnore
}

// HandleMessage processes one delivered message. It is safe to call from
// several goroutines.
func (r *Router) HandleMessage(ctx context.Context, msg transport.Message) {
	r.stats.received.Add(1)

	switch r.classify(msg.Topic) {
	case routeChat:
		r.handleInput(ctx, msg.Payload)
	case routeAdmin:
		r.handleAdmin(ctx, msg.Payload)
	case routePassThrough:
		r.stats.passed.Add(1)
		if r.opts.PassThrough != nil {
			r.opts.PassThrough(msg)
		}
	default:
		r.opts.Logger.Debug("router.topic.ignored", "topic", msg.Topic)
	}
}

func (r *Router) handleInput(ctx context.Context, payload []byte) {
	env := core.DecodeEnvelope(payload)
	if r.isSelf(env.ID) {
		return
	}

	switch env.Type {
	case core.TypeChat, core.TypePlain:
		r.handleChat(ctx, env)
	case core.TypeJoin:
		r.firePlugins(ctx, plugin.TriggerUserJoin, map[string]any{"user_id": env.ID, "room": r.c.Rooms.Current().ID})
	case core.TypeAdmin:
		r.handleAdmin(ctx, payload)
	default:
		r.opts.Logger.Debug("router.input.ignored", "type", env.Type, "sender", env.ID)
	}
}

func (r *Router) isSelf(sender string) bool {
	return strings.EqualFold(sender, r.opts.AIName)
}

func (r *Router) handleChat(ctx context.Context, env core.Envelope) {
	text := strings.TrimSpace(env.Msg)
	if text == "" {
		r.drop(env.ID, core.ErrValidation, "empty")
		return
	}
	now := r.opts.Now()

	r.opts.Locker.Lock()
	decision := r.c.Tracker.Accept(env.ID, utf8.RuneCountInString(text), now)
	if !decision.Accepted() {
		r.opts.Locker.Unlock()
		cause := core.ErrRateLimited
		if decision.Verdict == activity.RejectTooLong {
			cause = core.ErrValidation
		}
		r.drop(env.ID, cause, decision.Verdict.String())
		return
	}

	previous := r.c.Rooms.Current()
	target, navigate := r.c.Rooms.ClassifyNavigation(text)
	var (
		switched  room.Room
		switchErr error
		triggered bool
		snapshot  []core.Turn
		current   room.Room
	)
	if navigate {
		switched, switchErr = r.c.Rooms.SwitchTo(target.ID)
	} else if util.MatchFirst(text, r.opts.Triggers) >= 0 {
		triggered = true
		r.c.Window.Append(core.NewUserTurn(env.ID, text, now))
		current = r.c.Rooms.Current()
		snapshot = r.c.Window.Snapshot(current.Prompt)
	}
	r.opts.Locker.Unlock()

	r.opts.Logger.Debug("router.chat.accepted", "sender", env.ID, "first_contact", decision.FirstContact,
		"navigate", navigate, "triggered", triggered)

	if decision.FirstContact {
		r.firePlugins(ctx, plugin.TriggerUserJoin, map[string]any{"user_id": env.ID, "room": previous.ID})
	}
	r.firePlugins(ctx, plugin.TriggerMessage, map[string]any{"user_id": env.ID, "message": text, "room": previous.ID})

	switch {
	case navigate && switchErr != nil:
		// navigation targets are validated at registry construction
		r.opts.Logger.Error("router.navigation.failed", "room", target.ID, "error", switchErr)
	case navigate:
		r.announceRoom(ctx, env.ID, previous.ID, switched)
	case triggered:
		r.respond(ctx, env.ID, current, snapshot)
	}
}

func (r *Router) drop(sender string, cause error, reason string) {
	r.stats.dropped.Add(1)
	r.opts.Logger.Debug("router.chat.dropped", "sender", sender, "reason", reason, "error", cause)
}

// respond runs the completion outside the lock and publishes the answer.
func (r *Router) respond(ctx context.Context, speaker string, current room.Room, snapshot []core.Turn) {
	res := r.c.Dispatcher.Respond(ctx, dispatch.Prompt{Room: current, Speaker: speaker}, snapshot)
	if res.Source == dispatch.SourceFallback {
		r.stats.fallbacks.Add(1)
	}

	out := core.Envelope{Type: core.TypeChat, ID: r.opts.AIName, Room: current.ID}
	if creation, ok := core.ParseCreation(res.Text); ok {
		out.Type = core.TypeCreation
		out.Creation = r.sanitizeCreation(creation)
		out.Msg = out.Creation.Title
		if out.Msg == "" {
			out.Msg = out.Creation.Kind
		}
		r.storeCreation(speaker, current.ID, creation)
	} else {
		out.Msg = r.sanitize(res.Text)
	}

	r.opts.Locker.Lock()
	r.c.Window.Append(core.NewAssistantTurn(res.Text, r.opts.Now()))
	r.opts.Locker.Unlock()

	r.publish(ctx, out)
	r.stats.replies.Add(1)
	r.opts.Logger.Info("router.reply.published", "speaker", speaker, "room", current.ID, "source", res.Source, "type", out.Type)

	r.firePlugins(ctx, plugin.TriggerAIResponse, map[string]any{
		"user_id":  speaker,
		"room":     current.ID,
		"response": out.Msg,
		"source":   string(res.Source),
	})
}

func (r *Router) storeCreation(speaker, roomID string, c *core.Creation) {
	if r.opts.Store == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	md := map[string]any{"kind": c.Kind, "title": c.Title, "room": roomID}
	if err := r.opts.Store.Store(speaker, string(raw), md); err != nil {
		r.opts.Logger.Warn("router.creation.store_failed", "user", speaker, "error", err)
	}
}

func (r *Router) announceRoom(ctx context.Context, by, from string, to room.Room) {
	r.publish(ctx, core.Envelope{
		Type: core.TypeNavigation,
		ID:   r.opts.AIName,
		Msg:  fmt.Sprintf("%s moved the conversation to the %s", by, to.ID),
		Room: to.ID,
	})
	r.firePlugins(ctx, plugin.TriggerRoomSwitch, map[string]any{"user_id": by, "room": to.ID, "previous": from})
}

func (r *Router) handleAdmin(ctx context.Context, payload []byte) {
	if r.c.Admin == nil {
		r.opts.Logger.Debug("router.admin.disabled")
		return
	}

	raw, sender := string(payload), ""
	if env := core.DecodeEnvelope(payload); env.Type != core.TypePlain && env.Msg != "" {
		raw, sender = env.Msg, env.ID
	}
	if r.isSelf(sender) {
		return
	}

	before := r.c.Rooms.Current().ID
	resp := r.c.Admin.Handle(raw)
	if resp.Err != nil {
		r.opts.Logger.Warn("router.admin.failed", "sender", sender, "denied", resp.Denied, "error", resp.Err)
	}

	r.publish(ctx, core.Envelope{Type: resp.Type, ID: r.opts.AIName, Msg: resp.Text})
	if resp.Room != nil {
		r.announceRoom(ctx, "admin", before, *resp.Room)
	}
}

// firePlugins runs the subscribers of trigger and publishes their effects.
func (r *Router) firePlugins(ctx context.Context, trigger string, data map[string]any) {
	if r.c.Plugins == nil {
		return
	}
	for _, res := range r.c.Plugins.Fire(ctx, trigger, data) {
		if res.Err != nil {
			r.opts.Logger.Warn("router.plugin.failed", "plugin", res.Plugin, "trigger", trigger, "error", res.Err)
			continue
		}
		if res.Effect == nil || res.Effect.Action != plugin.ActionSendMessage || strings.TrimSpace(res.Effect.Message) == "" {
			continue
		}
		r.publish(ctx, core.Envelope{
			Type: core.TypeChat,
			ID:   PluginSenderPrefix + res.Plugin,
			Msg:  r.sanitize(res.Effect.Message),
		})
	}
}

// sanitize escapes markup and applies the publish cap to the escaped text.
// The cap never splits an entity.
func (r *Router) sanitize(text string) string {
	return escapeBounded(text, r.opts.PublishMaxRunes)
}

func escapeBounded(text string, n int) string {
	var b strings.Builder
	used := 0
	for _, ch := range text {
		piece := html.EscapeString(string(ch))
		k := utf8.RuneCountInString(piece)
		if used+k > n {
			break
		}
		b.WriteString(piece)
		used += k
	}
	return b.String()
}

// sanitizeCreation returns a copy of c with every string escaped and capped.
// Data is dropped when its encoded form still exceeds the publish cap.
func (r *Router) sanitizeCreation(c *core.Creation) *core.Creation {
	out := &core.Creation{
		Kind:    r.sanitize(c.Kind),
		Title:   r.sanitize(c.Title),
		Content: r.sanitize(c.Content),
	}
	if len(c.Data) == 0 {
		return out
	}
	data, _ := r.sanitizeValue(c.Data).(map[string]any)
	if raw, err := json.Marshal(data); err != nil || utf8.RuneCount(raw) > r.opts.PublishMaxRunes {
		r.opts.Logger.Warn("router.creation.data_dropped", "kind", c.Kind, "bytes", len(raw))
		return out
	}
	out.Data = data
	return out
}

func (r *Router) sanitizeValue(v any) any {
	switch x := v.(type) {
	case string:
		return r.sanitize(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[r.sanitize(k)] = r.sanitizeValue(val)
		}
		return m
	case []any:
		l := make([]any, len(x))
		for i, val := range x {
			l[i] = r.sanitizeValue(val)
		}
		return l
	default:
		return v
	}
}

// publish sends env on the output topic and, for chat lines, the simplified
// form on the compatibility topic.
func (r *Router) publish(ctx context.Context, env core.Envelope) {
	payload, err := env.Encode(r.opts.PublishMaxRunes)
	if err != nil {
		r.opts.Logger.Error("router.publish.encode_failed", "type", env.Type, "error", err)
		return
	}
	if err := r.tr.Publish(ctx, r.opts.Topics.Output, payload); err != nil {
		r.opts.Logger.Warn("router.publish.failed", "topic", r.opts.Topics.Output, "error", err)
	}

	if r.opts.Topics.Compat == "" || (env.Type != core.TypeChat && env.Type != core.TypeCreation) {
		return
	}
	compat, err := json.Marshal(env.Compat())
	if err != nil {
		return
	}
	if err := r.tr.Publish(ctx, r.opts.Topics.Compat, compat); err != nil {
		r.opts.Logger.Warn("router.publish.failed", "topic", r.opts.Topics.Compat, "error", err)
	}
}

// Snapshot is the read-only state exposed on the health surface.
type Snapshot struct {
	AIID          string `json:"ai_id"`
	Room          string `json:"room"`
	ActiveUsers   int    `json:"active_users"`
	WindowLen     int    `json:"window_len"`
	WindowCap     int    `json:"window_cap"`
	Plugins       int    `json:"plugins"`
	Provider      bool   `json:"provider"`
	Received      int64  `json:"messages_received"`
	Dropped       int64  `json:"messages_dropped"`
	Replies       int64  `json:"replies"`
	Fallbacks     int64  `json:"fallbacks"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Snapshot returns the current state.
func (r *Router) Snapshot() Snapshot {
	r.opts.Locker.Lock()
	s := Snapshot{
		AIID:        r.opts.AIName,
		Room:        r.c.Rooms.Current().ID,
		ActiveUsers: r.c.Tracker.Len(),
		WindowLen:   r.c.Window.Len(),
		WindowCap:   r.c.Window.Cap(),
	}
	r.opts.Locker.Unlock()

	if r.c.Plugins != nil {
		s.Plugins = r.c.Plugins.Len()
	}
	s.Provider = r.c.Dispatcher.Available()
	s.Received = r.stats.received.Load()
	s.Dropped = r.stats.dropped.Load()
	s.Replies = r.stats.replies.Load()
	s.Fallbacks = r.stats.fallbacks.Load()
	s.UptimeSeconds = int64(r.opts.Now().Sub(r.started) / time.Second)
	return s
}
