package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/plugin"
	"github.com/hupe1980/neurallink/room"
)

// AccessDenied is the fixed text of every authentication failure.
const AccessDenied = "ACCESS DENIED"

// ActionPluginUpload is the action of the structured upload payload.
const ActionPluginUpload = "plugin_upload"

// DefaultMemoryLimit bounds the notes listed by the memory command.
const DefaultMemoryLimit = 10

// Rooms is the part of the room registry the authority drives.
type Rooms interface {
	Current() room.Room
	SwitchTo(id string) (room.Room, error)
	IDs() []string
}

// Window is the part of the conversation window the authority drives.
type Window interface {
	Clear()
	Len() int
	Cap() int
}

// Activity is the part of the activity tracker the authority reads.
type Activity interface {
	Active() []string
	Len() int
	Sweep(now time.Time) []string
}

// Plugins is the part of the plugin registry the authority manages.
type Plugins interface {
	Register(name, source string, triggers []string) error
	SetActive(name string, active bool) error
	Remove(name string) error
	List() []plugin.Info
	Len() int
}

// Notes searches stored notes of a user.
type Notes interface {
	Search(userID string, query string, limit int) ([]core.SearchResult, error)
}

// Components are the collaborators an Authority operates on.
type Components struct {
	Rooms    Rooms
	Window   Window
	Activity Activity
	Plugins  Plugins
}

// Options configures an Authority.
type Options struct {
	// Locker, when set, is held while room, window and activity state is
	// read or changed. The router passes its chat-path mutex here.
	Locker sync.Locker
	// Notes enables the memory command.
	Notes  Notes
	Now    func() time.Time
	Logger logging.Logger
}

// Response is the outcome of one admin payload.
type Response struct {
	Type   core.MessageType
	Text   string
	Denied bool
	Err    error
	// Room is set when the command switched rooms.
	Room *room.Room
}

// Authority authenticates and executes admin payloads.
type Authority struct {
	digest [32]byte
	c      Components
	opts   Options
}

// New creates an Authority guarded by token.
func New(token string, c Components, optFns ...func(o *Options)) (*Authority, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("admin token must not be empty")
	}
	if c.Rooms == nil || c.Window == nil || c.Activity == nil || c.Plugins == nil {
		return nil, errors.New("admin components must not be nil")
	}

	opts := Options{
		Locker: noopLocker{},
		Now:    time.Now,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Locker == nil {
		opts.Locker = noopLocker{}
	}

	return &Authority{digest: blake3.Sum256([]byte(token)), c: c, opts: opts}, nil
}

// Authorized reports whether token matches the configured token. Both sides
// are hashed first so the comparison runs over equal lengths.
func (a *Authority) Authorized(token string) bool {
	d := blake3.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(d[:], a.digest[:]) == 1
}

type uploadRequest struct {
	Action   string   `json:"action"`
	Token    string   `json:"token"`
	Name     string   `json:"name"`
	Source   string   `json:"source"`
	Triggers []string `json:"triggers"`
}

// Handle authenticates raw and runs the command it carries.
func (a *Authority) Handle(raw string) Response {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "{") {
		var req uploadRequest
		if err := json.Unmarshal([]byte(text), &req); err == nil && req.Action != "" {
			return a.handleStructured(req)
		}
	}

	fields := strings.Fields(text)
	if len(fields) == 0 || !a.Authorized(fields[0]) {
		return a.deny("command")
	}
	if len(fields) < 2 {
		return failure(fmt.Errorf("%w: missing command", core.ErrUnknownCommand), "missing command, try help")
	}

	cmd := strings.ToLower(fields[1])
	args := fields[2:]
	a.opts.Logger.Info("admin.command", "command", cmd)

	switch cmd {
	case "status":
		return a.status()
	case "reset":
		return a.reset()
	case "room":
		return a.switchRoom(args)
	case "users":
		return a.users()
	case "plugins":
		return a.plugins()
	case "plugin":
		return a.pluginCommand(args)
	case "sweep":
		return a.sweep()
	case "memory":
		return a.memory(args)
	case "help":
		return ok(helpText)
	default:
		return failure(fmt.Errorf("%w: %s", core.ErrUnknownCommand, fields[1]), fmt.Sprintf("unknown command %q, try help", fields[1]))
	}
}

const helpText = "commands: status, reset, room <name>, users, plugins, " +
	"plugin enable|disable|remove <name>, sweep, memory <user> [query], help"

func (a *Authority) handleStructured(req uploadRequest) Response {
	if !a.Authorized(req.Token) {
		return a.deny(req.Action)
	}
	if req.Action != ActionPluginUpload {
		return failure(fmt.Errorf("%w: action %s", core.ErrUnknownCommand, req.Action), fmt.Sprintf("unknown action %q", req.Action))
	}

	if err := a.c.Plugins.Register(req.Name, req.Source, req.Triggers); err != nil {
		a.opts.Logger.Warn("admin.plugin.upload.failed", "plugin", req.Name, "error", err)
		return failure(err, fmt.Sprintf("plugin %q not loaded: %v", req.Name, err))
	}
	a.opts.Logger.Info("admin.plugin.uploaded", "plugin", req.Name, "triggers", req.Triggers)
	return ok(fmt.Sprintf("plugin %q loaded (triggers: %s)", req.Name, joinOrNone(req.Triggers)))
}

func (a *Authority) deny(what string) Response {
	a.opts.Logger.Warn("admin.denied", "payload", what)
	return Response{Type: core.TypeSecurity, Text: AccessDenied, Denied: true, Err: core.ErrAuthDenied}
}

func (a *Authority) status() Response {
	a.opts.Locker.Lock()
	current := a.c.Rooms.Current()
	users := a.c.Activity.Len()
	wlen, wcap := a.c.Window.Len(), a.c.Window.Cap()
	a.opts.Locker.Unlock()

	return ok(fmt.Sprintf("status: room=%s users=%d window=%d/%d plugins=%d",
		current.ID, users, wlen, wcap, a.c.Plugins.Len()))
}

func (a *Authority) reset() Response {
	a.opts.Locker.Lock()
	a.c.Window.Clear()
	a.opts.Locker.Unlock()

	a.opts.Logger.Info("admin.window.reset")
	return ok("conversation window cleared")
}

func (a *Authority) switchRoom(args []string) Response {
	if len(args) == 0 {
		return failure(fmt.Errorf("%w: missing room name", core.ErrUnknownRoom), "usage: room <name>")
	}

	a.opts.Locker.Lock()
	r, err := a.c.Rooms.SwitchTo(args[0])
	a.opts.Locker.Unlock()

	if err != nil {
		return failure(err, fmt.Sprintf("unknown room %q (known: %s)", args[0], strings.Join(a.c.Rooms.IDs(), ", ")))
	}
	a.opts.Logger.Info("admin.room.switched", "room", r.ID)
	resp := ok("room switched to " + r.ID)
	resp.Room = &r
	return resp
}

func (a *Authority) users() Response {
	a.opts.Locker.Lock()
	active := a.c.Activity.Active()
	a.opts.Locker.Unlock()

	if len(active) == 0 {
		return ok("no active users")
	}
	return ok(fmt.Sprintf("active users (%d): %s", len(active), strings.Join(active, ", ")))
}

func (a *Authority) plugins() Response {
	infos := a.c.Plugins.List()
	if len(infos) == 0 {
		return ok("no plugins")
	}

	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		state := "off"
		if info.Active {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("%s [%s] triggers=%s", info.Name, state, joinOrNone(info.Triggers)))
	}
	return ok("plugins: " + strings.Join(lines, "; "))
}

func (a *Authority) pluginCommand(args []string) Response {
	if len(args) < 2 {
		return failure(fmt.Errorf("%w: plugin", core.ErrUnknownCommand), "usage: plugin enable|disable|remove <name>")
	}

	verb, name := strings.ToLower(args[0]), args[1]
	var err error
	switch verb {
	case "enable":
		err = a.c.Plugins.SetActive(name, true)
	case "disable":
		err = a.c.Plugins.SetActive(name, false)
	case "remove":
		err = a.c.Plugins.Remove(name)
	default:
		return failure(fmt.Errorf("%w: plugin %s", core.ErrUnknownCommand, args[0]), fmt.Sprintf("unknown plugin command %q", args[0]))
	}
	if err != nil {
		return failure(err, fmt.Sprintf("plugin %q: %v", name, err))
	}

	a.opts.Logger.Info("admin.plugin."+verb, "plugin", name)
	return ok(fmt.Sprintf("plugin %q %sd", name, strings.TrimSuffix(verb, "e")))
}

func (a *Authority) sweep() Response {
	a.opts.Locker.Lock()
	removed := a.c.Activity.Sweep(a.opts.Now())
	a.opts.Locker.Unlock()

	return ok(fmt.Sprintf("swept %d idle users", len(removed)))
}

func (a *Authority) memory(args []string) Response {
	if a.opts.Notes == nil {
		return ok("no memory store configured")
	}
	if len(args) == 0 {
		return failure(fmt.Errorf("%w: memory", core.ErrUnknownCommand), "usage: memory <user> [query]")
	}

	user, query := args[0], strings.Join(args[1:], " ")
	notes, err := a.opts.Notes.Search(user, query, DefaultMemoryLimit)
	if err != nil {
		return failure(err, fmt.Sprintf("memory lookup failed: %v", err))
	}
	if len(notes) == 0 {
		return ok(fmt.Sprintf("no notes for %s", user))
	}

	parts := make([]string, 0, len(notes))
	for _, n := range notes {
		parts = append(parts, fmt.Sprintf("%s: %s", n.ID, core.TruncateRunes(n.Content, 80)))
	}
	return ok(fmt.Sprintf("notes for %s (%d): %s", user, len(notes), strings.Join(parts, " | ")))
}

func ok(text string) Response {
	return Response{Type: core.TypeAdmin, Text: text}
}

func failure(err error, text string) Response {
	return Response{Type: core.TypeAdmin, Text: text, Err: err}
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}
