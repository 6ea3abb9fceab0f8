package room

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/logging"
)

// Clearer is implemented by the conversation window.
type Clearer interface {
	Clear()
}

// Options configures a Registry.
type Options struct {
	Rooms      []Room
	Navigation []NavigationRule
	Initial    string
	Logger     logging.Logger
}

// Registry holds the room table, the current room and the navigation table.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]Room
	order   []string
	nav     []NavigationRule
	current string
	window  Clearer
	logger  logging.Logger
}

// NewRegistry builds a registry whose switches clear window. It fails when
// the initial room or a navigation target is outside the room set.
func NewRegistry(window Clearer, optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{
		Rooms:      DefaultRooms(),
		Navigation: DefaultNavigation(),
		Initial:    Living,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if window == nil {
		return nil, fmt.Errorf("room: window is required")
	}
	if len(opts.Rooms) == 0 {
		return nil, fmt.Errorf("room: empty room set")
	}

	r := &Registry{rooms: make(map[string]Room, len(opts.Rooms)), window: window, logger: opts.Logger}
	for _, rm := range opts.Rooms {
		id := normalize(rm.ID)
		if id == "" {
			return nil, fmt.Errorf("room: empty room id")
		}
		if _, dup := r.rooms[id]; dup {
			return nil, fmt.Errorf("room: duplicate room %q", id)
		}
		rm.ID = id
		r.rooms[id] = rm
		r.order = append(r.order, id)
	}
	for _, rule := range opts.Navigation {
		target := normalize(rule.Room)
		if _, ok := r.rooms[target]; !ok {
			return nil, fmt.Errorf("room: navigation keyword %q targets %w %q", rule.Keyword, core.ErrUnknownRoom, rule.Room)
		}
		kw := strings.ToLower(strings.TrimSpace(rule.Keyword))
		if kw == "" {
			continue
		}
		r.nav = append(r.nav, NavigationRule{Keyword: kw, Room: target})
	}
	initial := normalize(opts.Initial)
	if _, ok := r.rooms[initial]; !ok {
		return nil, fmt.Errorf("room: initial %w %q", core.ErrUnknownRoom, opts.Initial)
	}
	r.current = initial
	return r, nil
}

// ClassifyNavigation returns the room whose keyword the text contains. When
// several keywords match, the first rule in table order wins.
func (r *Registry) ClassifyNavigation(text string) (Room, bool) {
	lower := strings.ToLower(text)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.nav {
		if strings.Contains(lower, rule.Keyword) {
			return r.rooms[rule.Room], true
		}
	}
	return Room{}, false
}

// SwitchTo makes id the current room and clears the window, even when id is
// already current. Unknown ids return core.ErrUnknownRoom and change nothing.
func (r *Registry) SwitchTo(id string) (Room, error) {
	key := normalize(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[key]
	if !ok {
		r.logger.Warn("room.switch.rejected", "room", id)
		return Room{}, fmt.Errorf("%w: %q", core.ErrUnknownRoom, id)
	}
	prev := r.current
	r.current = key
	r.window.Clear()
	r.logger.Info("room.switch", "from", prev, "to", key)
	return rm, nil
}

// Current returns the current room.
func (r *Registry) Current() Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[r.current]
}

// CurrentPrompt returns the system prompt and JSON flag of the current room.
func (r *Registry) CurrentPrompt() (string, bool) {
	rm := r.Current()
	return rm.Prompt, rm.RequiresJSON
}

// Lookup returns the room with the given id.
func (r *Registry) Lookup(id string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[normalize(id)]
	return rm, ok
}

// Rooms returns every room in configuration order.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Room, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rooms[id])
	}
	return out
}

// IDs returns the room ids in configuration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
