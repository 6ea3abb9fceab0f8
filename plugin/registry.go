package plugin

import (
	"context"
	"encoding/hex"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/logging"
)

const (
	// DefaultTimeout bounds a single plugin invocation.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxSourceBytes bounds accepted plugin source.
	DefaultMaxSourceBytes = 64 << 10
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Options configures a Registry.
type Options struct {
	Compiler       Compiler
	Timeout        time.Duration
	MaxSourceBytes int
	Logger         logging.Logger
}

// Info describes a registered plugin.
type Info struct {
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	Triggers     []string  `json:"triggers"`
	Digest       string    `json:"digest"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Result is the outcome of one plugin for one Fire.
type Result struct {
	Plugin string
	Effect *Effect
	Err    error
}

type entry struct {
	info    Info
	handler Handler
}

// Registry holds plugins in registration order and indexes them by trigger.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
	index   map[string][]string // trigger -> plugin names in registration order
	opts    Options
}

// NewRegistry creates an empty registry. Without a Compiler a YaegiCompiler
// with the default allowlist is used.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Timeout:        DefaultTimeout,
		MaxSourceBytes: DefaultMaxSourceBytes,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Compiler == nil {
		opts.Compiler = NewYaegiCompiler()
	}

	return &Registry{
		entries: make(map[string]*entry),
		index:   make(map[string][]string),
		opts:    opts,
	}
}

// Register compiles source and stores it under name, active, subscribed to
// triggers. Registering an existing name replaces it in place; its position
// in firing order is kept. On error nothing changes.
func (r *Registry) Register(name, source string, triggers []string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: invalid plugin name %q", core.ErrPluginRejected, name)
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: %q has empty source", core.ErrPluginRejected, name)
	}
	if len(source) > r.opts.MaxSourceBytes {
		return fmt.Errorf("%w: %q source is %d bytes, limit %d", core.ErrPluginRejected, name, len(source), r.opts.MaxSourceBytes)
	}

	handler, err := r.opts.Compiler.Compile(name, source)
	if err != nil {
		r.opts.Logger.Warn("plugin.register.failed", "plugin", name, "error", err.Error())
		return err
	}

	r.RegisterHandler(name, handler, triggers, Digest(source))
	return nil
}

// RegisterHandler stores an already built handler. digest is informational.
func (r *Registry) RegisterHandler(name string, handler Handler, triggers []string, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = &entry{
		info: Info{
			Name:         name,
			Active:       true,
			Triggers:     normalizeTriggers(triggers),
			Digest:       digest,
			RegisteredAt: time.Now(),
		},
		handler: handler,
	}
	r.reindex()

	r.opts.Logger.Info("plugin.registered", "plugin", name, "triggers", strings.Join(r.entries[name].info.Triggers, ","), "digest", digest)
}

// SetActive enables or disables a plugin without unregistering it.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrPluginNotFound, name)
	}
	e.info.Active = active
	return nil
}

// Remove unregisters a plugin.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %q", core.ErrPluginNotFound, name)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.reindex()
	r.opts.Logger.Info("plugin.removed", "plugin", name)
	return nil
}

// List returns plugin descriptions in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		info := r.entries[name].info
		info.Triggers = append([]string(nil), info.Triggers...)
		out = append(out, info)
	}
	return out
}

// Len reports how many plugins are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribers returns the plugin names subscribed to trigger, in firing order,
// including inactive ones.
func (r *Registry) Subscribers(trigger string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.index[trigger]...)
}

// Fire invokes every active plugin subscribed to trigger, in registration
// order. Each plugin gets its own copy of data and its own deadline. Errors
// and panics are returned per plugin as *RuntimeError; they never stop the
// remaining plugins.
func (r *Registry) Fire(ctx context.Context, trigger string, data map[string]any) []Result {
	type target struct {
		name    string
		handler Handler
	}

	r.mu.RLock()
	var targets []target
	for _, name := range r.index[trigger] {
		if e := r.entries[name]; e.info.Active {
			targets = append(targets, target{name: name, handler: e.handler})
		}
	}
	r.mu.RUnlock()

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		start := time.Now()
		eff, err := r.invoke(ctx, t.handler, trigger, data)
		if err != nil {
			err = &RuntimeError{Plugin: t.name, Trigger: trigger, Err: err}
		}
		logging.LogPluginExecution(r.opts.Logger, t.name, trigger, time.Since(start), err)
		results = append(results, Result{Plugin: t.name, Effect: eff, Err: err})
	}
	return results
}

func (r *Registry) invoke(ctx context.Context, h Handler, trigger string, data map[string]any) (eff *Effect, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			eff, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	return h.Handle(callCtx, trigger, maps.Clone(data))
}

// reindex rebuilds the trigger index from registration order. Callers hold mu.
func (r *Registry) reindex() {
	index := make(map[string][]string)
	for _, name := range r.order {
		for _, t := range r.entries[name].info.Triggers {
			index[t] = append(index[t], name)
		}
	}
	r.index = index
}

// Digest returns a short blake3 fingerprint of plugin source.
func Digest(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:8])
}

func normalizeTriggers(triggers []string) []string {
	seen := make(map[string]bool, len(triggers))
	out := make([]string, 0, len(triggers))
	for _, t := range triggers {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
