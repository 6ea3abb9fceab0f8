package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/neurallink/logging"
)

// Manifest describes a plugin on disk. Source is inline; File names a Go
// file relative to the manifest. Exactly one of them must be set.
type Manifest struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Source   string   `yaml:"source,omitempty"`
	File     string   `yaml:"file,omitempty"`
	Active   *bool    `yaml:"active,omitempty"`
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Debounce coalesces bursts of filesystem events.
	Debounce time.Duration
	Logger   logging.Logger
}

// Loader registers plugins from *.yaml manifests in a directory and keeps
// the registry in sync with it. Sync and Watch must not run concurrently.
type Loader struct {
	dir      string
	registry *Registry
	opts     LoaderOptions
	owned    map[string]string // plugin name -> digest, for plugins this loader registered
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, registry *Registry, optFns ...func(o *LoaderOptions)) *Loader {
	opts := LoaderOptions{
		Debounce: 250 * time.Millisecond,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loader{dir: dir, registry: registry, opts: opts, owned: make(map[string]string)}
}

// LoadManifest reads and validates a manifest file, resolving File.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Name == "" {
		return Manifest{}, fmt.Errorf("%s: name is required", path)
	}
	switch {
	case m.Source != "" && m.File != "":
		return Manifest{}, fmt.Errorf("%s: source and file are mutually exclusive", path)
	case m.File != "":
		src, err := os.ReadFile(filepath.Join(filepath.Dir(path), m.File))
		if err != nil {
			return Manifest{}, fmt.Errorf("%s: %w", path, err)
		}
		m.Source = string(src)
	case m.Source == "":
		return Manifest{}, fmt.Errorf("%s: source or file is required", path)
	}
	return m, nil
}

// Sync loads every manifest, registering new or changed plugins and removing
// plugins whose manifest disappeared. It returns the names (re)registered.
// Per-manifest failures are joined into the error; other plugins still load.
func (l *Loader) Sync() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var (
		loaded []string
		errs   []error
		seen   = make(map[string]bool)
	)
	for _, path := range paths {
		m, err := LoadManifest(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		seen[m.Name] = true

		digest := Digest(m.Source + "\x00" + strings.Join(normalizeTriggers(m.Triggers), ","))
		if l.owned[m.Name] == digest {
			continue
		}
		if err := l.registry.Register(m.Name, m.Source, m.Triggers); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if m.Active != nil && !*m.Active {
			_ = l.registry.SetActive(m.Name, false)
		}
		l.owned[m.Name] = digest
		loaded = append(loaded, m.Name)
	}

	for name := range l.owned {
		if seen[name] {
			continue
		}
		delete(l.owned, name)
		if err := l.registry.Remove(name); err == nil {
			l.opts.Logger.Info("plugin.loader.removed", "plugin", name)
		}
	}

	if len(loaded) > 0 {
		l.opts.Logger.Info("plugin.loader.synced", "dir", l.dir, "loaded", strings.Join(loaded, ","))
	}
	return loaded, errors.Join(errs...)
}

// Watch syncs on every change in the directory until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.opts.Debounce)
			} else {
				timer.Reset(l.opts.Debounce)
			}
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.opts.Logger.Warn("plugin.loader.watch_error", "error", err.Error())
		case <-pending:
			pending = nil
			if _, err := l.Sync(); err != nil {
				l.opts.Logger.Warn("plugin.loader.sync_failed", "error", err.Error())
			}
		}
	}
}

func relevant(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".go"
}
