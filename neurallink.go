// Package neurallink assembles the chat orchestrator from a configuration:
// transport, activity gate, rooms, conversation window, completion
// dispatcher, plugin sandbox, admin authority, router and health endpoint.
//
// Most applications only need:
//
//	srv, err := neurallink.New(func(o *neurallink.Options) { o.Config = cfg })
//	...
//	err = srv.Run(ctx)
//
// Every collaborator can be replaced through Options, which is how tests run
// the whole server on the in-process bus with a mock model.
package neurallink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/neurallink/activity"
	"github.com/hupe1980/neurallink/admin"
	"github.com/hupe1980/neurallink/config"
	"github.com/hupe1980/neurallink/conversation"
	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/dispatch"
	"github.com/hupe1980/neurallink/health"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/memory"
	"github.com/hupe1980/neurallink/memory/sqlite"
	"github.com/hupe1980/neurallink/model"
	"github.com/hupe1980/neurallink/model/anthropic"
	"github.com/hupe1980/neurallink/model/gemini"
	"github.com/hupe1980/neurallink/model/openai"
	"github.com/hupe1980/neurallink/plugin"
	"github.com/hupe1980/neurallink/room"
	"github.com/hupe1980/neurallink/router"
	"github.com/hupe1980/neurallink/tool"
	"github.com/hupe1980/neurallink/transport"
	"github.com/hupe1980/neurallink/transport/mqtt"
)

// Options configures a Server. Only Config is required.
type Options struct {
	Config *config.Config

	// Transport replaces the broker connection (and the offline bus).
	Transport transport.Transport
	// Model replaces the provider selected by Config.Provider.
	Model model.Model
	// Store replaces the preference store selected by Config.Memory.
	Store core.PreferenceStore
	// Logger defaults to a structured logger built from Config.Log.
	Logger logging.Logger
}

// Server is a fully wired orchestrator.
type Server struct {
	cfg    *config.Config
	logger logging.Logger

	tr     transport.Transport
	broker *mqtt.Transport
	store  core.PreferenceStore

	tracker *activity.Tracker
	sweeper *activity.Sweeper
	window  *conversation.Window
	rooms   *room.Registry
	plugins *plugin.Registry
	loader  *plugin.Loader
	admin   *admin.Authority
	router  *router.Router
	health  *health.Server

	closeOnce sync.Once
	closers   []io.Closer
}

// New wires a server. Nothing touches the network until Run.
func New(optFns ...func(o *Options)) (*Server, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		return nil, errors.New("neurallink: config is required")
	}
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		l, err := newLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	s := &Server{cfg: cfg, logger: logger}
	if err := s.build(opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newLogger(c config.Log) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Format,
		Output:    os.Stdout,
		Component: "neurallink",
	}), nil
}

// scoped tags entries with the component name when the logger supports it.
func (s *Server) scoped(component string) logging.Logger {
	if sl, ok := s.logger.(*logging.StructuredLogger); ok {
		return sl.WithComponent(component)
	}
	return s.logger
}

func (s *Server) build(opts Options) error {
	cfg := s.cfg

	if generated, err := cfg.EnsureToken(); err != nil {
		return err
	} else if generated {
		s.logger.Warn("admin.token.generated", "token", cfg.AdminToken)
	}

	store, err := s.openStore(opts.Store)
	if err != nil {
		return err
	}
	s.store = store

	s.window = conversation.NewWindow(cfg.Window)

	s.rooms, err = s.newRooms()
	if err != nil {
		return err
	}

	s.tracker = activity.NewTracker(func(o *activity.Options) {
		o.MaxMessageLen = cfg.Activity.MaxMessageLen
		o.Cooldown = cfg.Activity.Cooldown
		o.IdleThreshold = cfg.Activity.IdleThreshold
		o.Logger = s.scoped("activity")
	})
	s.sweeper = activity.NewSweeper(s.tracker, func(o *activity.SweeperOptions) {
		o.Interval = cfg.Activity.SweepInterval
		o.Logger = s.scoped("activity")
	})

	mdl := opts.Model
	if mdl == nil {
		mdl, err = selectModel(context.Background(), cfg.Provider)
		if err != nil {
			return err
		}
	}
	if mdl != nil {
		info := mdl.Info()
		s.logger.Info("dispatch.provider.selected", "provider", info.Provider, "model", info.Name)
	} else {
		s.logger.Warn("dispatch.provider.none", "reason", "no provider configured, replies use fallback rules")
	}

	disp := dispatch.New(func(o *dispatch.Options) {
		o.Model = mdl
		o.Tools = tool.NewRegistry(tool.Builtins()...)
		o.Store = s.store
		o.AIName = cfg.AIName
		o.Timeout = cfg.Provider.Timeout
		o.MaxOutput = cfg.Provider.MaxOutput
		o.Logger = s.scoped("dispatch")
	})

	if err := s.newPlugins(); err != nil {
		return err
	}

	// The router and the admin authority share one lock over room, window
	// and activity state.
	var mu sync.Mutex
	s.admin, err = admin.New(cfg.AdminToken, admin.Components{
		Rooms:    s.rooms,
		Window:   s.window,
		Activity: s.tracker,
		Plugins:  s.plugins,
	}, func(o *admin.Options) {
		o.Locker = &mu
		o.Notes = s.store
		o.Logger = s.scoped("admin")
	})
	if err != nil {
		return err
	}

	s.tr = opts.Transport
	if s.tr == nil {
		s.tr = s.newTransport()
	}
	s.closers = append(s.closers, s.tr)

	s.router, err = router.New(s.tr, router.Components{
		Tracker:    s.tracker,
		Rooms:      s.rooms,
		Window:     s.window,
		Dispatcher: disp,
		Plugins:    s.plugins,
		Admin:      s.admin,
	}, func(o *router.Options) {
		o.Topics = router.Topics{
			Input:       cfg.Topics.Input,
			Admin:       cfg.Topics.Admin,
			Output:      cfg.Topics.Output,
			Compat:      cfg.Topics.Compat,
			PassThrough: cfg.Topics.PassThrough,
		}
		o.AIName = cfg.AIName
		o.PublishMaxRunes = cfg.Publish.MaxRunes
		o.Locker = &mu
		o.Store = s.store
		// The broker announces from its connect hook instead.
		o.Announce = cfg.Announce && s.broker == nil
		o.Logger = s.scoped("router")
	})
	if err != nil {
		return err
	}

	if cfg.Health.Port > 0 {
		s.health = health.NewServer(s.router, func(o *health.Options) {
			o.Addr = cfg.Health.Addr()
			o.Logger = s.scoped("health")
		})
	}
	return nil
}

func (s *Server) openStore(override core.PreferenceStore) (core.PreferenceStore, error) {
	if override != nil {
		return override, nil
	}
	switch s.cfg.Memory.Driver {
	case config.MemorySQLite:
		st, err := sqlite.Open(s.cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		s.closers = append(s.closers, st)
		s.logger.Info("memory.opened", "driver", "sqlite", "path", s.cfg.Memory.Path)
		return st, nil
	default:
		return memory.NewInMemoryStore(), nil
	}
}

func (s *Server) newRooms() (*room.Registry, error) {
	ropts := room.Options{
		Rooms:      room.DefaultRooms(),
		Navigation: room.DefaultNavigation(),
		Initial:    s.cfg.Rooms.Initial,
	}
	if s.cfg.Rooms.File != "" {
		ov, err := room.LoadOverrides(s.cfg.Rooms.File)
		if err != nil {
			return nil, err
		}
		if err := ov.Apply(&ropts); err != nil {
			return nil, err
		}
		s.logger.Info("room.overrides.loaded", "file", s.cfg.Rooms.File)
	}
	return room.NewRegistry(s.window, func(o *room.Options) {
		*o = ropts
		o.Logger = s.scoped("room")
	})
}

func (s *Server) newPlugins() error {
	pc := s.cfg.Plugins

	var compiler plugin.Compiler
	if pc.Isolation == "inprocess" {
		compiler = plugin.NewYaegiCompiler(func(o *plugin.YaegiOptions) {
			o.CompileTimeout = pc.Timeout
		})
	} else {
		pcomp, err := plugin.NewProcessCompiler(func(o *plugin.ProcessOptions) {
			o.Isolation = pc.Isolation
			o.DockerImage = pc.DockerImage
			o.Timeout = pc.Timeout
			o.MemoryBytes = pc.MemoryBytes
			o.CPUSeconds = pc.CPUSeconds
			o.Logger = s.scoped("plugin")
		})
		if err != nil {
			return err
		}
		compiler = pcomp
	}

	s.plugins = plugin.NewRegistry(func(o *plugin.Options) {
		o.Compiler = compiler
		o.Timeout = pc.Timeout
		o.Logger = s.scoped("plugin")
	})

	if pc.Dir == "" {
		return nil
	}
	s.loader = plugin.NewLoader(pc.Dir, s.plugins, func(o *plugin.LoaderOptions) {
		o.Logger = s.scoped("plugin")
	})
	loaded, err := s.loader.Sync()
	if err != nil {
		// A broken manifest must not keep the others from loading.
		s.logger.Warn("plugin.loader.sync_failed", "dir", pc.Dir, "error", err.Error())
	}
	s.logger.Info("plugin.loader.synced", "dir", pc.Dir, "plugins", loaded)
	return nil
}

// announce runs on every broker (re)connect.
func (s *Server) announce(ctx context.Context) {
	if s.router == nil {
		return
	}
	if err := s.router.Announce(ctx); err != nil {
		s.logger.Warn("router.announce.failed", "error", err.Error())
	}
}

func (s *Server) newTransport() transport.Transport {
	if s.cfg.Offline {
		s.logger.Warn("transport.offline", "reason", "offline mode, using in-process bus")
		return transport.NewBus(func(o *transport.BusOptions) { o.Logger = s.scoped("transport") })
	}
	mc := s.cfg.MQTT
	s.broker = mqtt.New(func(o *mqtt.Options) {
		o.Broker = mc.URL()
		o.ClientID = mc.ClientID
		o.Username = mc.Username
		o.Password = mc.Password
		if s.cfg.Announce {
			o.OnConnect = s.announce
		}
		o.Logger = s.scoped("transport")
	})
	return s.broker
}

// selectModel builds the provider named by p, or returns nil for "none".
func selectModel(ctx context.Context, p config.Provider) (model.Model, error) {
	switch name := p.Resolve(); name {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderMock:
		return model.NewMockModel("mock", "mock"), nil
	case config.ProviderGroq:
		return openai.NewGroqModel(p.GroqAPIKey, func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
		}), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = p.OpenAIAPIKey
			if p.Model != "" {
				o.Model = p.Model
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = p.AnthropicAPIKey
			if p.Model != "" {
				o.Model = anthropicsdk.Model(p.Model)
			}
		}), nil
	case config.ProviderGemini:
		m, err := gemini.NewModel(ctx, func(o *gemini.Options) {
			o.APIKey = p.GeminiAPIKey
			if p.Model != "" {
				o.Model = p.Model
			}
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Router returns the wired router.
func (s *Server) Router() *router.Router { return s.router }

// Plugins returns the plugin registry.
func (s *Server) Plugins() *plugin.Registry { return s.plugins }

// AdminToken returns the effective admin token, generated when none was
// configured.
func (s *Server) AdminToken() string { return s.cfg.AdminToken }

// Run subscribes the router, connects to the broker and runs the sweeper,
// the health endpoint and the plugin watcher until ctx is canceled or one
// of them fails. The server is closed when Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	g, ctx := errgroup.WithContext(ctx)

	// Subscribe first; the broker transport re-issues subscriptions on
	// connect.
	if err := s.router.Start(ctx); err != nil {
		return err
	}
	if s.broker != nil {
		if err := s.broker.Connect(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("neurallink.started",
		"ai_id", s.cfg.AIName,
		"offline", s.cfg.Offline,
		"room", s.rooms.Current().ID,
		"plugins", s.plugins.Len(),
	)

	g.Go(func() error { return s.sweeper.Run(ctx) })
	if s.health != nil {
		g.Go(func() error { return s.health.Run(ctx) })
	}
	if s.loader != nil && s.cfg.Plugins.Watch {
		g.Go(func() error {
			if err := s.loader.Watch(ctx); err != nil {
				// Hot reload is optional; keep serving without it.
				s.logger.Warn("plugin.loader.watch_stopped", "error", err.Error())
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	s.logger.Info("neurallink.stopped")
	return err
}

// Close releases the transport and the store. It is safe to call more than
// once.
func (s *Server) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
