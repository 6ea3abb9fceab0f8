package neurallink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/neurallink/config"
	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/internal/testutil"
	"github.com/hupe1980/neurallink/model"
	"github.com/hupe1980/neurallink/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Health.Port = 0
	cfg.Offline = true
	cfg.AdminToken = "ABCD1234"
	return cfg
}

// verifyNoLeaks checks for leaked goroutines after every later cleanup,
// including the server shutdown, has run.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
}

type running struct {
	srv    *Server
	bus    *transport.Bus
	cancel context.CancelFunc
	done   chan error

	// announced holds the output published during startup.
	announced []core.Envelope

	once sync.Once
	err  error
}

func start(t *testing.T, cfg *config.Config, mdl model.Model) *running {
	t.Helper()
	bus := transport.NewBus()
	srv, err := New(func(o *Options) {
		o.Config = cfg
		o.Transport = bus
		o.Model = mdl
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, bus: bus, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Run(ctx) }()
	t.Cleanup(func() { _ = r.stop() })

	// Run subscribes and announces before anything else; wait until the
	// input topic is live and the announcement is out.
	require.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), "termchat/input", testutil.NewEnvelopeBuilder("warmup").Type(core.TypeJoin).Bytes())
		return srv.Router().Snapshot().Received > 0 && (!cfg.Announce || len(bus.Published("termchat/output")) > 0)
	}, 2*time.Second, 10*time.Millisecond)
	r.announced = r.outputs()
	bus.Reset()
	return r
}

// stop cancels Run and returns its error.
func (r *running) stop() error {
	r.once.Do(func() {
		r.cancel()
		select {
		case r.err = <-r.done:
		case <-time.After(2 * time.Second):
			r.err = context.DeadlineExceeded
		}
	})
	return r.err
}

func (r *running) outputs() []core.Envelope {
	var out []core.Envelope
	for _, m := range r.bus.Published("termchat/output") {
		out = append(out, testutil.Decode(m.Payload))
	}
	return out
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestNew_GeneratesAdminToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminToken = ""
	srv, err := New(func(o *Options) {
		o.Config = cfg
		o.Transport = transport.NewBus()
	})
	require.NoError(t, err)
	defer srv.Close()

	assert.Regexp(t, `^[A-Z0-9]{8}$`, srv.AdminToken())
}

func TestNew_RejectsBadRoomOverrides(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  - id: cellar\n    prompt: x\n"), 0o600))
	cfg.Rooms.File = path

	_, err := New(func(o *Options) {
		o.Config = cfg
		o.Transport = transport.NewBus()
	})
	require.ErrorIs(t, err, core.ErrUnknownRoom)
}

func TestRun_ChatRoundTrip(t *testing.T) {
	verifyNoLeaks(t)

	mdl := model.NewMockModel("mock", "mock")
	mdl.AddResponse("jonas: labas TERMAI", "Labas! Kaip sekasi?")
	r := start(t, testConfig(t), mdl)

	require.NoError(t, r.bus.Publish(context.Background(), "termchat/input",
		testutil.NewEnvelopeBuilder("jonas").Msg("labas TERMAI").Bytes()))

	require.Eventually(t, func() bool { return len(r.outputs()) > 0 }, 2*time.Second, 10*time.Millisecond)
	out := r.outputs()[0]
	assert.Equal(t, "TERMAI", out.ID)
	assert.Equal(t, core.TypeChat, out.Type)
	assert.Equal(t, "Labas! Kaip sekasi?", out.Msg)
	assert.Equal(t, 1, mdl.Calls())

	require.NoError(t, r.stop())
}

func TestRun_AnnouncesPresence(t *testing.T) {
	verifyNoLeaks(t)

	r := start(t, testConfig(t), model.NewMockModel("mock", "mock"))
	require.NotEmpty(t, r.announced)
	assert.Equal(t, core.TypeJoin, r.announced[0].Type)
	assert.Equal(t, "TERMAI", r.announced[0].ID)
}

func TestRun_AnnounceDisabled(t *testing.T) {
	verifyNoLeaks(t)

	cfg := testConfig(t)
	cfg.Announce = false
	r := start(t, cfg, model.NewMockModel("mock", "mock"))
	assert.Empty(t, r.announced)
}

func TestRun_AdminRoomSwitch(t *testing.T) {
	verifyNoLeaks(t)

	r := start(t, testConfig(t), model.NewMockModel("mock", "mock"))
	require.NoError(t, r.bus.Publish(context.Background(), "termchat/admin", []byte("ABCD1234 room library")))

	require.Eventually(t, func() bool {
		for _, env := range r.outputs() {
			if env.Type == core.TypeNavigation {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "library", r.srv.Router().Snapshot().Room)
}

func TestRun_WrongAdminToken(t *testing.T) {
	verifyNoLeaks(t)

	r := start(t, testConfig(t), model.NewMockModel("mock", "mock"))
	require.NoError(t, r.bus.Publish(context.Background(), "termchat/admin", []byte("WRONG room library")))

	require.Eventually(t, func() bool { return len(r.outputs()) > 0 }, 2*time.Second, 10*time.Millisecond)
	out := r.outputs()[0]
	assert.Equal(t, core.TypeSecurity, out.Type)
	assert.True(t, strings.Contains(out.Msg, "ACCESS DENIED"))
	assert.Equal(t, "living", r.srv.Router().Snapshot().Room)
}

func TestRun_LoadsPluginDirectory(t *testing.T) {
	verifyNoLeaks(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.yaml"), []byte(`
name: greeter
triggers: [user_join]
source: |
  package main

  func HandleTrigger(trigger string, data map[string]interface{}) (map[string]interface{}, error) {
  	return map[string]interface{}{"action": "send_message", "message": "welcome " + data["user_id"].(string)}, nil
  }
`), 0o600))

	cfg := testConfig(t)
	cfg.Plugins.Dir = dir
	cfg.Plugins.Watch = false
	r := start(t, cfg, nil)
	assert.Equal(t, 1, r.srv.Plugins().Len())

	require.NoError(t, r.bus.Publish(context.Background(), "termchat/input",
		testutil.NewEnvelopeBuilder("ona").Msg("sveiki visi").Bytes()))

	require.Eventually(t, func() bool {
		for _, env := range r.outputs() {
			if env.ID == "plugin:greeter" && env.Msg == "welcome ona" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSelectModel(t *testing.T) {
	m, err := selectModel(context.Background(), config.Provider{Name: config.ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = selectModel(context.Background(), config.Provider{Name: config.ProviderMock})
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Info().Provider)

	m, err = selectModel(context.Background(), config.Provider{Name: config.ProviderAuto, GroqAPIKey: "gsk_test"})
	require.NoError(t, err)
	assert.Equal(t, "groq", m.Info().Provider)

	_, err = selectModel(context.Background(), config.Provider{Name: "llama"})
	require.Error(t, err)
}
