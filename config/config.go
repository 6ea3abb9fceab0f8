// Package config loads the server configuration from an optional file,
// NEURALLINK_* environment variables, legacy environment names and command
// line flags, in increasing order of precedence.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. NEURALLINK_LOG_LEVEL.
const EnvPrefix = "NEURALLINK"

// Provider names accepted in provider.name.
const (
	ProviderAuto      = "auto"
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
	ProviderNone      = "none"
)

// Memory drivers accepted in memory.driver.
const (
	MemoryInMemory = "memory"
	MemorySQLite   = "sqlite"
)

// Config is the complete server configuration.
type Config struct {
	AIName     string `mapstructure:"ai_id"`
	AdminToken string `mapstructure:"admin_token"`
	// Offline replaces the broker with an in-process bus.
	Offline bool `mapstructure:"offline"`
	// Announce publishes a join envelope for the AI on start and after every
	// broker reconnect.
	Announce bool `mapstructure:"announce"`

	Log      Log      `mapstructure:"log"`
	MQTT     MQTT     `mapstructure:"mqtt"`
	Topics   Topics   `mapstructure:"topics"`
	Health   Health   `mapstructure:"health"`
	Provider Provider `mapstructure:"provider"`
	Activity Activity `mapstructure:"activity"`
	Window   int      `mapstructure:"window"`
	Publish  Publish  `mapstructure:"publish"`
	Rooms    Rooms    `mapstructure:"rooms"`
	Plugins  Plugins  `mapstructure:"plugins"`
	Memory   Memory   `mapstructure:"memory"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// URL returns the broker URL. A bare host is combined with Port.
func (m MQTT) URL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// Topics names the consumed and produced topics.
type Topics struct {
	Input       string   `mapstructure:"input"`
	Admin       string   `mapstructure:"admin"`
	Output      string   `mapstructure:"output"`
	Compat      string   `mapstructure:"compat"`
	PassThrough []string `mapstructure:"pass_through"`
}

// Health configures the health endpoint. Port 0 disables it.
type Health struct {
	Port int `mapstructure:"port"`
}

// Addr returns the listen address.
func (h Health) Addr() string { return fmt.Sprintf(":%d", h.Port) }

// Provider selects and configures the completion provider.
type Provider struct {
	Name            string        `mapstructure:"name"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxOutput       int           `mapstructure:"max_output"`
	GroqAPIKey      string        `mapstructure:"groq_api_key"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
}

// Resolve returns the effective provider name. "auto" picks the first
// provider with a key, in the order groq, openai, anthropic, gemini, and
// "none" when no key is set.
func (p Provider) Resolve() string {
	if p.Name != ProviderAuto {
		return p.Name
	}
	switch {
	case p.GroqAPIKey != "":
		return ProviderGroq
	case p.OpenAIAPIKey != "":
		return ProviderOpenAI
	case p.AnthropicAPIKey != "":
		return ProviderAnthropic
	case p.GeminiAPIKey != "":
		return ProviderGemini
	default:
		return ProviderNone
	}
}

// Activity configures the rate and idle gates.
type Activity struct {
	MaxMessageLen int           `mapstructure:"max_message_len"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Publish configures outbound sanitizing.
type Publish struct {
	MaxRunes int `mapstructure:"max_runes"`
}

// Rooms configures the room table.
type Rooms struct {
	// File is an optional YAML overrides file.
	File    string `mapstructure:"file"`
	Initial string `mapstructure:"initial"`
}

// Plugins configures the plugin sandbox.
type Plugins struct {
	Dir         string        `mapstructure:"dir"`
	Watch       bool          `mapstructure:"watch"`
	Isolation   string        `mapstructure:"isolation"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MemoryBytes uint64        `mapstructure:"memory_bytes"`
	CPUSeconds  uint64        `mapstructure:"cpu_seconds"`
	DockerImage string        `mapstructure:"docker_image"`
}

// Memory configures the optional preference store.
type Memory struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// legacyEnv maps config keys to the environment names older deployments use.
var legacyEnv = map[string]string{
	"ai_id":                      "AI_USER_ID",
	"admin_token":                "ADMIN_TOKEN",
	"mqtt.broker":                "MQTT_BROKER",
	"mqtt.port":                  "MQTT_PORT",
	"health.port":                "PORT",
	"provider.groq_api_key":      "GROQ_API_KEY",
	"provider.openai_api_key":    "OPENAI_API_KEY",
	"provider.anthropic_api_key": "ANTHROPIC_API_KEY",
	"provider.gemini_api_key":    "GEMINI_API_KEY",
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"offline":     "offline",
	"broker":      "mqtt.broker",
	"provider":    "provider.name",
	"model":       "provider.model",
	"plugins-dir": "plugins.dir",
	"health-port": "health.port",
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ai_id", "TERMAI")
	v.SetDefault("admin_token", "")
	v.SetDefault("offline", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mqtt.broker", "broker.emqx.io")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("topics.input", "termchat/input")
	v.SetDefault("topics.admin", "termchat/admin")
	v.SetDefault("topics.output", "termchat/output")
	v.SetDefault("topics.compat", "termchat/messages")
	v.SetDefault("topics.pass_through", []string{"termchat/signal/", "termchat/tunnel/"})
	v.SetDefault("health.port", 10000)
	v.SetDefault("provider.name", ProviderAuto)
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.max_output", 1000)
	v.SetDefault("announce", true)
	v.SetDefault("provider.groq_api_key", "")
	v.SetDefault("provider.openai_api_key", "")
	v.SetDefault("provider.anthropic_api_key", "")
	v.SetDefault("provider.gemini_api_key", "")
	v.SetDefault("activity.max_message_len", 500)
	v.SetDefault("activity.cooldown", time.Second)
	v.SetDefault("activity.idle_threshold", time.Hour)
	v.SetDefault("activity.sweep_interval", 10*time.Minute)
	v.SetDefault("window", 10)
	v.SetDefault("publish.max_runes", 500)
	v.SetDefault("rooms.file", "")
	v.SetDefault("rooms.initial", "living")
	v.SetDefault("plugins.dir", "")
	v.SetDefault("plugins.watch", true)
	v.SetDefault("plugins.isolation", "inprocess")
	v.SetDefault("plugins.timeout", 5*time.Second)
	v.SetDefault("plugins.memory_bytes", uint64(512<<20))
	v.SetDefault("plugins.cpu_seconds", uint64(2))
	v.SetDefault("plugins.docker_image", "neurallink:latest")
	v.SetDefault("memory.driver", MemoryInMemory)
	v.SetDefault("memory.path", "neurallink.db")
}

// Load reads the configuration. path may be empty, in which case
// ./neurallink.{yaml,toml,json} is used when present. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("neurallink")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AIName) == "" {
		errs = append(errs, errors.New("ai_id must not be empty"))
	}
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("window must be at least 1, got %d", c.Window))
	}
	if c.Activity.MaxMessageLen < 1 {
		errs = append(errs, fmt.Errorf("activity.max_message_len must be positive, got %d", c.Activity.MaxMessageLen))
	}
	if c.Activity.SweepInterval <= 0 {
		errs = append(errs, errors.New("activity.sweep_interval must be positive"))
	}
	if c.Publish.MaxRunes < 1 {
		errs = append(errs, errors.New("publish.max_runes must be positive"))
	}
	if c.Topics.Input == "" || c.Topics.Output == "" {
		errs = append(errs, errors.New("topics.input and topics.output are required"))
	}
	if c.Provider.MaxOutput < 1 {
		errs = append(errs, fmt.Errorf("provider.max_output must be positive, got %d", c.Provider.MaxOutput))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if c.Plugins.Timeout <= 0 {
		errs = append(errs, errors.New("plugins.timeout must be positive"))
	}
	switch c.Provider.Name {
	case ProviderAuto, ProviderGroq, ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderMock, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}
	switch c.Plugins.Isolation {
	case "inprocess", "none", "bwrap", "docker":
	default:
		errs = append(errs, fmt.Errorf("unknown plugin isolation %q", c.Plugins.Isolation))
	}
	switch c.Memory.Driver {
	case MemoryInMemory, MemorySQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown memory driver %q", c.Memory.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EnsureToken fills AdminToken with a generated token when it is empty and
// reports whether it did.
func (c *Config) EnsureToken() (bool, error) {
	if c.AdminToken != "" {
		return false, nil
	}
	token, err := GenerateToken()
	if err != nil {
		return false, err
	}
	c.AdminToken = token
	return true, nil
}

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 8
)

// GenerateToken returns a random 8 character [A-Z0-9] admin token.
func GenerateToken() (string, error) {
	// 252 is the largest multiple of 36 below 256; larger bytes are
	// rejected to keep the distribution uniform.
	const limit = 252

	out := make([]byte, 0, tokenLength)
	buf := make([]byte, 16)
	for len(out) < tokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate admin token: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == tokenLength {
				break
			}
		}
	}
	return string(out), nil
}
