// Package mqtt adapts an MQTT broker connection to transport.Transport.
//
// The client reconnects on its own with a bounded backoff. Subscriptions are
// remembered and re-issued on every (re)connect, so a broker restart does not
// silently drop the router's topics. Messages published while disconnected
// may be lost.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hupe1980/neurallink/core"
	"github.com/hupe1980/neurallink/logging"
	"github.com/hupe1980/neurallink/transport"
)

const (
	// DefaultBroker is the public broker the chat clients use.
	DefaultBroker = "tcp://broker.emqx.io:1883"
	// DefaultMaxReconnectInterval caps the reconnect backoff.
	DefaultMaxReconnectInterval = 30 * time.Second
	// DefaultConnectTimeout bounds one connection attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultQoS is at-least-once delivery. Duplicates of a chat line fall
	// inside the sender's cooldown and are dropped by the activity gate.
	DefaultQoS byte = 1
)

// Options configures a Transport.
type Options struct {
	Broker               string
	ClientID             string
	Username             string
	Password             string
	QoS                  byte
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	// OnConnect runs after every (re)connect, once the subscriptions have
	// been re-issued.
	OnConnect func(ctx context.Context)
	Logger    logging.Logger
}

// Transport is a paho backed transport.Transport.
type Transport struct {
	client paho.Client
	opts   Options

	mu     sync.Mutex
	subs   map[string]transport.Handler
	order  []string
	closed bool
}

// New builds a transport for the configured broker. Call Connect before use.
func New(optFns ...func(o *Options)) *Transport {
	opts := defaultOptions(optFns)
	t := &Transport{opts: opts, subs: make(map[string]transport.Handler)}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectRetry(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetMaxReconnectInterval(opts.MaxReconnectInterval).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			t.opts.Logger.Info("transport.mqtt.reconnecting", "broker", t.opts.Broker)
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	t.client = paho.NewClient(co)
	return t
}

// NewFromClient wraps an existing client. The caller is responsible for
// routing the client's connect callback to OnConnect.
func NewFromClient(client paho.Client, optFns ...func(o *Options)) *Transport {
	return &Transport{client: client, opts: defaultOptions(optFns), subs: make(map[string]transport.Handler)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Broker:               DefaultBroker,
		QoS:                  DefaultQoS,
		ConnectTimeout:       DefaultConnectTimeout,
		MaxReconnectInterval: DefaultMaxReconnectInterval,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ClientID == "" {
		opts.ClientID = "neurallink-" + core.NewID()[:8]
	}
	return opts
}

// Connect opens the connection and waits until it is established or ctx
// is done. With connect retry enabled paho keeps trying in the background.
func (t *Transport) Connect(ctx context.Context) error {
	if err := wait(ctx, t.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.opts.Broker, err)
	}
	return nil
}

// Subscribe implements transport.Transport. The subscription survives
// reconnects.
func (t *Transport) Subscribe(filter string, handler transport.Handler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if _, exists := t.subs[filter]; !exists {
		t.order = append(t.order, filter)
	}
	t.subs[filter] = handler
	t.mu.Unlock()

	if !t.client.IsConnectionOpen() {
		// Issued by onConnect once the connection comes up.
		return nil
	}
	return t.subscribe(context.Background(), filter, handler)
}

func (t *Transport) subscribe(ctx context.Context, filter string, handler transport.Handler) error {
	tok := t.client.Subscribe(filter, t.opts.QoS, func(_ paho.Client, m paho.Message) {
		handler(transport.Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	t.opts.Logger.Debug("transport.mqtt.subscribed", "filter", filter)
	return nil
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	if err := wait(ctx, t.client.Publish(topic, t.opts.QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight work.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.client.Disconnect(250)
	t.opts.Logger.Info("transport.mqtt.closed", "broker", t.opts.Broker)
	return nil
}

// OnConnect re-issues every remembered subscription and then runs the
// OnConnect hook.
func (t *Transport) OnConnect(paho.Client) { t.onConnect(nil) }

func (t *Transport) onConnect(paho.Client) {
	t.mu.Lock()
	filters := append([]string(nil), t.order...)
	handlers := make([]transport.Handler, len(filters))
	for i, f := range filters {
		handlers[i] = t.subs[f]
	}
	t.mu.Unlock()

	t.opts.Logger.Info("transport.mqtt.connected", "broker", t.opts.Broker, "subscriptions", len(filters))

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
	defer cancel()
	for i, f := range filters {
		if err := t.subscribe(ctx, f, handlers[i]); err != nil {
			t.opts.Logger.Error("transport.mqtt.resubscribe.failed", "filter", f, "error", err)
		}
	}
	if t.opts.OnConnect != nil {
		t.opts.OnConnect(ctx)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.opts.Logger.Warn("transport.mqtt.connection.lost", "broker", t.opts.Broker, "error", err)
}

var errTokenTimeout = errors.New("operation did not complete")

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return errors.Join(errTokenTimeout, ctx.Err())
	}
}

var _ transport.Transport = (*Transport)(nil)
