package transport

import (
	"context"
	"sync"

	"github.com/hupe1980/neurallink/logging"
)

// DefaultBufferSize is the per-subscription queue length of a Bus.
const DefaultBufferSize = 64

// BusOptions configures a Bus.
type BusOptions struct {
	BufferSize int
	Logger     logging.Logger
}

type subscription struct {
	filter  string
	handler Handler
	queue   chan Message
	done    chan struct{}
}

// Bus is an in-process Transport. Each subscription has its own goroutine
// and delivers in publish order. Every publish is also recorded.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	published []Message
	closed    bool
	wg        sync.WaitGroup
	opts      BusOptions
}

// NewBus creates an empty bus.
func NewBus(optFns ...func(o *BusOptions)) *Bus {
	opts := BusOptions{
		BufferSize: DefaultBufferSize,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	return &Bus{opts: opts}
}

// Subscribe implements Transport.
func (b *Bus) Subscribe(filter string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	sub := &subscription{
		filter:  filter,
		handler: handler,
		queue:   make(chan Message, b.opts.BufferSize),
		done:    make(chan struct{}),
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-sub.done:
				return
			case msg := <-sub.queue:
				sub.handler(msg)
			}
		}
	}()

	b.opts.Logger.Debug("transport.bus.subscribed", "filter", filter)
	return nil
}

// Publish implements Transport. It blocks while a matching subscriber's
// queue is full, until ctx is done.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.published = append(b.published, msg)
	var targets []*subscription
	for _, sub := range b.subs {
		if Match(sub.filter, topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.queue <- msg:
		case <-sub.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Published returns the recorded publishes on topic, oldest first. An empty
// topic returns all of them.
func (b *Bus) Published(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []Message{}
	for _, m := range b.published {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets the recorded publishes.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

// Close stops every subscription goroutine and waits for them. Queued but
// undelivered messages are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.done)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

var _ Transport = (*Bus)(nil)
