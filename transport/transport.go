package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Message is one delivered payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes delivered messages. Implementations may call it from
// several goroutines at once.
type Handler func(msg Message)

// Transport is a topic based publish/subscribe connection.
type Transport interface {
	// Subscribe registers handler for every topic matching filter.
	Subscribe(filter string, handler Handler) error
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Close releases the connection. Further calls return ErrClosed.
	Close() error
}

// Match reports whether topic matches the MQTT-style filter.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, part := range fl {
		switch {
		case part == "#":
			return i == len(fl)-1
		case i >= len(tl):
			return false
		case part == "+":
			continue
		case part != tl[i]:
			return false
		}
	}
	return len(fl) == len(tl)
}
