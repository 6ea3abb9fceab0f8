package testutil

import (
	"encoding/json"

	"github.com/hupe1980/neurallink/core"
)

// EnvelopeBuilder helps construct transport payloads with fluent chaining.
// Example:
//
//	payload := NewEnvelopeBuilder("alice").Msg("labas TERMAI").Bytes()
type EnvelopeBuilder struct {
	env core.Envelope
}

// NewEnvelopeBuilder starts a chat envelope from sender.
func NewEnvelopeBuilder(sender string) *EnvelopeBuilder {
	return &EnvelopeBuilder{env: core.Envelope{Type: core.TypeChat, ID: sender}}
}

// Type sets the message type (chainable).
func (b *EnvelopeBuilder) Type(t core.MessageType) *EnvelopeBuilder { b.env.Type = t; return b }

// Msg sets the text (chainable).
func (b *EnvelopeBuilder) Msg(text string) *EnvelopeBuilder { b.env.Msg = text; return b }

// Room sets the room (chainable).
func (b *EnvelopeBuilder) Room(id string) *EnvelopeBuilder { b.env.Room = id; return b }

// Build returns the envelope value.
func (b *EnvelopeBuilder) Build() core.Envelope { return b.env }

// Bytes returns the JSON payload. It panics on marshal failure, which
// cannot happen for the fields the builder sets.
func (b *EnvelopeBuilder) Bytes() []byte {
	raw, err := json.Marshal(b.env)
	if err != nil {
		panic(err)
	}
	return raw
}

// Decode parses an outbound payload into an envelope, for assertions.
func Decode(payload []byte) core.Envelope {
	return core.DecodeEnvelope(payload)
}
