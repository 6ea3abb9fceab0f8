package core

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MessageType tags the variant carried by an Envelope.
type MessageType string

const (
	// TypeChat is a regular chat line.
	TypeChat MessageType = "chat"
	// TypeAdmin is an admin command or admin response.
	TypeAdmin MessageType = "admin"
	// TypeNavigation announces a room switch.
	TypeNavigation MessageType = "navigation"
	// TypeCreation carries a structured creation payload.
	TypeCreation MessageType = "creation"
	// TypeSecurity reports an authorization denial.
	TypeSecurity MessageType = "security"
	// TypeJoin announces a participant joining.
	TypeJoin MessageType = "join"
	// TypePlain is the catch-all for payloads that could not be parsed.
	TypePlain MessageType = "plain"
)

// SystemSender is the sender id attributed to unparseable payloads.
const SystemSender = "system"

// maxRawPlain bounds the raw text kept from an unparseable payload.
const maxRawPlain = 2048

func (t MessageType) known() bool {
	switch t {
	case TypeChat, TypeAdmin, TypeNavigation, TypeCreation, TypeSecurity, TypeJoin, TypePlain:
		return true
	default:
		return false
	}
}

// Envelope is the structured record exchanged on every topic. Type selects
// the variant; Creation is only set for TypeCreation and Room for
// TypeNavigation (and optionally chat lines scoped to a room).
type Envelope struct {
	Type     MessageType `json:"type"`
	ID       string      `json:"id"`
	Msg      string      `json:"msg"`
	Room     string      `json:"room,omitempty"`
	Creation *Creation   `json:"creation,omitempty"`
}

// CompatMessage is the simplified shape published on the compatibility topic
// for older clients.
type CompatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// rawEnvelope accepts the field spellings seen from the different clients
// (id/sender/user, msg/text).
type rawEnvelope struct {
	Type     *string   `json:"type"`
	ID       string    `json:"id"`
	Sender   string    `json:"sender"`
	User     string    `json:"user"`
	Msg      *string   `json:"msg"`
	Text     *string   `json:"text"`
	Room     string    `json:"room"`
	Creation *Creation `json:"creation"`
}

// DecodeEnvelope parses a transport payload. It never fails: payloads that
// are not JSON objects, or that carry an unknown type, map to a TypePlain
// envelope from SystemSender holding the raw text.
func DecodeEnvelope(payload []byte) Envelope {
	var raw rawEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return plainEnvelope(payload)
	}

	env := Envelope{ID: firstNonEmpty(raw.ID, raw.Sender, raw.User), Room: raw.Room, Creation: raw.Creation}
	switch {
	case raw.Msg != nil:
		env.Msg = *raw.Msg
	case raw.Text != nil:
		env.Msg = *raw.Text
	}

	if raw.Type == nil {
		// Legacy clients omit the type for plain chat lines.
		if raw.Msg == nil && raw.Text == nil {
			return plainEnvelope(payload)
		}
		env.Type = TypeChat
	} else {
		env.Type = MessageType(strings.ToLower(*raw.Type))
		if !env.Type.known() {
			return plainEnvelope(payload)
		}
	}
	if env.ID == "" {
		env.ID = SystemSender
	}
	return env
}

func plainEnvelope(payload []byte) Envelope {
	text := string(payload)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return Envelope{Type: TypePlain, ID: SystemSender, Msg: TruncateRunes(text, maxRawPlain)}
}

// Encode marshals the envelope after bounding Msg and the creation's title
// and content to maxRunes runes each. A non-positive maxRunes disables the
// bound. The receiver's creation is not modified.
func (e Envelope) Encode(maxRunes int) ([]byte, error) {
	if maxRunes > 0 {
		e.Msg = TruncateRunes(e.Msg, maxRunes)
		if e.Creation != nil {
			c := *e.Creation
			c.Title = TruncateRunes(c.Title, maxRunes)
			c.Content = TruncateRunes(c.Content, maxRunes)
			e.Creation = &c
		}
	}
	return json.Marshal(e)
}

// Compat returns the simplified compatibility shape of the envelope.
func (e Envelope) Compat() CompatMessage {
	return CompatMessage{Sender: e.ID, Text: e.Msg}
}

// TruncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
