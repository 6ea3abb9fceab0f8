package core

import "time"

// Role attributes a Turn to a conversation participant class.
type Role string

const (
	// RoleSystem marks instructions injected by the orchestrator.
	RoleSystem Role = "system"
	// RoleUser marks text written by a chat participant.
	RoleUser Role = "user"
	// RoleAssistant marks text produced by the completion provider.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is one message in a conversation. Turns are values and are never
// mutated after construction; callers pass them by value.
type Turn struct {
	Role      Role      `json:"role"`
	Speaker   string    `json:"speaker,omitempty"` // only set for user turns
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserTurn creates a user turn spoken by speaker.
func NewUserTurn(speaker, text string, at time.Time) Turn {
	return Turn{Role: RoleUser, Speaker: speaker, Text: text, Timestamp: at}
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleAssistant, Text: text, Timestamp: at}
}

// NewSystemTurn creates a system turn.
func NewSystemTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleSystem, Text: text, Timestamp: at}
}

// Content converts the turn into provider neutral content. User turns carry
// the speaker as a "speaker: text" prefix so the provider can tell
// participants of a shared room apart.
func (t Turn) Content() Content {
	text := t.Text
	if t.Role == RoleUser && t.Speaker != "" {
		text = t.Speaker + ": " + t.Text
	}
	return Content{Role: string(t.Role), Parts: []Part{TextPart{Text: text}}}
}
