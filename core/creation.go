package core

import (
	"encoding/json"
	"strings"
)

// CreationKinds lists the creation kinds the clients know how to render.
var CreationKinds = []string{"app", "game", "art", "code", "story", "note"}

// Creation is a structured payload produced in rooms that require JSON
// output. Clients render it instead of a chat bubble.
type Creation struct {
	Kind    string         `json:"kind"`
	Title   string         `json:"title,omitempty"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ParseCreation recognizes a creation payload in provider output. Accepted
// shapes are {"creation": {...}} and a bare object whose kind is one of
// CreationKinds. Markdown code fences around the JSON are tolerated.
func ParseCreation(text string) (*Creation, bool) {
	body := stripFence(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}

	var wrapped struct {
		Creation *Creation `json:"creation"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, false
	}
	c := wrapped.Creation
	if c == nil {
		var bare Creation
		if err := json.Unmarshal([]byte(body), &bare); err != nil {
			return nil, false
		}
		c = &bare
	}
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if !knownKind(c.Kind) {
		return nil, false
	}
	return c, true
}

func knownKind(kind string) bool {
	for _, k := range CreationKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
