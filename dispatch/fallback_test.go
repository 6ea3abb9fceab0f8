package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallback_Rules(t *testing.T) {
	f := NewFallback("TERMAI", nil)

	tests := []struct {
		text string
		rule string
	}{
		{"Labas rytas!", "greeting_lt"},
		{"SVEIKI visi", "greeting_lt"},
		{"hello there", "greeting_en"},
		{"hi", "greeting_en"},
		{"this is thin ice", "default"},
		{"kas tu toks?", "identity"},
		{"Who are you, really", "identity"},
		{"help me", "help"},
		{"what time is it?", "question"},
		{"", "default"},
		{"\xff\xfe", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			reply, rule := f.Reply(tt.text)
			assert.Equal(t, tt.rule, rule)
			assert.NotEmpty(t, reply)
		})
	}
}

func TestFallback_FirstRuleWins(t *testing.T) {
	f := NewFallback("TERMAI", nil)
	// greeting precedes question in table order
	_, rule := f.Reply("labas, kaip sekasi?")
	assert.Equal(t, "greeting_lt", rule)
}

func TestFallback_AIName(t *testing.T) {
	reply, _ := NewFallback("NOVA", nil).Reply("kas tu")
	assert.Contains(t, reply, "NOVA")
	assert.NotContains(t, reply, "{ai}")
}

func TestFallback_CustomRules(t *testing.T) {
	f := NewFallback("X", []Rule{
		{Name: "empty_reply", Keywords: []string{"ping"}},
		{Name: "pong", Keywords: []string{"ping", ""}, Reply: "pong"},
	})
	reply, rule := f.Reply("ping")
	assert.Equal(t, "pong", reply)
	assert.Equal(t, "pong", rule)
}
