package dispatch

import (
	"strings"

	"github.com/hupe1980/neurallink/internal/util"
)

// Rule maps keywords to a canned reply. Keywords match as described by
// util.ContainsKeyword.
type Rule struct {
	Name     string
	Keywords []string
	Reply    string
}

// DefaultReply is used when no rule matches.
const DefaultReply = "I'm sorry, I'm having trouble connecting to my brain right now. Try again in a moment."

// DefaultRules is the built-in fallback table. Order is significant: the
// first matching rule wins. "{ai}" in a reply is replaced by the AI name.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "greeting_lt",
			Keywords: []string{"labas", "sveiki", "sveikas", "sveika", "labukas"},
			Reply:    "Labas! Mano ryšys šiuo metu silpnas, bet aš čia. Pabandyk dar kartą po akimirkos.",
		},
		{
			Name:     "greeting_en",
			Keywords: []string{"hello", "hi", "hey"},
			Reply:    "Hello! The signal is weak right now, but I'm here. Try again in a moment.",
		},
		{
			Name:     "identity",
			Keywords: []string{"kas tu", "who are you"},
			Reply:    "Aš esu {ai}, šio terminalo asistentas. / I'm {ai}, the assistant of this terminal.",
		},
		{
			Name:     "help",
			Keywords: []string{"help", "pagalba", "padėk"},
			Reply:    "Rooms: /living /library /studio /workshop /think /lounge. Mention {ai} to talk to me.",
		},
		{
			Name:     "question",
			Keywords: []string{"?"},
			Reply:    "Geras klausimas! The signal is weak right now. Try again in a moment.",
		},
	}
}

// Fallback picks a canned reply for the last user text.
type Fallback struct {
	rules  []Rule
	aiName string
}

// NewFallback creates a Fallback. Empty rules selects DefaultRules.
func NewFallback(aiName string, rules []Rule) *Fallback {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Fallback{rules: rules, aiName: aiName}
}

// Reply returns a non-empty reply and the name of the rule that matched
// ("default" when none did). It never panics.
func (f *Fallback) Reply(text string) (reply string, rule string) {
	defer func() {
		if r := recover(); r != nil {
			reply, rule = DefaultReply, "default"
		}
	}()

	for _, r := range f.rules {
		if r.Reply != "" && util.MatchFirst(text, r.Keywords) >= 0 {
			return strings.ReplaceAll(r.Reply, "{ai}", f.aiName), r.Name
		}
	}
	return DefaultReply, "default"
}
