package room

// Room identifiers. The set is fixed at compile time.
const (
	Living   = "living"
	Library  = "library"
	Studio   = "studio"
	Workshop = "workshop"
	Think    = "think"
	Lounge   = "lounge"
)

// Room is a named conversational context.
type Room struct {
	ID           string `json:"id" yaml:"id"`
	Prompt       string `json:"prompt" yaml:"prompt"`
	RequiresJSON bool   `json:"requires_json" yaml:"requires_json"`
}

// NavigationRule maps a keyword to a room id.
type NavigationRule struct {
	Keyword string `yaml:"keyword"`
	Room    string `yaml:"room"`
}

// basePrompt is rendered by the dispatcher; {{.ai_id}} is the configured AI user id.
const basePrompt = "You are {{.ai_id}}, a friendly AI assistant in TermChat LT, a Lithuanian terminal chat room. " +
	"You speak both Lithuanian and English and answer in the language of the user. Keep answers short."

// DefaultRooms returns the built-in room set in display order.
func DefaultRooms() []Room {
	return []Room{
		{ID: Living, Prompt: basePrompt + " You are in the living room: casual, welcoming conversation."},
		{ID: Library, Prompt: basePrompt + " You are in the library: give precise, sourced, educational answers."},
		{ID: Studio, Prompt: basePrompt + " You are in the studio: you create art, stories and small games.", RequiresJSON: true},
		{ID: Workshop, Prompt: basePrompt + " You are in the workshop: you build small web apps and code snippets.", RequiresJSON: true},
		{ID: Think, Prompt: basePrompt + " You are in the think tank: reason step by step before answering."},
		{ID: Lounge, Prompt: basePrompt + " You are in the lounge: relaxed, playful small talk."},
	}
}

// DefaultNavigation returns the built-in keyword table. Order is the
// tie-break contract: the first matching rule wins.
func DefaultNavigation() []NavigationRule {
	return []NavigationRule{
		{Keyword: "eik į svetainę", Room: Living},
		{Keyword: "go to living", Room: Living},
		{Keyword: "/living", Room: Living},
		{Keyword: "eik į biblioteką", Room: Library},
		{Keyword: "go to library", Room: Library},
		{Keyword: "/library", Room: Library},
		{Keyword: "eik į studiją", Room: Studio},
		{Keyword: "go to studio", Room: Studio},
		{Keyword: "/studio", Room: Studio},
		{Keyword: "eik į dirbtuves", Room: Workshop},
		{Keyword: "go to workshop", Room: Workshop},
		{Keyword: "/workshop", Room: Workshop},
		{Keyword: "eik mąstyti", Room: Think},
		{Keyword: "go to think", Room: Think},
		{Keyword: "/think", Room: Think},
		{Keyword: "eik į poilsio kambarį", Room: Lounge},
		{Keyword: "go to lounge", Room: Lounge},
		{Keyword: "/lounge", Room: Lounge},
	}
}

// JSONInstruction is appended to the prompt of rooms flagged RequiresJSON.
const JSONInstruction = "Respond ONLY with a single JSON object of the form " +
	`{"creation":{"kind":"app|game|art|code|story|note","title":"...","content":"..."}}` +
	" and no other text."
